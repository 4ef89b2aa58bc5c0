package cryptocloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCreateInvoiceWithoutKey(t *testing.T) {
	c := NewClient("https://api.example", "", "")

	inv, err := c.CreateInvoice(context.Background(), decimal.NewFromInt(1), "1_abc")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.Link != HostedPayURL+"1_abc" {
		t.Fatalf("unexpected link %q", inv.Link)
	}
}

func TestCreateInvoice(t *testing.T) {
	var got createInvoiceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoice/create" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Token key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"status":"success","result":{"uuid":"INV-1","link":"https://pay.example/INV-1"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "key", "shop")
	inv, err := c.CreateInvoice(context.Background(), decimal.RequireFromString("1.00"), "5_x")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.UUID != "INV-1" || inv.Link != "https://pay.example/INV-1" || inv.OrderID != "5_x" {
		t.Fatalf("unexpected invoice %+v", inv)
	}
	if got.ShopID != "shop" || got.OrderID != "5_x" || !got.Amount.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestCreateInvoiceAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status":"error"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad", "shop")
	if _, err := c.CreateInvoice(context.Background(), decimal.NewFromInt(1), "1"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPostbackPaidAmount(t *testing.T) {
	tests := []struct {
		p    Postback
		want string
	}{
		{Postback{Amount: "1.00"}, "1"},
		{Postback{AmountCrypto: "2.5"}, "2.5"},
		{Postback{Amount: "oops", AmountCrypto: "3"}, "3"},
		{Postback{}, "0"},
	}
	for _, tt := range tests {
		if got := tt.p.PaidAmount(); !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Fatalf("PaidAmount(%+v) = %s, want %s", tt.p, got, tt.want)
		}
	}
}
