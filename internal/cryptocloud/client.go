package cryptocloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HostedPayURL is the pay page used when no API key is configured
const HostedPayURL = "https://pay.cryptocloud.plus/pay/"

// Client is a CryptoCloud HTTP client
type Client struct {
	baseURL    string
	apiKey     string
	shopID     string
	currency   string
	httpClient *http.Client
}

// NewClient creates a new CryptoCloud client
func NewClient(baseURL, apiKey, shopID string) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		shopID:   shopID,
		currency: "USD",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// CreateInvoice creates a checkout invoice for orderID.
// Without an API key it returns the hosted pay link for the order.
func (c *Client) CreateInvoice(ctx context.Context, amount decimal.Decimal, orderID string) (*Invoice, error) {
	if c.apiKey == "" {
		return &Invoice{Link: HostedPayURL + orderID, OrderID: orderID}, nil
	}

	body := createInvoiceRequest{
		ShopID:   c.shopID,
		Amount:   amount,
		Currency: c.currency,
		OrderID:  orderID,
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/invoice/create", body)
	if err != nil {
		return nil, err
	}

	var resp createInvoiceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if resp.Status != StatusSuccess || resp.Result.Link == "" {
		return nil, fmt.Errorf("create invoice: status %q", resp.Status)
	}

	resp.Result.OrderID = orderID
	return &resp.Result, nil
}
