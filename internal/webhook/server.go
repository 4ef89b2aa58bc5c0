package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/paygate-bot/internal/cryptocloud"
	"github.com/suspectuso/paygate-bot/internal/payment"
)

const maxBodyBytes = 1 << 20

// telegramSecretHeader carries the secret_token registered with setWebhook
const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Settler applies a payment provider notification
type Settler interface {
	Settle(ctx context.Context, orderID, status string, amount decimal.Decimal) (payment.Result, error)
}

// Server handles incoming HTTP callbacks: CryptoCloud postbacks and, in
// webhook mode, Telegram updates.
type Server struct {
	settler        Settler
	telegram       http.Handler
	telegramSecret []byte
	secret         []byte
	log            *slog.Logger

	server *http.Server
}

// NewServer creates a new webhook server. A nil telegram handler leaves the
// Telegram route unregistered. telegramSecret is matched against the
// X-Telegram-Bot-Api-Secret-Token header of every update; postbackSecret
// verifies CryptoCloud postback tokens. An empty secret disables its check.
func NewServer(settler Settler, telegram http.Handler, telegramSecret, postbackSecret string, log *slog.Logger) *Server {
	return &Server{
		settler:        settler,
		telegram:       telegram,
		telegramSecret: []byte(telegramSecret),
		secret:         []byte(postbackSecret),
		log:            log,
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/cryptocloud", s.handlePostback)
	if s.telegram != nil {
		mux.Handle("/webhook/telegram", s.requireTelegramSecret(s.telegram))
	}
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start starts the webhook server
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting webhook server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) requireTelegramSecret(next http.Handler) http.Handler {
	if len(s.telegramSecret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(telegramSecretHeader))
		if subtle.ConstantTimeCompare(got, s.telegramSecret) != 1 {
			s.log.Warn("telegram update rejected: bad secret token", "remote", r.RemoteAddr)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	pb, err := decodePostback(r)
	if err != nil {
		s.log.Warn("invalid postback payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if len(s.secret) > 0 {
		if err := s.verifyToken(pb.Token); err != nil {
			s.log.Warn("postback token rejected", "order_id", pb.OrderID, "error", err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	res, err := s.settler.Settle(r.Context(), pb.OrderID, pb.Status, pb.PaidAmount())
	if err != nil {
		// the provider redelivers on 5xx
		s.log.Error("settle payment", "order_id", pb.OrderID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s.log.Debug("postback processed",
		"order_id", pb.OrderID,
		"status", pb.Status,
		"settled", res.Outcome == payment.Settled,
		"reason", res.Reason,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

// decodePostback reads a JSON or form-encoded notification
func decodePostback(r *http.Request) (cryptocloud.Postback, error) {
	var pb cryptocloud.Postback

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&pb); err != nil {
			return pb, fmt.Errorf("decode json: %w", err)
		}
		return pb, nil
	}

	if err := r.ParseForm(); err != nil {
		return pb, fmt.Errorf("parse form: %w", err)
	}

	pb = cryptocloud.Postback{
		Status:       r.PostForm.Get("status"),
		InvoiceID:    r.PostForm.Get("invoice_id"),
		OrderID:      r.PostForm.Get("order_id"),
		Amount:       json.Number(r.PostForm.Get("amount")),
		AmountCrypto: json.Number(r.PostForm.Get("amount_crypto")),
		Currency:     r.PostForm.Get("currency"),
		Token:        r.PostForm.Get("token"),
	}
	return pb, nil
}

// verifyToken checks the HS256 token the provider signs each postback with
func (s *Server) verifyToken(token string) error {
	if token == "" {
		return errors.New("missing token")
	}

	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err
}
