package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxpaylabs/voxpay-core/internal/config"
)

// PaymentClient talks to the external payment-link service.
type PaymentClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	log     *slog.Logger
}

func NewPaymentClient(cfg config.PaymentConfig, log *slog.Logger) *PaymentClient {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaymentClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: timeout},
		log:     log.With(slog.String("component", "payment")),
	}
}

type paymentLinkRequest struct {
	CustomerEmail string `json:"customer_email"`
	LinkAmount    int64  `json:"link_amount"`
	CustomerName  string `json:"customer_name"`
}

// CreatePaymentLink requests a payment link for the given recipient. The
// amount is in minor currency units. The provider payload is returned raw
// for the reasoning stage to narrate.
func (c *PaymentClient) CreatePaymentLink(ctx context.Context, customerEmail string, amountMinor int64, customerName string) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("payment service base url is not configured")
	}
	body, err := json.Marshal(paymentLinkRequest{
		CustomerEmail: customerEmail,
		LinkAmount:    amountMinor,
		CustomerName:  customerName,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payment link request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/createPaymentLink", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build payment link request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read payment link response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payment link service returned status %s", resp.Status)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payment link service returned malformed payload")
	}
	return json.RawMessage(raw), nil
}
