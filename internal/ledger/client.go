package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxpaylabs/voxpay-core/internal/config"
)

// User is the authenticated ledger identity of the caller.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// FullName joins the name parts, tolerating a missing last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Participant is one side of an expense.
type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Expense is a single ledger record, fetched fresh per tool invocation.
type Expense struct {
	ID          int64       `json:"id"`
	Description string      `json:"description"`
	Amount      float64     `json:"amount"`
	Currency    string      `json:"currency_code"`
	Date        string      `json:"date"`
	Settled     bool        `json:"settled"`
	Payer       Participant `json:"paid_by"`
	Payee       Participant `json:"paid_to"`
}

// Client talks to the external expense ledger service. The service is the
// source of truth; nothing is cached locally.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	log     *slog.Logger
}

func NewClient(cfg config.LedgerConfig, log *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpc:   &http.Client{Timeout: timeout},
		log:     log.With(slog.String("component", "ledger")),
	}
}

type currentUserResponse struct {
	User *User `json:"user"`
}

// GetCurrentUser fetches the caller's identity.
func (c *Client) GetCurrentUser(ctx context.Context) (User, error) {
	var resp currentUserResponse
	if err := c.post(ctx, "/getCurrentUser", nil, &resp); err != nil {
		return User{}, err
	}
	if resp.User == nil {
		return User{}, fmt.Errorf("ledger getCurrentUser: missing user in response")
	}
	if resp.User.FullName() == "" {
		return User{}, fmt.Errorf("ledger getCurrentUser: user has no name")
	}
	return *resp.User, nil
}

type expensesResponse struct {
	Expenses []Expense `json:"expenses"`
}

// GetExpenses fetches recent expense records, most recent first.
func (c *Client) GetExpenses(ctx context.Context) ([]Expense, error) {
	var resp expensesResponse
	if err := c.post(ctx, "/getExpenses", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Expenses, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("ledger service base url is not configured")
	}
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("encode ledger request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ledger %s returned status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ledger %s response: %w", path, err)
	}
	return nil
}
