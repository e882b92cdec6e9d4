package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/voxpaylabs/voxpay-core/internal/ledger"
)

// Call is the structured tool-call object the reasoning stage may emit in
// place of a natural-language reply.
type Call struct {
	Name       string            `json:"tool_name"`
	Parameters map[string]string `json:"parameters"`
}

// ParseCall attempts to read raw model output as a structured tool call.
// Anything that does not parse, or parses without a tool name, is treated as
// a conversational answer by the caller.
func ParseCall(raw string) (Call, bool) {
	var call Call
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &call); err != nil {
		return Call{}, false
	}
	if strings.TrimSpace(call.Name) == "" {
		return Call{}, false
	}
	return call, true
}

const (
	CodeUnknownTool       = "unknown_tool"
	CodeMissingParameter  = "missing_parameter"
	CodeNoRecipientEmail  = "no_recipient_email"
	CodeDownstreamFailure = "downstream_failure"
)

// Error is a tool failure. It is never surfaced raw to the caller; the
// reasoning stage narrates its payload instead.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool error %s: %s", e.Code, e.Message)
}

// Payload serializes the error for the narration pass.
func (e *Error) Payload() json.RawMessage {
	data, err := json.Marshal(map[string]*Error{"error": e})
	if err != nil {
		return json.RawMessage(`{"error":{"code":"downstream_failure","message":"internal error"}}`)
	}
	return data
}

// Ledger is the slice of the expense service the tools need.
type Ledger interface {
	GetCurrentUser(ctx context.Context) (ledger.User, error)
	GetExpenses(ctx context.Context) ([]ledger.Expense, error)
}

// PaymentLinks creates payment links for outstanding balances.
type PaymentLinks interface {
	CreatePaymentLink(ctx context.Context, customerEmail string, amountMinor int64, customerName string) (json.RawMessage, error)
}

// Definition describes a registered tool for the routing prompt.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]string
}

// Registry resolves tool calls against the fixed set of financial
// operations. Each dispatch is a single fire-and-interpret operation; results
// are never cached or retried.
type Registry struct {
	ledger       Ledger
	payments     PaymentLinks
	summaryLimit int
	log          *slog.Logger
}

func NewRegistry(ledgerClient Ledger, payments PaymentLinks, summaryLimit int, log *slog.Logger) *Registry {
	if summaryLimit <= 0 {
		summaryLimit = 15
	}
	return &Registry{
		ledger:       ledgerClient,
		payments:     payments,
		summaryLimit: summaryLimit,
		log:          log.With(slog.String("component", "tools")),
	}
}

// Definitions lists the registered tools for prompt construction.
func (r *Registry) Definitions() []Definition {
	return []Definition{
		{
			Name:        "get_current_user",
			Description: "Look up the identity of the person calling.",
			Parameters:  map[string]string{},
		},
		{
			Name:        "get_expenses",
			Description: "List the caller's recent expenses.",
			Parameters:  map[string]string{},
		},
		{
			Name:        "initiate_payment",
			Description: "Pay back an outstanding balance owed to another person.",
			Parameters:  map[string]string{"recipient_name": "Name of the person to pay, as spoken by the caller."},
		},
	}
}

// Dispatch runs one tool call and returns its result payload. All failures
// come back as *Error so the caller can narrate them.
func (r *Registry) Dispatch(ctx context.Context, call Call) (json.RawMessage, error) {
	switch call.Name {
	case "get_current_user":
		return r.getCurrentUser(ctx)
	case "get_expenses":
		return r.getExpenses(ctx)
	case "initiate_payment":
		return r.initiatePayment(ctx, call.Parameters)
	default:
		return nil, &Error{Code: CodeUnknownTool, Message: fmt.Sprintf("no tool named %q", call.Name)}
	}
}

func (r *Registry) getCurrentUser(ctx context.Context) (json.RawMessage, error) {
	user, err := r.ledger.GetCurrentUser(ctx)
	if err != nil {
		return nil, &Error{Code: CodeDownstreamFailure, Message: fmt.Sprintf("identity lookup failed: %v", err)}
	}
	data, err := json.Marshal(map[string]ledger.User{"user": user})
	if err != nil {
		return nil, &Error{Code: CodeDownstreamFailure, Message: err.Error()}
	}
	return data, nil
}

// expenseSummary keeps the reasoning context small; everything the model does
// not need for narration is discarded.
type expenseSummary struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Date        string  `json:"date"`
	PaidBy      string  `json:"paid_by"`
	PaidByEmail string  `json:"paid_by_email,omitempty"`
	PaidTo      string  `json:"paid_to"`
	PaidToEmail string  `json:"paid_to_email,omitempty"`
	Settled     bool    `json:"settled"`
}

func (r *Registry) getExpenses(ctx context.Context) (json.RawMessage, error) {
	expenses, err := r.ledger.GetExpenses(ctx)
	if err != nil {
		return nil, &Error{Code: CodeDownstreamFailure, Message: fmt.Sprintf("expense lookup failed: %v", err)}
	}
	if len(expenses) > r.summaryLimit {
		expenses = expenses[:r.summaryLimit]
	}
	summaries := make([]expenseSummary, 0, len(expenses))
	for _, e := range expenses {
		summaries = append(summaries, expenseSummary{
			Description: e.Description,
			Amount:      e.Amount,
			Currency:    e.Currency,
			Date:        e.Date,
			PaidBy:      e.Payer.Name,
			PaidByEmail: e.Payer.Email,
			PaidTo:      e.Payee.Name,
			PaidToEmail: e.Payee.Email,
			Settled:     e.Settled,
		})
	}
	data, err := json.Marshal(map[string]any{"expenses": summaries})
	if err != nil {
		return nil, &Error{Code: CodeDownstreamFailure, Message: err.Error()}
	}
	return data, nil
}

func (r *Registry) initiatePayment(ctx context.Context, params map[string]string) (json.RawMessage, error) {
	recipient := strings.TrimSpace(params["recipient_name"])
	if recipient == "" {
		return nil, &Error{Code: CodeMissingParameter, Message: "initiate_payment requires recipient_name"}
	}

	user, err := r.ledger.GetCurrentUser(ctx)
	if err != nil {
		return nil, &Error{Code: CodeDownstreamFailure, Message: fmt.Sprintf("identity lookup failed: %v", err)}
	}
	expenses, err := r.ledger.GetExpenses(ctx)
	if err != nil {
		return nil, &Error{Code: CodeDownstreamFailure, Message: fmt.Sprintf("expense lookup failed: %v", err)}
	}

	balance := ComputeNetBalance(user, recipient, expenses)
	if balance.Net <= 0 {
		detail := fmt.Sprintf("no outstanding balance owed to %s", recipient)
		if balance.Net < 0 {
			detail = fmt.Sprintf("%s owes the caller %.2f, nothing to pay", recipient, -balance.Net)
		}
		data, _ := json.Marshal(map[string]any{
			"status":      "no_outstanding_balance",
			"net_balance": balance.Net,
			"detail":      detail,
		})
		return data, nil
	}
	if balance.Email == "" {
		return nil, &Error{
			Code:    CodeNoRecipientEmail,
			Message: fmt.Sprintf("an outstanding balance of %.2f exists but no email is on file for %s; the payment cannot be sent", balance.Net, recipient),
		}
	}

	amountMinor := int64(math.Round(balance.Net * 100))
	name := balance.Name
	if name == "" {
		name = recipient
	}
	result, err := r.payments.CreatePaymentLink(ctx, balance.Email, amountMinor, name)
	if err != nil {
		return nil, &Error{Code: CodeDownstreamFailure, Message: fmt.Sprintf("payment link creation failed: %v", err)}
	}
	return result, nil
}
