package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/voxpaylabs/voxpay-core/internal/ledger"
	"github.com/voxpaylabs/voxpay-core/internal/protocol"
	"github.com/voxpaylabs/voxpay-core/internal/tools"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedResponder struct {
	outputs  []string
	errs     []error
	calls    int
	received [][]protocol.ChatMessage
}

func (s *scriptedResponder) Complete(_ context.Context, messages []protocol.ChatMessage) (string, error) {
	s.received = append(s.received, messages)
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.outputs) {
		return s.outputs[i], nil
	}
	return "", errors.New("no scripted output")
}

type stubLedger struct {
	user     ledger.User
	expenses []ledger.Expense
	err      error
}

func (s *stubLedger) GetCurrentUser(context.Context) (ledger.User, error) {
	return s.user, s.err
}

func (s *stubLedger) GetExpenses(context.Context) ([]ledger.Expense, error) {
	return s.expenses, s.err
}

type stubPayments struct {
	result json.RawMessage
}

func (s *stubPayments) CreatePaymentLink(context.Context, string, int64, string) (json.RawMessage, error) {
	return s.result, nil
}

func newRegistry(l tools.Ledger, p tools.PaymentLinks) *tools.Registry {
	return tools.NewRegistry(l, p, 15, newLogger())
}

func TestRespondDirectAnswer(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{"Hello! How can I help you today?"}}
	r := NewReasoner(resp, newRegistry(&stubLedger{}, &stubPayments{}), newLogger())

	text, tool := r.Respond(context.Background(), "hello", "en-IN")
	if text != "Hello! How can I help you today?" {
		t.Fatalf("unexpected reply %q", text)
	}
	if tool != "" {
		t.Fatalf("expected no tool, got %q", tool)
	}
	if resp.calls != 1 {
		t.Fatalf("expected single pass, got %d calls", resp.calls)
	}
}

func TestRespondToolCall(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{
		`{"tool_name":"get_current_user","parameters":{}}`,
		"You are calling as Alice Roy.",
	}}
	reg := newRegistry(&stubLedger{user: ledger.User{FirstName: "Alice", LastName: "Roy", Email: "a@b.c"}}, &stubPayments{})
	r := NewReasoner(resp, reg, newLogger())

	text, tool := r.Respond(context.Background(), "who am I", "en-IN")
	if text != "You are calling as Alice Roy." {
		t.Fatalf("unexpected reply %q", text)
	}
	if tool != "get_current_user" {
		t.Fatalf("expected tool name, got %q", tool)
	}
	if resp.calls != 2 {
		t.Fatalf("expected two passes, got %d", resp.calls)
	}
	narration := resp.received[1]
	if len(narration) != 2 || narration[0].Role != protocol.RoleSystem {
		t.Fatalf("unexpected narration messages: %+v", narration)
	}
	if !strings.Contains(narration[1].Content, "Alice") {
		t.Fatalf("tool payload missing from narration input: %q", narration[1].Content)
	}
}

func TestRespondUnknownToolNarratesError(t *testing.T) {
	resp := &scriptedResponder{outputs: []string{
		`{"tool_name":"order_pizza","parameters":{}}`,
		"Sorry, I cannot do that on this line.",
	}}
	r := NewReasoner(resp, newRegistry(&stubLedger{}, &stubPayments{}), newLogger())

	text, tool := r.Respond(context.Background(), "order a pizza", "en-IN")
	if text != "Sorry, I cannot do that on this line." {
		t.Fatalf("unexpected reply %q", text)
	}
	if tool != "order_pizza" {
		t.Fatalf("expected tool name recorded, got %q", tool)
	}
	if !strings.Contains(resp.received[1][1].Content, tools.CodeUnknownTool) {
		t.Fatalf("expected error payload in narration input: %q", resp.received[1][1].Content)
	}
}

func TestRespondRoutingFailureDegradesToApology(t *testing.T) {
	resp := &scriptedResponder{errs: []error{errors.New("connection refused")}}
	r := NewReasoner(resp, newRegistry(&stubLedger{}, &stubPayments{}), newLogger())

	text, tool := r.Respond(context.Background(), "pay bob", "en-IN")
	if tool != "" {
		t.Fatalf("expected no tool, got %q", tool)
	}
	if text != apologyFor("en-IN") {
		t.Fatalf("expected apology, got %q", text)
	}
}

func TestRespondNarrationFailureDegradesToApology(t *testing.T) {
	resp := &scriptedResponder{
		outputs: []string{`{"tool_name":"get_expenses","parameters":{}}`, ""},
		errs:    []error{nil, errors.New("timeout")},
	}
	r := NewReasoner(resp, newRegistry(&stubLedger{}, &stubPayments{}), newLogger())

	text, tool := r.Respond(context.Background(), "what are my expenses", "hi-IN")
	if tool != "get_expenses" {
		t.Fatalf("expected tool name, got %q", tool)
	}
	if text != apologyFor("hi-IN") {
		t.Fatalf("expected hindi apology, got %q", text)
	}
}

func TestApologyLanguageSelection(t *testing.T) {
	if apologyFor("hi-IN") == apologyFor("en-IN") {
		t.Fatal("expected language-specific apologies")
	}
	if apologyFor("") != apologyFor("en-IN") {
		t.Fatal("expected english default")
	}
}
