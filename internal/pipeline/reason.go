package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxpaylabs/voxpay-core/internal/protocol"
	"github.com/voxpaylabs/voxpay-core/internal/tools"
)

// Responder generates text from a chat conversation.
type Responder interface {
	Complete(ctx context.Context, messages []protocol.ChatMessage) (string, error)
}

// Reasoner runs the two-pass conversation protocol for one turn: a routing
// pass that may emit a tool call, an optional tool dispatch, and a narration
// pass that turns the tool result into spoken language. Provider failures
// never escape; they degrade to a fixed apology so the call continues.
type Reasoner struct {
	responder Responder
	registry  *tools.Registry
	log       *slog.Logger
}

func NewReasoner(responder Responder, registry *tools.Registry, log *slog.Logger) *Reasoner {
	return &Reasoner{
		responder: responder,
		registry:  registry,
		log:       log.With(slog.String("component", "reasoner")),
	}
}

// Respond produces the final reply text for a transcript. The returned tool
// name is empty when the model answered directly.
func (r *Reasoner) Respond(ctx context.Context, transcript, language string) (string, string) {
	routed, err := r.responder.Complete(ctx, []protocol.ChatMessage{
		{Role: protocol.RoleSystem, Content: r.routingPrompt()},
		{Role: protocol.RoleUser, Content: transcript},
	})
	if err != nil {
		r.log.Warn("routing pass failed", slogError(err))
		return apologyFor(language), ""
	}

	call, ok := tools.ParseCall(routed)
	if !ok {
		// Not a tool call: the raw output is the answer.
		return routed, ""
	}

	payload, err := r.registry.Dispatch(ctx, call)
	if err != nil {
		var te *tools.Error
		if !errors.As(err, &te) {
			te = &tools.Error{Code: tools.CodeDownstreamFailure, Message: err.Error()}
		}
		r.log.Warn("tool dispatch failed",
			slog.String("tool", call.Name),
			slog.String("code", te.Code),
			slogError(te))
		payload = te.Payload()
	}

	narrated, err := r.responder.Complete(ctx, []protocol.ChatMessage{
		{Role: protocol.RoleSystem, Content: narrationPrompt(language)},
		{Role: protocol.RoleUser, Content: fmt.Sprintf("The caller said: %q\nThe %s operation returned: %s\nAnswer the caller.", transcript, call.Name, payload)},
	})
	if err != nil {
		r.log.Warn("narration pass failed", slog.String("tool", call.Name), slogError(err))
		return apologyFor(language), call.Name
	}
	return narrated, call.Name
}

func (r *Reasoner) routingPrompt() string {
	var b strings.Builder
	b.WriteString("You are a voice assistant for payments and shared expenses, speaking on a phone call.\n")
	b.WriteString("You can perform these operations:\n")
	for _, def := range r.registry.Definitions() {
		b.WriteString("- ")
		b.WriteString(def.Name)
		b.WriteString(": ")
		b.WriteString(def.Description)
		if len(def.Parameters) > 0 {
			b.WriteString(" Parameters:")
			for name, desc := range def.Parameters {
				fmt.Fprintf(&b, " %s (%s)", name, desc)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("If the caller's request needs one of these operations, reply with ONLY a JSON object of the form ")
	b.WriteString(`{"tool_name": "<name>", "parameters": {"<key>": "<value>"}} and nothing else.`)
	b.WriteString("\nOtherwise reply conversationally in the caller's language, in one or two short sentences.")
	return b.String()
}

func narrationPrompt(language string) string {
	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = "en-IN"
	}
	return fmt.Sprintf("You are a voice assistant on a phone call. Answer in the language %s as one short plain paragraph. "+
		"Never read out links or URLs, never use markdown, and avoid technical jargon. "+
		"If the result describes an error, apologize briefly and tell the caller what they can do.", lang)
}

// apologyFor returns the fixed fallback line for a detected language tag.
func apologyFor(language string) string {
	switch strings.ToLower(strings.SplitN(language, "-", 2)[0]) {
	case "hi":
		return "माफ़ कीजिए, अभी जवाब देने में दिक्कत हो रही है। कृपया दोबारा कोशिश करें।"
	case "ta":
		return "மன்னிக்கவும், இப்போது பதிலளிக்க முடியவில்லை. தயவுசெய்து மீண்டும் முயற்சிக்கவும்."
	default:
		return "I'm sorry, I had trouble generating a response. Please try again."
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
