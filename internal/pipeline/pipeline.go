package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxpaylabs/voxpay-core/internal/codec"
	"github.com/voxpaylabs/voxpay-core/internal/protocol"
)

// Transcriber converts container audio into text plus a detected language.
type Transcriber interface {
	Transcribe(ctx context.Context, wavBytes []byte) (text, language string, err error)
}

// Synthesizer converts text into one or more container audio segments.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([][]byte, error)
}

// AuditSink records per-turn artifacts. Append failures are diagnostic only
// and must never abort a turn.
type AuditSink interface {
	AppendTurnEvent(ctx context.Context, sessionID, turnID, stage string, payload []byte) error
}

// EventSink broadcasts turn milestones for external consumers.
type EventSink interface {
	PublishTranscript(t protocol.TurnTranscript) error
	PublishResponse(r protocol.TurnResponse) error
}

// Pipeline runs one buffered audio turn end to end: container framing,
// transcription, reasoning, synthesis and re-encoding for the transport.
// Every stage fails soft; a failed stage ends the turn silently without
// touching the session.
type Pipeline struct {
	codec    *codec.Adapter
	stt      Transcriber
	reasoner *Reasoner
	tts      Synthesizer
	audit    AuditSink
	events   EventSink
	log      *slog.Logger
}

func New(adapter *codec.Adapter, stt Transcriber, reasoner *Reasoner, tts Synthesizer, audit AuditSink, events EventSink, log *slog.Logger) *Pipeline {
	return &Pipeline{
		codec:    adapter,
		stt:      stt,
		reasoner: reasoner,
		tts:      tts,
		audit:    audit,
		events:   events,
		log:      log.With(slog.String("component", "pipeline")),
	}
}

// RunTurn processes one turn of buffered companded audio and returns the
// companded reply bytes. ok is false when the turn ended silently.
func (p *Pipeline) RunTurn(ctx context.Context, sessionID string, mulaw []byte) ([]byte, bool) {
	turnID := uuid.NewString()
	log := p.log.With(slog.String("session_id", sessionID), slog.String("turn_id", turnID))
	p.record(ctx, sessionID, turnID, "audio.received", jsonPayload(map[string]any{"bytes": len(mulaw)}))

	container, err := p.codec.EncodeTelephonyContainer(mulaw)
	if err != nil {
		log.Warn("failed to frame inbound audio", slogError(err))
		p.record(ctx, sessionID, turnID, "codec.error", []byte(err.Error()))
		return nil, false
	}

	text, language, err := p.stt.Transcribe(ctx, container)
	if err != nil {
		log.Warn("transcription failed", slogError(err))
		p.record(ctx, sessionID, turnID, "transcribe.error", []byte(err.Error()))
		return nil, false
	}
	if text == "" {
		log.Info("empty transcript, ending turn")
		return nil, false
	}
	log.Info("turn transcribed", slog.String("language", language), slog.Int("chars", len(text)))
	p.record(ctx, sessionID, turnID, "transcript", jsonPayload(map[string]any{"text": text, "language": language}))
	p.publishTranscript(sessionID, turnID, text, language)

	reply, toolName := p.reasoner.Respond(ctx, text, language)
	if reply == "" {
		return nil, false
	}
	p.record(ctx, sessionID, turnID, "response", jsonPayload(map[string]any{"text": reply, "tool": toolName}))
	p.publishResponse(sessionID, turnID, reply, toolName)

	segments, err := p.tts.Synthesize(ctx, reply, language)
	if err != nil {
		log.Warn("synthesis failed", slogError(err))
		p.record(ctx, sessionID, turnID, "synthesize.error", []byte(err.Error()))
		return nil, false
	}
	merged, err := p.codec.MergeContainers(segments)
	if err != nil {
		log.Warn("failed to merge synthesis segments", slogError(err))
		p.record(ctx, sessionID, turnID, "codec.error", []byte(err.Error()))
		return nil, false
	}
	out, err := p.codec.DecodeToCompanded(merged)
	if err != nil {
		log.Warn("failed to re-encode reply audio", slogError(err))
		p.record(ctx, sessionID, turnID, "codec.error", []byte(err.Error()))
		return nil, false
	}

	p.record(ctx, sessionID, turnID, "audio.sent", jsonPayload(map[string]any{"bytes": len(out)}))
	return out, true
}

// TranscribeResidual handles the best-effort final turn flushed at session
// close. The result is only logged and recorded; the transport is gone, so
// nothing is spoken back.
func (p *Pipeline) TranscribeResidual(ctx context.Context, sessionID string, mulaw []byte) (string, bool) {
	turnID := uuid.NewString()
	container, err := p.codec.EncodeTelephonyContainer(mulaw)
	if err != nil {
		p.log.Warn("failed to frame residual audio", slogError(err))
		return "", false
	}
	text, language, err := p.stt.Transcribe(ctx, container)
	if err != nil || text == "" {
		if err != nil {
			p.log.Warn("residual transcription failed", slogError(err))
		}
		return "", false
	}
	p.log.Info("final transcript at session close",
		slog.String("session_id", sessionID),
		slog.String("text", text))
	p.record(ctx, sessionID, turnID, "transcript.final", jsonPayload(map[string]any{"text": text, "language": language}))
	return text, true
}

func (p *Pipeline) record(ctx context.Context, sessionID, turnID, stage string, payload []byte) {
	if p.audit == nil {
		return
	}
	if err := p.audit.AppendTurnEvent(ctx, sessionID, turnID, stage, payload); err != nil {
		p.log.Warn("audit append failed", slog.String("stage", stage), slogError(err))
	}
}

func (p *Pipeline) publishTranscript(sessionID, turnID, text, language string) {
	if p.events == nil {
		return
	}
	err := p.events.PublishTranscript(protocol.TurnTranscript{
		SessionID: sessionID,
		TurnID:    turnID,
		Text:      text,
		Language:  language,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.log.Warn("failed to publish transcript event", slogError(err))
	}
}

func (p *Pipeline) publishResponse(sessionID, turnID, text, toolName string) {
	if p.events == nil {
		return
	}
	err := p.events.PublishResponse(protocol.TurnResponse{
		SessionID: sessionID,
		TurnID:    turnID,
		Text:      text,
		ToolName:  toolName,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.log.Warn("failed to publish response event", slogError(err))
	}
}

func jsonPayload(v map[string]any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
