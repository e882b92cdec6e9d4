package stream

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/voxpaylabs/voxpay-core/internal/config"
	"github.com/voxpaylabs/voxpay-core/internal/protocol"
)

// TurnRunner processes one buffered caller turn and the best-effort final
// turn at session close.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID string, mulaw []byte) ([]byte, bool)
	TranscribeResidual(ctx context.Context, sessionID string, mulaw []byte) (string, bool)
}

// CallRecorder notes the start of a call in the audit trail.
type CallRecorder interface {
	AppendCall(ctx context.Context, callSID, remoteAddr string) error
}

// Handler terminates the telephony media stream. Each websocket connection
// is one call: frames arrive as JSON events, audio is buffered into turns,
// and the spoken reply is written back as media events on the same socket.
type Handler struct {
	cfg      config.StreamConfig
	runner   TurnRunner
	sessions *Registry
	recorder CallRecorder
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(cfg config.StreamConfig, runner TurnRunner, recorder CallRecorder, log *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		runner:   runner,
		sessions: NewRegistry(),
		recorder: recorder,
		log:      log.With(slog.String("component", "stream")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The media stream originates from the telephony provider,
			// not a browser; there is no Origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Sessions exposes the live-stream registry for readiness reporting.
func (h *Handler) Sessions() *Registry {
	return h.sessions
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	h.serve(r.Context(), conn, r.RemoteAddr)
}

// session is the per-connection state. All reads, turn processing and
// writes happen on the connection's goroutine, so at most one turn is in
// flight per call and replies never interleave.
type session struct {
	sid    string
	conn   *websocket.Conn
	buffer *TurnBuffer
	log    *slog.Logger
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()

	s := &session{
		conn:   conn,
		buffer: NewTurnBuffer(h.cfg.TurnThresholdBytes),
		log:    h.log,
	}

	defer func() {
		if s.sid != "" {
			h.sessions.remove(s.sid)
		}
	}()

loop:
	for {
		var ev protocol.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("media stream read failed", slog.String("error", err.Error()))
			}
			break
		}

		switch ev.Event {
		case protocol.EventStart:
			if ev.Start == nil || ev.Start.StreamSid == "" {
				s.log.Warn("start event without stream sid")
				continue
			}
			s.sid = ev.Start.StreamSid
			s.log = h.log.With(slog.String("stream_sid", s.sid))
			h.sessions.add(s.sid, s)
			s.log.Info("media stream started", slog.String("remote_addr", remoteAddr))
			if h.recorder != nil {
				if err := h.recorder.AppendCall(ctx, s.sid, remoteAddr); err != nil {
					s.log.Warn("failed to record call", slog.String("error", err.Error()))
				}
			}

		case protocol.EventMedia:
			if s.sid == "" {
				// Frames before start carry no stream identity; drop them.
				continue
			}
			if ev.Media == nil {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				s.log.Warn("dropping undecodable media frame", slog.String("error", err.Error()))
				continue
			}
			turn, ready := s.buffer.Append(frame)
			if !ready {
				continue
			}
			h.runTurn(ctx, s, turn)

		case protocol.EventStop:
			s.log.Info("media stream stopped")
			break loop

		default:
			s.log.Debug("ignoring stream event", slog.String("event", ev.Event))
		}
	}

	// Stop event or disconnect; flush whatever was mid-turn.
	h.flushResidual(ctx, s)
}

func (h *Handler) runTurn(ctx context.Context, s *session, turn []byte) {
	reply, ok := h.runner.RunTurn(ctx, s.sid, turn)
	if !ok || len(reply) == 0 {
		return
	}
	out := protocol.NewMediaEvent(s.sid, base64.StdEncoding.EncodeToString(reply))
	if err := s.conn.WriteJSON(out); err != nil {
		s.log.Warn("failed to write reply audio", slog.String("error", err.Error()))
	}
}

func (h *Handler) flushResidual(ctx context.Context, s *session) {
	residual := s.buffer.Flush()
	if s.sid == "" || len(residual) == 0 {
		return
	}
	// The socket is closing; the final partial turn is transcribed for the
	// record but nothing is spoken back.
	h.runner.TranscribeResidual(ctx, s.sid, residual)
}
