package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxpaylabs/voxpay-core/internal/config"
	"github.com/voxpaylabs/voxpay-core/internal/protocol"
)

type fakeRunner struct {
	mu        sync.Mutex
	turns     [][]byte
	residuals [][]byte
	reply     []byte
}

func (f *fakeRunner) RunTurn(_ context.Context, _ string, mulaw []byte) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, append([]byte(nil), mulaw...))
	if f.reply == nil {
		return nil, false
	}
	return f.reply, true
}

func (f *fakeRunner) TranscribeResidual(_ context.Context, _ string, mulaw []byte) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.residuals = append(f.residuals, append([]byte(nil), mulaw...))
	return "residual", true
}

func (f *fakeRunner) snapshot() (turns, residuals [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.turns...), append([][]byte(nil), f.residuals...)
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRecorder) AppendCall(_ context.Context, callSID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, callSID)
	return nil
}

func dialHandler(t *testing.T, h *Handler) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func sendMedia(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	ev := protocol.StreamEvent{
		Event: protocol.EventMedia,
		Media: &protocol.MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("send media: %v", err)
	}
}

func sendStart(t *testing.T, conn *websocket.Conn, sid string) {
	t.Helper()
	ev := protocol.StreamEvent{Event: protocol.EventStart, Start: &protocol.StartPayload{StreamSid: sid}}
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("send start: %v", err)
	}
}

func streamConfig(threshold int) config.StreamConfig {
	return config.StreamConfig{MediaPath: "/ws", TurnThresholdBytes: threshold, SampleRate: 8000}
}

func TestSessionBuffersAndRepliesPerTurn(t *testing.T) {
	runner := &fakeRunner{reply: []byte{0x11, 0x22, 0x33}}
	recorder := &fakeRecorder{}
	h := NewHandler(streamConfig(8), runner, recorder, newLogger())
	conn, cleanup := dialHandler(t, h)
	defer cleanup()

	sendStart(t, conn, "MZ1")
	sendMedia(t, conn, []byte{1, 2, 3, 4, 5})
	sendMedia(t, conn, []byte{6, 7, 8, 9})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out protocol.StreamEvent
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if out.Event != protocol.EventMedia || out.StreamSid != "MZ1" {
		t.Fatalf("unexpected reply frame %+v", out)
	}
	got, err := base64.StdEncoding.DecodeString(out.Media.Payload)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !bytes.Equal(got, runner.reply) {
		t.Fatalf("unexpected reply audio %v", got)
	}

	turns, _ := runner.snapshot()
	if len(turns) != 1 || !bytes.Equal(turns[0], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Fatalf("unexpected turns %v", turns)
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.calls) != 1 || recorder.calls[0] != "MZ1" {
		t.Fatalf("unexpected recorded calls %v", recorder.calls)
	}
}

func TestSessionSilentTurnSendsNothing(t *testing.T) {
	runner := &fakeRunner{} // nil reply: every turn is silent
	h := NewHandler(streamConfig(4), runner, nil, newLogger())
	conn, cleanup := dialHandler(t, h)
	defer cleanup()

	sendStart(t, conn, "MZ1")
	sendMedia(t, conn, []byte{1, 2, 3, 4})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var out protocol.StreamEvent
	if err := conn.ReadJSON(&out); err == nil {
		t.Fatalf("expected no reply frame, got %+v", out)
	}
	turns, _ := runner.snapshot()
	if len(turns) != 1 {
		t.Fatalf("expected the turn to run, got %d", len(turns))
	}
}

func TestSessionStopFlushesResidual(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(streamConfig(100), runner, nil, newLogger())
	conn, cleanup := dialHandler(t, h)
	defer cleanup()

	sendStart(t, conn, "MZ1")
	sendMedia(t, conn, []byte{1, 2, 3})
	if err := conn.WriteJSON(protocol.StreamEvent{Event: protocol.EventStop}); err != nil {
		t.Fatalf("send stop: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, residuals := runner.snapshot()
		if len(residuals) == 1 {
			if !bytes.Equal(residuals[0], []byte{1, 2, 3}) {
				t.Fatalf("unexpected residual %v", residuals[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("residual was never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionIgnoresMediaBeforeStart(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(streamConfig(2), runner, nil, newLogger())
	conn, cleanup := dialHandler(t, h)
	defer cleanup()

	sendMedia(t, conn, []byte{1, 2, 3, 4})
	sendStart(t, conn, "MZ1")
	sendMedia(t, conn, []byte{5, 6})

	deadline := time.Now().Add(2 * time.Second)
	for {
		turns, _ := runner.snapshot()
		if len(turns) == 1 {
			if !bytes.Equal(turns[0], []byte{5, 6}) {
				t.Fatalf("pre-start audio leaked into turn: %v", turns[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("turn never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionDropsUndecodableFrame(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(streamConfig(2), runner, nil, newLogger())
	conn, cleanup := dialHandler(t, h)
	defer cleanup()

	sendStart(t, conn, "MZ1")
	bad := protocol.StreamEvent{Event: protocol.EventMedia, Media: &protocol.MediaPayload{Payload: "!!not-base64!!"}}
	if err := conn.WriteJSON(bad); err != nil {
		t.Fatalf("send bad media: %v", err)
	}
	sendMedia(t, conn, []byte{7, 8})

	deadline := time.Now().Add(2 * time.Second)
	for {
		turns, _ := runner.snapshot()
		if len(turns) == 1 {
			if !bytes.Equal(turns[0], []byte{7, 8}) {
				t.Fatalf("bad frame leaked into turn: %v", turns[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("turn never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegistryTracksActiveSessions(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(streamConfig(100), runner, nil, newLogger())
	conn, cleanup := dialHandler(t, h)

	sendStart(t, conn, "MZ1")
	deadline := time.Now().Add(2 * time.Second)
	for h.Sessions().Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cleanup()
	deadline = time.Now().Add(2 * time.Second)
	for h.Sessions().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
