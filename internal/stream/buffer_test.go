package stream

import (
	"bytes"
	"testing"
)

func TestTurnBufferBelowThreshold(t *testing.T) {
	b := NewTurnBuffer(100)
	if turn, ready := b.Append(make([]byte, 99)); ready || turn != nil {
		t.Fatal("buffer below threshold must not flush")
	}
	if b.Len() != 99 {
		t.Fatalf("expected 99 buffered bytes, got %d", b.Len())
	}
}

func TestTurnBufferFlushesAtThreshold(t *testing.T) {
	b := NewTurnBuffer(100)
	b.Append(make([]byte, 60))
	turn, ready := b.Append(make([]byte, 40))
	if !ready {
		t.Fatal("expected flush at threshold")
	}
	if len(turn) != 100 {
		t.Fatalf("expected 100-byte turn, got %d", len(turn))
	}
	if b.Len() != 0 {
		t.Fatalf("buffer must reset after flush, has %d bytes", b.Len())
	}
}

func TestTurnBufferOverflowIsKeptWhole(t *testing.T) {
	b := NewTurnBuffer(100)
	b.Append(make([]byte, 90))
	turn, ready := b.Append(make([]byte, 30))
	if !ready || len(turn) != 120 {
		t.Fatalf("expected whole 120-byte turn, got %d ready=%v", len(turn), ready)
	}
}

func TestTurnBufferPreservesOrder(t *testing.T) {
	b := NewTurnBuffer(6)
	b.Append([]byte{1, 2, 3})
	turn, ready := b.Append([]byte{4, 5, 6})
	if !ready || !bytes.Equal(turn, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected turn %v", turn)
	}
}

func TestTurnBufferFlushResidual(t *testing.T) {
	b := NewTurnBuffer(100)
	b.Append([]byte{9, 9})
	if residual := b.Flush(); !bytes.Equal(residual, []byte{9, 9}) {
		t.Fatalf("unexpected residual %v", residual)
	}
	if b.Len() != 0 {
		t.Fatal("buffer must be empty after flush")
	}
	if residual := b.Flush(); residual != nil {
		t.Fatalf("second flush must be empty, got %v", residual)
	}
}
