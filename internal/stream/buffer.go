package stream

// TurnBuffer accumulates inbound companded audio until enough has arrived
// to treat it as one caller turn. Frames are small (20ms), so the flushed
// turn may slightly exceed the threshold; it is never split mid-frame.
type TurnBuffer struct {
	threshold int
	data      []byte
}

func NewTurnBuffer(threshold int) *TurnBuffer {
	return &TurnBuffer{threshold: threshold}
}

// Append adds one media frame. When the accumulated audio reaches the
// threshold the whole buffer is returned as a turn and the buffer resets.
func (b *TurnBuffer) Append(frame []byte) ([]byte, bool) {
	b.data = append(b.data, frame...)
	if len(b.data) < b.threshold {
		return nil, false
	}
	turn := b.data
	b.data = nil
	return turn, true
}

// Flush returns whatever partial audio remains and resets the buffer.
func (b *TurnBuffer) Flush() []byte {
	turn := b.data
	b.data = nil
	return turn
}

// Len reports the currently buffered byte count.
func (b *TurnBuffer) Len() int {
	return len(b.data)
}
