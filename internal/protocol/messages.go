package protocol

import "time"

// StreamEvent is the JSON frame exchanged with the telephony media stream.
// Inbound frames carry one of Start, Media or Stop depending on Event;
// outbound frames are always media frames built with NewMediaEvent.
type StreamEvent struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
}

// StartPayload announces a new media stream.
type StartPayload struct {
	StreamSid string `json:"streamSid"`
}

// MediaPayload carries base64-encoded companded audio.
type MediaPayload struct {
	Payload string `json:"payload"`
}

const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
)

// NewMediaEvent frames outbound companded audio for the stream.
func NewMediaEvent(streamSid, payload string) StreamEvent {
	return StreamEvent{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: payload},
	}
}

// TurnTranscript is broadcast on the bus after transcription of a turn.
type TurnTranscript struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnResponse is broadcast on the bus after a turn produced a reply.
type TurnResponse struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Text      string    `json:"text"`
	ToolName  string    `json:"tool_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTurnTranscript = "call.turn.transcript"
	SubjectTurnResponse   = "call.turn.response"
)
