package bus

import (
	"encoding/json"
	"fmt"

	"github.com/voxpaylabs/voxpay-core/internal/protocol"
)

// Publisher broadcasts turn milestones on the bus so downstream consumers
// (dashboards, compliance exports) can follow calls without touching the
// media path.
type Publisher struct {
	client *Client
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) PublishTranscript(t protocol.TurnTranscript) error {
	return p.publish(protocol.SubjectTurnTranscript, t)
}

func (p *Publisher) PublishResponse(r protocol.TurnResponse) error {
	return p.publish(protocol.SubjectTurnResponse, r)
}

func (p *Publisher) publish(subject string, v any) error {
	if p == nil || p.client == nil || p.client.conn == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := p.client.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
