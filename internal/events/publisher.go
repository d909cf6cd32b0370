package events

import (
	"context"
	"encoding/json"
	"fmt"

	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/observability/metrics"
)

// Publisher appends events to the durable log.
type Publisher struct {
	log     Log
	metrics *metrics.Metrics
}

// NewPublisher creates a publisher for the given log.
func NewPublisher(log Log) *Publisher {
	return &Publisher{log: log, metrics: metrics.DefaultMetrics}
}

// Publish appends an event and records it.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	id, err := p.log.Add(ctx, event)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	p.metrics.RecordEventPublished(event.Type)
	logger := logging.WithComponent("events")
	logger.Debug().
		Str("type", event.Type).
		Str("sessionId", event.SessionID).
		Str("messageId", id).
		Msg("Event published")
	return nil
}

// CodeEditPayload is the payload of a code.edited event.
type CodeEditPayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// PublishCodeEdited appends a code.edited event.
func (p *Publisher) PublishCodeEdited(ctx context.Context, sessionID, code, language string) error {
	payload, err := json.Marshal(CodeEditPayload{Code: code, Language: language})
	if err != nil {
		return fmt.Errorf("marshal code edit: %w", err)
	}
	return p.Publish(ctx, Event{Type: TypeCodeEdited, SessionID: sessionID, Payload: payload})
}

// PublishSessionEnded appends a session.ended event.
func (p *Publisher) PublishSessionEnded(ctx context.Context, sessionID string) error {
	return p.Publish(ctx, Event{Type: TypeSessionEnded, SessionID: sessionID, Payload: json.RawMessage("{}")})
}
