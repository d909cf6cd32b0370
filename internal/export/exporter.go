// Package export mirrors flushed transcript rows to Kafka for downstream
// analytics.
package export

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"interview-realtime-gateway/internal/config"
	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/observability/metrics"
)

// Exporter publishes transcript rows to a Kafka topic.
type Exporter struct {
	writer    *kafka.Writer
	principal string
	topic     string
	enabled   bool
	metrics   *metrics.Metrics
}

type transcriptEvent struct {
	EventType      string `json:"eventType"`
	SessionID      string `json:"sessionId"`
	Speaker        string `json:"speaker"`
	Content        string `json:"content"`
	TimestampMs    int64  `json:"timestampMs"`
	ProviderItemID string `json:"providerItemId,omitempty"`
}

// New creates a Kafka transcript exporter. Unconfigured brokers yield a
// log-only exporter.
func New(cfg config.KafkaConfig) *Exporter {
	m := metrics.DefaultMetrics

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka export disabled, using log-only mode")
		return &Exporter{
			principal: cfg.Principal,
			topic:     cfg.Topic,
			enabled:   false,
			metrics:   m,
		}
	}

	// Custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("principal", cfg.Principal).
		Msg("Kafka transcript exporter initialized")

	return &Exporter{
		writer:    writer,
		principal: cfg.Principal,
		topic:     cfg.Topic,
		enabled:   true,
		metrics:   m,
	}
}

// Publish writes one message per transcript row, keyed by session id.
func (e *Exporter) Publish(ctx context.Context, rows []directory.TranscriptRow) error {
	if len(rows) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(rows))
	for _, r := range rows {
		payload, err := json.Marshal(transcriptEvent{
			EventType:      "interview.transcript.stored",
			SessionID:      r.SessionID,
			Speaker:        r.Speaker,
			Content:        r.Content,
			TimestampMs:    r.TimestampMs,
			ProviderItemID: r.ProviderItemID,
		})
		if err != nil {
			log.Error().Err(err).Str("topic", e.topic).Msg("Failed to marshal transcript event")
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.SessionID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "eventType", Value: []byte("interview.transcript.stored")},
				{Key: "principal", Value: []byte(e.principal)},
			},
		})
	}

	if !e.enabled || e.writer == nil {
		log.Debug().Int("rows", len(rows)).Msg("Kafka export disabled, dropping rows")
		e.metrics.RecordExportPublish(e.topic, nil)
		return nil
	}

	if err := e.writer.WriteMessages(ctx, msgs...); err != nil {
		log.Error().Err(err).Str("topic", e.topic).Msg("Failed to write to Kafka")
		e.metrics.RecordExportPublish(e.topic, err)
		return err
	}
	e.metrics.RecordExportPublish(e.topic, nil)
	return nil
}

// Close closes the Kafka writer.
func (e *Exporter) Close() error {
	if e.writer == nil {
		return nil
	}
	if err := e.writer.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}
