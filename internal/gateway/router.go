package gateway

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"interview-realtime-gateway/internal/events"
	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/observability/metrics"
	"interview-realtime-gateway/internal/provider"
	"interview-realtime-gateway/internal/timer"
)

const maxFrameSize = 64 * 1024

var audioEvents = map[string]bool{
	"input_audio_buffer.append": true,
	"input_audio_buffer.commit": true,
	"response.cancel":           true,
}

var allowedEvents = map[string]bool{
	"input_audio_buffer.append": true,
	"input_audio_buffer.commit": true,
	"response.cancel":           true,
	"session.ping":              true,
	"session.end_early":         true,
	"code_edit":                 true,
}

type inboundFrame struct {
	Type     string `json:"type"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Router dispatches inbound client frames: local events are handled
// here, audio-plane frames forward to the session's voice bridge.
type Router struct {
	timer     *timer.Service
	publisher *events.Publisher
	code      *CodeCache
	metrics   *metrics.Metrics
}

// NewRouter creates a frame router.
func NewRouter(t *timer.Service, pub *events.Publisher, code *CodeCache) *Router {
	return &Router{timer: t, publisher: pub, code: code, metrics: metrics.DefaultMetrics}
}

// HandleFrame processes one inbound frame. forward is nil when no voice
// bridge is connected. It reports whether the connection should stay
// open.
func (r *Router) HandleFrame(ctx context.Context, conn clientConn, sessionID string, messageType int, data []byte, forward func([]byte)) bool {
	if len(data) > maxFrameSize {
		r.metrics.RecordFrameRejected("oversized")
		conn.CloseWith(websocket.CloseMessageTooBig, "Payload too large")
		return false
	}

	if messageType == websocket.BinaryMessage {
		r.metrics.RecordFrameRejected("binary")
		conn.SendEvent(errorFrame{Type: "error", Code: codeBinaryNotSupported})
		return true
	}

	var msg inboundFrame
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		r.metrics.RecordFrameRejected("invalid_payload")
		conn.SendEvent(errorFrame{Type: "error", Code: codeInvalidPayload})
		return true
	}

	if !allowedEvents[msg.Type] {
		r.metrics.RecordFrameRejected("invalid_type")
		conn.SendEvent(errorFrame{Type: "error", Code: codeInvalidEventType})
		return true
	}
	r.metrics.RecordFrame(msg.Type)

	switch {
	case msg.Type == "code_edit":
		language := msg.Language
		if language == "" {
			language = "python"
		}
		r.code.Update(sessionID, msg.Code, language)
		// The ack doubles as a delivery receipt, so it only goes out
		// once the edit landed on the stream.
		if err := r.publisher.PublishCodeEdited(ctx, sessionID, msg.Code, language); err != nil {
			logger := logging.WithSession(sessionID, "")
			logger.Error().Err(err).Msg("Code edit publish failed")
			conn.SendEvent(errorFrame{
				Type:    "error",
				Code:    codePublishFailed,
				Message: "Code edit could not be recorded",
			})
			return true
		}
		conn.SendEvent(ackFrame{Type: "ack", Event: msg.Type})

	case msg.Type == "session.end_early":
		r.timer.EndEarly(ctx, sessionID)
		conn.SendEvent(ackFrame{Type: "ack", Event: msg.Type})

	case audioEvents[msg.Type]:
		if forward == nil {
			conn.SendEvent(errorFrame{
				Type:    "error",
				Code:    provider.CodeProviderUnavailable,
				Message: "Voice provider not connected",
			})
			return true
		}
		forward(data)

	default:
		// session.ping and any future local no-op.
		conn.SendEvent(ackFrame{Type: "ack", Event: msg.Type})
	}
	return true
}
