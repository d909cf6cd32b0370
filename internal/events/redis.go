package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamName    = "events"
	dlqStreamName = "events.dlq"
	maxStreamLen  = 10000
)

// RedisLog implements Log on Redis Streams.
type RedisLog struct {
	client *redis.Client
}

// NewRedisLog wraps an existing client.
func NewRedisLog(client *redis.Client) *RedisLog {
	return &RedisLog{client: client}
}

// Stream returns the stream key, used for retry-counter scoping.
func (l *RedisLog) Stream() string {
	return streamName
}

func (l *RedisLog) Add(ctx context.Context, event Event) (string, error) {
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":      event.Type,
			"sessionId": event.SessionID,
			"payload":   string(event.Payload),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

func (l *RedisLog) EnsureGroup(ctx context.Context, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, streamName, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (l *RedisLog) ReadGroup(ctx context.Context, group, consumer string, block time.Duration, count int) ([]Message, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamName, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, decodeMessage(m))
		}
	}
	return out, nil
}

func (l *RedisLog) Ack(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, streamName, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func (l *RedisLog) AutoClaim(ctx context.Context, group, consumer string, minIdle time.Duration, start string, count int) ([]Message, string, error) {
	msgs, next, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamName,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    int64(count),
	}).Result()
	if err != nil {
		return nil, start, fmt.Errorf("xautoclaim: %w", err)
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeMessage(m))
	}
	return out, next, nil
}

func (l *RedisLog) AddDeadLetter(ctx context.Context, dl DeadLetter) error {
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	err = l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStreamName,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload":   string(payload),
			"error":     dl.LastError,
			"timestamp": time.Now().UnixMilli(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd dlq: %w", err)
	}
	return nil
}

func decodeMessage(m redis.XMessage) Message {
	msg := Message{ID: m.ID}
	if v, ok := m.Values["type"].(string); ok {
		msg.Event.Type = v
	}
	if v, ok := m.Values["sessionId"].(string); ok {
		msg.Event.SessionID = v
	}
	if v, ok := m.Values["payload"].(string); ok {
		msg.Event.Payload = json.RawMessage(v)
	}
	return msg
}
