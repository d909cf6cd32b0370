package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis implements all keyed stores on a shared go-redis client.
type Redis struct {
	client *redis.Client
}

// NewRedis parses the URL and connects. TLS is inferred from a rediss://
// scheme by the client options parser.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 3
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// Client exposes the underlying connection for the durable event log.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close closes the connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) IsUsed(ctx context.Context, jti string) (bool, error) {
	_, err := r.client.Get(ctx, "jti:"+jti).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get jti mark: %w", err)
	}
	return true, nil
}

func (r *Redis) MarkUsed(ctx context.Context, jti string) error {
	if err := r.client.Set(ctx, "jti:"+jti, "1", replayTTL).Err(); err != nil {
		return fmt.Errorf("mark jti used: %w", err)
	}
	return nil
}

func timerKey(sessionID string) string {
	return "session:timer:" + sessionID
}

func (r *Redis) GetExpiresAt(ctx context.Context, sessionID string) (int64, error) {
	v, err := r.client.Get(ctx, timerKey(sessionID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get timer: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse timer value: %w", err)
	}
	return ms, nil
}

func (r *Redis) SetExpiresAt(ctx context.Context, sessionID string, expiresAt int64) error {
	if err := r.client.Set(ctx, timerKey(sessionID), strconv.FormatInt(expiresAt, 10), timerTTL).Err(); err != nil {
		return fmt.Errorf("set timer: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, timerKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	return nil
}

func retryKey(stream, messageID string) string {
	return "retry:" + stream + ":" + messageID
}

func (r *Redis) Get(ctx context.Context, stream, messageID string) (int, error) {
	v, err := r.client.Get(ctx, retryKey(stream, messageID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get retry count: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse retry count: %w", err)
	}
	return n, nil
}

func (r *Redis) Increment(ctx context.Context, stream, messageID string) (int, error) {
	// Read-then-write rather than INCR so the key keeps its expiry; an
	// occasional lost increment under concurrent reclamation only delays
	// dead-lettering by one attempt, which at-least-once tolerates.
	n, err := r.Get(ctx, stream, messageID)
	if err != nil {
		return 0, err
	}
	next := n + 1
	if err := r.client.Set(ctx, retryKey(stream, messageID), strconv.Itoa(next), retryTTL).Err(); err != nil {
		return 0, fmt.Errorf("set retry count: %w", err)
	}
	return next, nil
}
