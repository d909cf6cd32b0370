package events

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/observability/metrics"
	"interview-realtime-gateway/internal/store"
)

// Consumer group names.
const (
	GroupObserver  = "observer-workers"
	GroupEvaluator = "evaluator-workers"
)

const (
	maxRetries      = 5
	readBlock       = 5 * time.Second
	readCount       = 10
	reclaimInterval = 15 * time.Second
	reclaimMinIdle  = 30 * time.Second
	reclaimStart    = "0-0"
	reclaimCount    = 10
)

// HandlerFunc processes a delivered event. A non-nil error leaves the
// message pending for retry.
type HandlerFunc func(ctx context.Context, msg Message) error

// WorkerPool runs one consumer per registered group against the durable
// log. Each consumer block-reads new messages and periodically reclaims
// messages stranded pending by stalled consumers. A message whose handler
// keeps failing is moved to the dead-letter stream after maxRetries
// attempts and acknowledged exactly once.
type WorkerPool struct {
	log      Log
	retries  store.RetryStore
	consumer string
	metrics  *metrics.Metrics

	mu       sync.Mutex
	handlers map[string]map[string]HandlerFunc

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorkerPool creates a pool reading from the given log. The consumer
// name is unique per process so pending entries can be traced back to
// the worker that held them.
func NewWorkerPool(log Log, retries store.RetryStore) *WorkerPool {
	return &WorkerPool{
		log:      log,
		retries:  retries,
		consumer: fmt.Sprintf("worker-%d-%s", os.Getpid(), uuid.NewString()),
		metrics:  metrics.DefaultMetrics,
		handlers: make(map[string]map[string]HandlerFunc),
	}
}

// Consumer returns the pool's consumer name.
func (p *WorkerPool) Consumer() string {
	return p.consumer
}

// Register binds a handler to an event type within a group. Events of
// unregistered types are acknowledged without processing.
func (p *WorkerPool) Register(group, eventType string, handler HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers[group] == nil {
		p.handlers[group] = make(map[string]HandlerFunc)
	}
	p.handlers[group][eventType] = handler
}

// Start creates the consumer groups and launches the read and reclaim
// loops. It returns once all loops are running.
func (p *WorkerPool) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.mu.Lock()
	groups := make([]string, 0, len(p.handlers))
	for group := range p.handlers {
		groups = append(groups, group)
	}
	p.mu.Unlock()

	for _, group := range groups {
		if err := p.log.EnsureGroup(ctx, group); err != nil {
			return fmt.Errorf("ensure group %s: %w", group, err)
		}
	}

	for _, group := range groups {
		p.wg.Add(2)
		go p.readLoop(ctx, group)
		go p.reclaimLoop(ctx, group)
	}

	logger := logging.WithComponent("events")
	logger.Info().
		Strs("groups", groups).
		Str("consumer", p.consumer).
		Msg("Worker pool started")
	return nil
}

// Stop cancels the loops and waits for in-flight messages to finish.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *WorkerPool) readLoop(ctx context.Context, group string) {
	defer p.wg.Done()
	log := logging.WithWorker(group, p.consumer)

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := p.log.ReadGroup(ctx, group, p.consumer, readBlock, readCount)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Read failed, backing off")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, msg := range msgs {
			p.handleMessage(ctx, group, msg, log)
		}
	}
}

func (p *WorkerPool) reclaimLoop(ctx context.Context, group string) {
	defer p.wg.Done()
	log := logging.WithWorker(group, p.consumer)

	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := reclaimStart
		for {
			msgs, next, err := p.log.AutoClaim(ctx, group, p.consumer, reclaimMinIdle, start, reclaimCount)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Reclaim failed")
				break
			}
			for _, msg := range msgs {
				p.metrics.RecordEventReclaimed()
				log.Warn().Str("messageId", msg.ID).Msg("Reclaimed stranded message")
				p.handleMessage(ctx, group, msg, log)
			}
			// "0-0" from XAUTOCLAIM means the scan wrapped around.
			if next == reclaimStart || next == "" || len(msgs) == 0 {
				break
			}
			start = next
		}
	}
}

// handleMessage processes one delivery. Retry accounting is per-message
// per-group: a handler failure bumps the counter and leaves the message
// pending so a later reclaim retries it. Once the counter reaches the
// ceiling the message is dead-lettered and acknowledged, at most once.
func (p *WorkerPool) handleMessage(ctx context.Context, group string, msg Message, log zerolog.Logger) {
	stream := streamName
	if s, ok := p.log.(interface{ Stream() string }); ok {
		stream = s.Stream()
	}

	retryCount, err := p.retries.Get(ctx, stream+":"+group, msg.ID)
	if err != nil {
		log.Error().Err(err).Str("messageId", msg.ID).Msg("Retry lookup failed")
		return
	}
	if retryCount >= maxRetries {
		p.deadLetter(ctx, group, stream, msg, retryCount, "retry ceiling reached", log)
		return
	}

	handler := p.handlerFor(group, msg.Event.Type)
	if handler == nil {
		// Not this group's event. Ack so it does not sit pending.
		if err := p.log.Ack(ctx, group, msg.ID); err != nil {
			log.Error().Err(err).Str("messageId", msg.ID).Msg("Ack failed")
		}
		return
	}

	procErr := handler(ctx, msg)
	p.metrics.RecordEventProcessed(group, procErr)
	if procErr == nil {
		if err := p.log.Ack(ctx, group, msg.ID); err != nil {
			log.Error().Err(err).Str("messageId", msg.ID).Msg("Ack failed after processing")
		}
		return
	}

	newCount, err := p.retries.Increment(ctx, stream+":"+group, msg.ID)
	if err != nil {
		log.Error().Err(err).Str("messageId", msg.ID).Msg("Retry increment failed")
		return
	}
	p.metrics.RecordEventRetried(group)
	if newCount >= maxRetries {
		p.deadLetter(ctx, group, stream, msg, newCount, procErr.Error(), log)
		return
	}
	log.Warn().
		Err(procErr).
		Str("messageId", msg.ID).
		Str("type", msg.Event.Type).
		Int("retryCount", newCount).
		Msg("Processing failed, leaving pending for reclaim")
}

func (p *WorkerPool) deadLetter(ctx context.Context, group, stream string, msg Message, retryCount int, lastError string, log zerolog.Logger) {
	dl := DeadLetter{
		OriginalStream: stream,
		MessageID:      msg.ID,
		Type:           msg.Event.Type,
		SessionID:      msg.Event.SessionID,
		Payload:        msg.Event.Payload,
		RetryCount:     retryCount,
		LastError:      lastError,
	}
	if err := p.log.AddDeadLetter(ctx, dl); err != nil {
		// Leave the message pending; the next reclaim retries the move.
		log.Error().Err(err).Str("messageId", msg.ID).Msg("Dead-letter append failed")
		return
	}
	if err := p.log.Ack(ctx, group, msg.ID); err != nil {
		log.Error().Err(err).Str("messageId", msg.ID).Msg("Ack failed after dead-letter")
		return
	}
	p.metrics.RecordEventDeadLettered(group)
	log.Error().
		Str("messageId", msg.ID).
		Str("type", msg.Event.Type).
		Int("retryCount", retryCount).
		Msg("Message dead-lettered")
}

func (p *WorkerPool) handlerFor(group, eventType string) HandlerFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.handlers[group]; ok {
		return m[eventType]
	}
	return nil
}
