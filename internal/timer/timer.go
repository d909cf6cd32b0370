// Package timer enforces the per-session wall-clock budget. A broadcast
// loop pushes remaining time to every registered socket, fires milestone
// warnings, and runs the end-of-session sequence exactly once per
// session whether the budget expires or the candidate ends early.
package timer

import (
	"context"
	"sync"
	"time"

	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/events"
	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/observability/metrics"
	"interview-realtime-gateway/internal/store"
	"interview-realtime-gateway/internal/transcript"
)

const (
	broadcastInterval = 5 * time.Second
	opTimeout         = 10 * time.Second
)

// Warning thresholds, checked in descending order.
const (
	FiveMinuteWarning = int64(5 * 60 * 1000)
	OneMinuteWarning  = int64(60 * 1000)
)

// Socket is the slice of a client connection the timer writes to.
type Socket interface {
	SendEvent(v interface{}) error
}

// WarningFunc is fired when remaining time crosses a threshold.
type WarningFunc func(remainingMs int64)

// State is a point-in-time view of a session's budget.
type State struct {
	RemainingMs int64
	ExpiresAt   int64
	Ended       bool
}

// sessionPhase guards the end-of-session sequence. running → ended is
// the only transition and it happens at most once.
type sessionPhase int

const (
	phaseRunning sessionPhase = iota
	phaseEnded
)

type timerFrame struct {
	Type        string `json:"type"`
	RemainingMs int64  `json:"remainingMs"`
	ExpiresAt   int64  `json:"expiresAt"`
	Ended       bool   `json:"ended"`
}

type endedFrame struct {
	Type string `json:"type"`
}

// Service owns per-session timers and the socket registry. All mutable
// registries live on the service so each test gets an isolated instance.
type Service struct {
	store       store.TimerStore
	dir         directory.Directory
	transcripts *transcript.Buffer
	publisher   *events.Publisher
	duration    time.Duration
	metrics     *metrics.Metrics
	endHooks    []func(sessionID string)

	mu       sync.Mutex
	sockets  map[string]map[Socket]struct{}
	warnings map[string]WarningFunc
	warned   map[string]map[int64]struct{}
	phases   map[string]sessionPhase

	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a timer service with the given session duration.
func NewService(ts store.TimerStore, dir directory.Directory, transcripts *transcript.Buffer, publisher *events.Publisher, duration time.Duration) *Service {
	return &Service{
		store:       ts,
		dir:         dir,
		transcripts: transcripts,
		publisher:   publisher,
		duration:    duration,
		metrics:     metrics.DefaultMetrics,
		sockets:     make(map[string]map[Socket]struct{}),
		warnings:    make(map[string]WarningFunc),
		warned:      make(map[string]map[int64]struct{}),
		phases:      make(map[string]sessionPhase),
		now:         time.Now,
	}
}

// OnEnd registers a hook invoked once per session during the
// end-of-session sequence. Register hooks before Start; they run on
// the goroutine that triggers the end.
func (s *Service) OnEnd(fn func(sessionID string)) {
	s.endHooks = append(s.endHooks, fn)
}

// Start launches the broadcast loop.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(broadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.broadcast(ctx)
			}
		}
	}()
}

// Stop halts the broadcast loop.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// RegisterSocket adds a socket to a session's fan-out set.
func (s *Service) RegisterSocket(sessionID string, sock Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sockets[sessionID]
	if set == nil {
		set = make(map[Socket]struct{})
		s.sockets[sessionID] = set
	}
	set[sock] = struct{}{}
}

// UnregisterSocket removes a socket. When a session's last socket goes,
// its warning callback and warned-set go with it.
func (s *Service) UnregisterSocket(sessionID string, sock Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sockets[sessionID]
	if set == nil {
		return
	}
	delete(set, sock)
	if len(set) == 0 {
		delete(s.sockets, sessionID)
		delete(s.warnings, sessionID)
		delete(s.warned, sessionID)
	}
}

// RegisterWarning binds the session's milestone warning callback.
func (s *Service) RegisterWarning(sessionID string, fn WarningFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings[sessionID] = fn
}

// StartOrResume initializes the session's budget if unset and returns
// the current state. An expired stored timer stays expired; reconnects
// never extend the budget.
func (s *Service) StartOrResume(ctx context.Context, sessionID string) (State, error) {
	expiresAt, err := s.store.GetExpiresAt(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	now := s.now().UnixMilli()
	if expiresAt <= 0 {
		expiresAt = now + s.duration.Milliseconds()
		if err := s.store.SetExpiresAt(ctx, sessionID, expiresAt); err != nil {
			return State{}, err
		}
	}
	return stateAt(expiresAt, now), nil
}

// State returns the session's current budget without initializing it.
func (s *Service) State(ctx context.Context, sessionID string) (State, error) {
	expiresAt, err := s.store.GetExpiresAt(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	return stateAt(expiresAt, s.now().UnixMilli()), nil
}

func stateAt(expiresAt, now int64) State {
	remaining := expiresAt - now
	if remaining < 0 {
		remaining = 0
	}
	return State{RemainingMs: remaining, ExpiresAt: expiresAt, Ended: remaining <= 0}
}

// broadcast pushes timer state to every registered socket, fires due
// warnings, and triggers the end sequence for sessions that just hit
// zero.
func (s *Service) broadcast(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]string, 0, len(s.sockets))
	for sessionID := range s.sockets {
		sessions = append(sessions, sessionID)
	}
	s.mu.Unlock()

	for _, sessionID := range sessions {
		state, err := s.State(ctx, sessionID)
		if err != nil {
			logger := logging.WithComponent("timer")
			logger.Error().Err(err).Str("sessionId", sessionID).Msg("Timer state unavailable")
			continue
		}

		s.sendToSession(sessionID, timerFrame{
			Type:        "session.timer",
			RemainingMs: state.RemainingMs,
			ExpiresAt:   state.ExpiresAt,
			Ended:       state.Ended,
		})

		if state.Ended {
			if s.transitionEnded(sessionID) {
				s.endSession(ctx, sessionID, "expired")
			}
			continue
		}
		s.fireWarning(sessionID, state.RemainingMs)
	}
}

// fireWarning triggers at most one warning per threshold per connection
// lifetime. Thresholds fire in descending order, one per broadcast tick.
func (s *Service) fireWarning(sessionID string, remainingMs int64) {
	s.mu.Lock()
	fn := s.warnings[sessionID]
	if fn == nil {
		s.mu.Unlock()
		return
	}
	warned := s.warned[sessionID]
	if warned == nil {
		warned = make(map[int64]struct{})
		s.warned[sessionID] = warned
	}

	var threshold int64
	if _, done := warned[FiveMinuteWarning]; remainingMs <= FiveMinuteWarning && !done {
		threshold = FiveMinuteWarning
	} else if _, done := warned[OneMinuteWarning]; remainingMs <= OneMinuteWarning && !done {
		threshold = OneMinuteWarning
	}
	if threshold == 0 {
		s.mu.Unlock()
		return
	}
	warned[threshold] = struct{}{}
	s.mu.Unlock()

	label := "5m"
	if threshold == OneMinuteWarning {
		label = "1m"
	}
	s.metrics.RecordTimeWarning(label)
	fn(threshold)
}

// transitionEnded moves a session from running to ended. Reports false
// when the session already ended, making the end sequence single-shot.
func (s *Service) transitionEnded(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phases[sessionID] == phaseEnded {
		return false
	}
	s.phases[sessionID] = phaseEnded
	return true
}

// endSession runs the terminal sequence: broadcast "ended", clear
// registrations and the stored timer, flush transcripts, complete the
// directory session, publish session.ended. Callers hold the phase
// transition, so this runs at most once per session.
func (s *Service) endSession(ctx context.Context, sessionID, reason string) {
	log := logging.WithComponent("timer").With().Str("sessionId", sessionID).Logger()

	s.sendToSession(sessionID, endedFrame{Type: "session.ended"})

	s.mu.Lock()
	delete(s.sockets, sessionID)
	delete(s.warnings, sessionID)
	delete(s.warned, sessionID)
	s.mu.Unlock()

	opCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.store.Delete(opCtx, sessionID); err != nil {
		log.Error().Err(err).Msg("Failed to delete timer")
	}
	s.transcripts.FlushNow(opCtx, sessionID)
	if err := s.dir.MarkCompleted(opCtx, sessionID, s.now()); err != nil {
		log.Error().Err(err).Msg("Failed to complete session")
	}
	if s.publisher != nil {
		if err := s.publisher.PublishSessionEnded(opCtx, sessionID); err != nil {
			log.Error().Err(err).Msg("Failed to publish session end")
		}
	}
	for _, fn := range s.endHooks {
		fn(sessionID)
	}

	s.metrics.RecordSessionEnded(reason)
	log.Info().Str("reason", reason).Msg("Session ended")
}

// EndEarly runs the end sequence ahead of expiry. Idempotent.
func (s *Service) EndEarly(ctx context.Context, sessionID string) {
	if !s.transitionEnded(sessionID) {
		return
	}
	s.endSession(ctx, sessionID, "early")
}

func (s *Service) sendToSession(sessionID string, v interface{}) {
	s.mu.Lock()
	socks := make([]Socket, 0, len(s.sockets[sessionID]))
	for sock := range s.sockets[sessionID] {
		socks = append(socks, sock)
	}
	s.mu.Unlock()

	for _, sock := range socks {
		if err := sock.SendEvent(v); err != nil {
			logger := logging.WithComponent("timer")
			logger.Debug().Err(err).Str("sessionId", sessionID).Msg("Socket write failed")
		}
	}
}

// SendSnapshot writes a timer state to one socket. Used by the
// connection handler right after registration.
func (s *Service) SendSnapshot(sock Socket, state State) error {
	return sock.SendEvent(timerFrame{
		Type:        "session.timer",
		RemainingMs: state.RemainingMs,
		ExpiresAt:   state.ExpiresAt,
		Ended:       state.Ended,
	})
}
