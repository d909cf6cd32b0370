package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/transcript"
)

// ErrNoProvider means no upstream voice service is configured.
var ErrNoProvider = errors.New("no voice provider configured")

// contextTTL bounds how long a session's directory context is reused
// within one connection's lifetime.
const contextTTL = time.Minute

type cachedContext struct {
	ctx     *directory.SessionContext
	fetched time.Time
}

// Selector routes sessions to a voice provider by subscription tier:
// pro and enterprise users get OpenAI, free users get Gemini with an
// OpenAI fallback.
type Selector struct {
	openAIKey   string
	geminiKey   string
	dir         directory.Directory
	transcripts *transcript.Buffer

	mu    sync.Mutex
	cache map[string]cachedContext
	now   func() time.Time
}

// NewSelector creates a provider selector.
func NewSelector(openAIKey, geminiKey string, dir directory.Directory, transcripts *transcript.Buffer) *Selector {
	return &Selector{
		openAIKey:   openAIKey,
		geminiKey:   geminiKey,
		dir:         dir,
		transcripts: transcripts,
		cache:       make(map[string]cachedContext),
		now:         time.Now,
	}
}

// Context returns the session's directory context, cached briefly so
// tier routing and prompt building within one connection share a single
// directory read. A missing context is not an error; the caller falls
// back to defaults.
func (s *Selector) Context(ctx context.Context, sessionID string) *directory.SessionContext {
	s.mu.Lock()
	cached, ok := s.cache[sessionID]
	now := s.now()
	s.mu.Unlock()
	if ok && now.Sub(cached.fetched) < contextTTL {
		return cached.ctx
	}

	sc, err := s.dir.GetSessionContext(ctx, sessionID)
	if err != nil {
		logger := logging.WithSession(sessionID, "")
		logger.Warn().Err(err).Msg("Session context unavailable")
		return nil
	}

	s.mu.Lock()
	s.cache[sessionID] = cachedContext{ctx: sc, fetched: now}
	s.mu.Unlock()
	return sc
}

// Forget drops a session's cached context.
func (s *Selector) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()
}

// Select connects a session to the provider its tier routes to. It
// returns ErrNoProvider when no upstream key is configured, or the
// chosen provider's connection error.
func (s *Selector) Select(ctx context.Context, sessionID string, cb Callbacks) (Handle, error) {
	sc := s.Context(ctx, sessionID)
	instructions := BuildInstructions(sc)

	tier := ""
	if sc != nil {
		tier = sc.SubscriptionTier
	}
	if tier == "pro" || tier == "enterprise" {
		h, err := NewOpenAI(s.openAIKey, sessionID, instructions, s.transcripts, s.dir, cb)
		if err != nil {
			return nil, err
		}
		return h, nil
	}

	if strings.TrimSpace(s.geminiKey) != "" {
		handle, err := NewGemini(s.geminiKey, sessionID, instructions, s.transcripts, s.dir, cb)
		if err == nil {
			return handle, nil
		}
		logger := logging.WithSession(sessionID, "")
		logger.Warn().Err(err).Msg("Gemini unavailable, trying OpenAI")
	}
	if strings.TrimSpace(s.openAIKey) != "" {
		h, err := NewOpenAI(s.openAIKey, sessionID, instructions, s.transcripts, s.dir, cb)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	return nil, ErrNoProvider
}
