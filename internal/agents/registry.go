package agents

import (
	"context"
	"strings"
	"sync"

	"interview-realtime-gateway/internal/observability/logging"
)

// InjectFunc pushes observer insight text into a live voice session.
type InjectFunc func(insight string)

// Registry maps connected sessions to their insight injectors. The
// gateway registers a session when its voice provider connects and
// unregisters on disconnect; observer workers inject through it.
type Registry struct {
	mu      sync.RWMutex
	injects map[string]InjectFunc
}

// NewRegistry creates an empty injector registry.
func NewRegistry() *Registry {
	return &Registry{injects: make(map[string]InjectFunc)}
}

// Register binds an injector to a session, replacing any previous one.
func (r *Registry) Register(sessionID string, inject InjectFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.injects[sessionID] = inject
}

// Unregister removes a session's injector.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.injects, sessionID)
}

// Inject delivers insight text to a session if it is connected here.
// It reports whether an injector was found.
func (r *Registry) Inject(sessionID, insight string) bool {
	r.mu.RLock()
	inject, ok := r.injects[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	inject(insight)
	return true
}

// Observer runs the code-observation flow: analyze a snapshot and, when
// the session is still connected on this instance, hand the interviewer
// the distilled insight.
type Observer struct {
	client   *Client
	registry *Registry
}

// NewObserver creates an observer over the given client and registry.
func NewObserver(client *Client, registry *Registry) *Observer {
	return &Observer{client: client, registry: registry}
}

// ObserveAndInject analyzes the code and injects the resulting insight
// into the session's voice conversation. A session that disconnected or
// an analysis with nothing to say is not an error.
func (o *Observer) ObserveAndInject(ctx context.Context, sessionID, code, language string) error {
	analysis, err := o.client.ObserveCode(ctx, sessionID, code, language)
	if err != nil {
		return err
	}
	if analysis == nil {
		return nil
	}

	insight := insightText(analysis)
	if insight == "" {
		return nil
	}
	if o.registry.Inject(sessionID, insight) {
		logger := logging.WithComponent("agents")
		logger.Debug().
			Str("sessionId", sessionID).
			Int("insightLen", len(insight)).
			Msg("Observer insight injected")
	}
	return nil
}

// insightText distills an analysis into a short brief for the
// interviewer. Empty when the analysis found nothing worth mentioning.
func insightText(a *CodeAnalysis) string {
	if len(a.SyntaxErrors) == 0 && a.Approach == "" && len(a.Warnings) == 0 {
		return ""
	}

	var parts []string
	if len(a.SyntaxErrors) > 0 {
		parts = append(parts, "Syntax issues: "+strings.Join(capSlice(a.SyntaxErrors, 3), "; "))
	}
	if a.Approach != "" {
		parts = append(parts, "Approach: "+a.Approach)
	}
	if a.EstimatedComplexity != "" {
		parts = append(parts, "Estimated complexity: "+a.EstimatedComplexity)
	}
	if len(a.Warnings) > 0 {
		parts = append(parts, "Consider: "+strings.Join(capSlice(a.Warnings, 2), "; "))
	}
	if a.SuggestRun {
		parts = append(parts, "Code looks runnable, candidate might benefit from testing.")
	}
	return strings.Join(parts, ". ")
}

func capSlice(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
