package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"interview-realtime-gateway/internal/directory"
)

type fakeDirectory struct {
	directory.Disabled
	ctx      *directory.SessionContext
	ctxErr   error
	ctxCalls int
}

func (d *fakeDirectory) GetSessionContext(ctx context.Context, sessionID string) (*directory.SessionContext, error) {
	d.ctxCalls++
	if d.ctxErr != nil {
		return nil, d.ctxErr
	}
	return d.ctx, nil
}

func TestSelectorNoProviderConfigured(t *testing.T) {
	dir := &fakeDirectory{ctx: &directory.SessionContext{SubscriptionTier: "free"}}
	sel := NewSelector("", "", dir, nil)

	_, err := sel.Select(context.Background(), "s1", Callbacks{})
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("Select() error = %v, want ErrNoProvider", err)
	}
}

func TestSelectorProTierRequiresOpenAI(t *testing.T) {
	// A pro user routes to OpenAI even when a Gemini key exists; with no
	// OpenAI key the selection fails rather than silently downgrading.
	dir := &fakeDirectory{ctx: &directory.SessionContext{SubscriptionTier: "pro"}}
	sel := NewSelector("", "gemini-key", dir, nil)

	_, err := sel.Select(context.Background(), "s1", Callbacks{})
	if err == nil || errors.Is(err, ErrNoProvider) {
		t.Fatalf("Select() error = %v, want an openai configuration error", err)
	}
	if !strings.Contains(err.Error(), "openai") {
		t.Errorf("Select() error = %v, want mention of openai", err)
	}
}

func TestSelectorContextCaching(t *testing.T) {
	dir := &fakeDirectory{ctx: &directory.SessionContext{ProblemTitle: "Two Sum", SubscriptionTier: "free"}}
	sel := NewSelector("", "", dir, nil)

	base := time.Now()
	now := base
	sel.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if got := sel.Context(context.Background(), "s1"); got == nil || got.ProblemTitle != "Two Sum" {
			t.Fatalf("Context() = %v", got)
		}
	}
	if dir.ctxCalls != 1 {
		t.Errorf("directory reads = %d, want 1 within the TTL", dir.ctxCalls)
	}

	now = base.Add(contextTTL + time.Second)
	sel.Context(context.Background(), "s1")
	if dir.ctxCalls != 2 {
		t.Errorf("directory reads = %d, want 2 after the TTL", dir.ctxCalls)
	}

	sel.Forget("s1")
	now = base.Add(contextTTL + 2*time.Second)
	sel.Context(context.Background(), "s1")
	if dir.ctxCalls != 3 {
		t.Errorf("directory reads = %d, want 3 after Forget()", dir.ctxCalls)
	}
}

func TestSelectorContextErrorFallsBack(t *testing.T) {
	dir := &fakeDirectory{ctxErr: errors.New("db down")}
	sel := NewSelector("", "", dir, nil)

	if got := sel.Context(context.Background(), "s1"); got != nil {
		t.Errorf("Context() = %v, want nil on directory error", got)
	}
}

func TestBuildInstructions(t *testing.T) {
	t.Run("nil context uses fallback", func(t *testing.T) {
		if got := BuildInstructions(nil); got != defaultInstructions {
			t.Errorf("BuildInstructions(nil) = %q", got)
		}
	})

	t.Run("includes problem and language", func(t *testing.T) {
		got := BuildInstructions(&directory.SessionContext{
			ProblemTitle:       "Two Sum",
			ProblemDescription: "Given an array...",
			Difficulty:         "easy",
			Language:           "python",
		})
		for _, want := range []string{"Two Sum", "easy", "python", "Given an array..."} {
			if !strings.Contains(got, want) {
				t.Errorf("instructions missing %q", want)
			}
		}
		if !strings.Contains(got, "Gauge the candidate's level") {
			t.Error("instructions missing default level guidance")
		}
	})

	t.Run("experience level guidance", func(t *testing.T) {
		got := BuildInstructions(&directory.SessionContext{ExperienceLevel: "senior"})
		if !strings.Contains(got, "senior-level") {
			t.Error("instructions missing experience-level guidance")
		}
	})

	t.Run("long descriptions truncated", func(t *testing.T) {
		long := strings.Repeat("x", 2*maxDescriptionChars)
		got := BuildInstructions(&directory.SessionContext{ProblemDescription: long})
		if strings.Contains(got, long) {
			t.Error("full description included, want truncation")
		}
		if !strings.Contains(got, strings.Repeat("x", maxDescriptionChars)) {
			t.Error("truncated description missing")
		}
	})
}
