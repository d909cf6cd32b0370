package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/store"
)

const testSecret = "test-secret"

type fakeDirectory struct {
	directory.Disabled
	auth map[string]*directory.SessionAuth
}

func (f *fakeDirectory) GetSessionAuth(ctx context.Context, sessionID string) (*directory.SessionAuth, error) {
	return f.auth[sessionID], nil
}

func testVerifier(dir directory.Directory) *Verifier {
	return NewVerifier(Config{
		Secret:   testSecret,
		Issuer:   "interview-prep-realtime",
		Audience: "ws-client",
		MaxAge:   60 * time.Second,
	}, store.NewMemory(), dir)
}

type tokenOpts struct {
	secret    string
	issuer    string
	audience  string
	issuedAt  time.Time
	expiresAt time.Time
	userID    string
	sessionID string
	jti       string
}

func defaultOpts() tokenOpts {
	now := time.Now()
	return tokenOpts{
		secret:    testSecret,
		issuer:    "interview-prep-realtime",
		audience:  "ws-client",
		issuedAt:  now,
		expiresAt: now.Add(time.Minute),
		userID:    "user-1",
		sessionID: "session-1",
		jti:       "jti-1",
	}
}

func mintToken(t *testing.T, o tokenOpts) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":       o.issuer,
		"aud":       o.audience,
		"iat":       o.issuedAt.Unix(),
		"exp":       o.expiresAt.Unix(),
		"userId":    o.userID,
		"sessionId": o.sessionID,
	}
	if o.jti != "" {
		claims["jti"] = o.jti
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(o.secret))
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func activeSessionDir() *fakeDirectory {
	return &fakeDirectory{auth: map[string]*directory.SessionAuth{
		"session-1": {UserID: "user-1", Status: "active"},
	}}
}

func TestVerify_ValidCredential(t *testing.T) {
	v := testVerifier(activeSessionDir())

	identity, err := v.Verify(context.Background(), mintToken(t, defaultOpts()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.SessionID != "session-1" || identity.UserID != "user-1" {
		t.Errorf("unexpected identity: %+v", identity)
	}
}

func TestVerify_ReplayedJtiRejected(t *testing.T) {
	v := testVerifier(activeSessionDir())
	tok := mintToken(t, defaultOpts())

	if _, err := v.Verify(context.Background(), tok); err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	if _, err := v.Verify(context.Background(), tok); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized on replay, got %v", err)
	}
}

func TestVerify_RejectedCredentials(t *testing.T) {
	dir := activeSessionDir()

	tests := []struct {
		name   string
		mutate func(o *tokenOpts)
	}{
		{"wrong secret", func(o *tokenOpts) { o.secret = "other-secret" }},
		{"wrong issuer", func(o *tokenOpts) { o.issuer = "someone-else" }},
		{"wrong audience", func(o *tokenOpts) { o.audience = "other-client" }},
		{"expired", func(o *tokenOpts) {
			o.issuedAt = time.Now().Add(-5 * time.Minute)
			o.expiresAt = time.Now().Add(-4 * time.Minute)
		}},
		{"too old", func(o *tokenOpts) {
			// Still unexpired but minted beyond the max age window.
			o.issuedAt = time.Now().Add(-2 * time.Minute)
			o.expiresAt = time.Now().Add(10 * time.Minute)
		}},
		{"missing user", func(o *tokenOpts) { o.userID = "" }},
		{"missing session", func(o *tokenOpts) { o.sessionID = "" }},
		{"foreign session", func(o *tokenOpts) { o.userID = "user-2" }},
		{"unknown session", func(o *tokenOpts) { o.sessionID = "session-404" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testVerifier(dir)
			o := defaultOpts()
			o.jti = o.jti + "-" + tt.name
			tt.mutate(&o)
			if _, err := v.Verify(context.Background(), mintToken(t, o)); err != ErrUnauthorized {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestVerify_InactiveSessionRejected(t *testing.T) {
	dir := &fakeDirectory{auth: map[string]*directory.SessionAuth{
		"session-1": {UserID: "user-1", Status: "completed"},
	}}
	v := testVerifier(dir)

	if _, err := v.Verify(context.Background(), mintToken(t, defaultOpts())); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized for inactive session, got %v", err)
	}
}

func TestVerify_EmptyCredential(t *testing.T) {
	v := testVerifier(activeSessionDir())
	if _, err := v.Verify(context.Background(), "  "); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
