// Package auth validates connection credentials with single-use replay
// protection.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/store"
)

// ErrUnauthorized is the single outcome for every verification failure.
// Malformed, expired, replayed and foreign-session credentials are
// indistinguishable to the caller.
var ErrUnauthorized = errors.New("unauthorized")

// SessionIdentity is the verified identity behind one connection.
type SessionIdentity struct {
	SessionID string
	UserID    string
}

// Config holds credential validation parameters.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	MaxAge   time.Duration
}

// Verifier validates tokens and enforces single-use ids.
type Verifier struct {
	cfg    Config
	replay store.ReplayStore
	dir    directory.Directory
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config, replay store.ReplayStore, dir directory.Directory) *Verifier {
	return &Verifier{cfg: cfg, replay: replay, dir: dir}
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID         string `json:"userId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	SessionIDSnake string `json:"session_id,omitempty"`
}

// Verify validates the credential and returns the session identity. The
// jti is marked used before returning, so a second call with the same
// credential fails.
func (v *Verifier) Verify(ctx context.Context, credential string) (*SessionIdentity, error) {
	logger := logging.WithComponent("auth")

	if strings.TrimSpace(credential) == "" {
		return nil, ErrUnauthorized
	}
	if v.cfg.Secret == "" {
		logger.Error().Msg("Token secret not configured")
		return nil, ErrUnauthorized
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(credential, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(v.cfg.Secret), nil
		},
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithIssuedAt(),
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	// Short max age on top of exp: a credential is only good moments after
	// it was minted.
	if claims.IssuedAt == nil || time.Since(claims.IssuedAt.Time) > v.cfg.MaxAge {
		return nil, ErrUnauthorized
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = claims.SessionIDSnake
	}
	if userID == "" || sessionID == "" {
		return nil, ErrUnauthorized
	}

	if jti := claims.ID; jti != "" {
		used, err := v.replay.IsUsed(ctx, jti)
		if err != nil || used {
			return nil, ErrUnauthorized
		}
		if err := v.replay.MarkUsed(ctx, jti); err != nil {
			return nil, ErrUnauthorized
		}
	}

	// The target session must exist, belong to the same user, and still be
	// active.
	auth, err := v.dir.GetSessionAuth(ctx, sessionID)
	if err != nil {
		logger.Warn().Err(err).Str("sessionId", sessionID).Msg("Directory lookup failed during verification")
		return nil, ErrUnauthorized
	}
	if auth == nil || auth.UserID != userID || auth.Status != "active" {
		return nil, ErrUnauthorized
	}

	return &SessionIdentity{SessionID: sessionID, UserID: userID}, nil
}
