// Package agents calls the application's internal agent endpoints: the
// evaluator when a session ends and the code observer on code edits.
// Requests are HMAC-signed and carry idempotency keys so replays and
// worker retries stay safe.
package agents

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"interview-realtime-gateway/internal/observability/logging"
)

const (
	signatureHeader   = "X-Internal-Signature"
	idempotencyHeader = "Idempotency-Key"

	requestTimeout = 30 * time.Second
)

// EvaluateResult is the evaluator endpoint's response.
type EvaluateResult struct {
	OverallScore           int      `json:"overallScore"`
	ProblemSolvingScore    int      `json:"problemSolvingScore"`
	ProblemSolvingFeedback string   `json:"problemSolvingFeedback,omitempty"`
	CodeQualityScore       int      `json:"codeQualityScore"`
	CodeQualityFeedback    string   `json:"codeQualityFeedback,omitempty"`
	CommunicationScore     int      `json:"communicationScore"`
	CommunicationFeedback  string   `json:"communicationFeedback,omitempty"`
	EfficiencyScore        int      `json:"efficiencyScore"`
	EfficiencyFeedback     string   `json:"efficiencyFeedback,omitempty"`
	Strengths              []string `json:"strengths"`
	Improvements           []string `json:"improvements"`
	HiringRecommendation   string   `json:"hiringRecommendation"`
	DetailedReport         string   `json:"detailedReport"`
}

// CodeAnalysis is the observe-code endpoint's response.
type CodeAnalysis struct {
	SyntaxErrors        []string `json:"syntaxErrors"`
	Approach            string   `json:"approach"`
	EstimatedComplexity string   `json:"estimatedComplexity"`
	Warnings            []string `json:"warnings"`
	SuggestRun          bool     `json:"suggestRun"`
}

// Client posts signed requests to the agent endpoints. An unconfigured
// client (missing base URL or secret) skips calls and logs instead.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates an agent client. baseURL may omit the scheme; https
// is assumed.
func NewClient(baseURL, secret string) *Client {
	url := strings.TrimSpace(baseURL)
	if url != "" && !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}
	return &Client{
		baseURL: strings.TrimRight(url, "/"),
		secret:  strings.TrimSpace(secret),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Enabled reports whether the client has a target and a signing secret.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.secret != ""
}

// Evaluate asks the evaluator to score a completed session. The
// idempotency key is derived from the session id, so a retried
// session.ended event never produces a second evaluation; the endpoint
// answers 409 for a session it already scored and that counts as
// success.
func (c *Client) Evaluate(ctx context.Context, sessionID string) (*EvaluateResult, error) {
	if !c.Enabled() {
		logger := logging.WithComponent("agents")
		logger.Debug().Str("sessionId", sessionID).Msg("Evaluator not configured, skipping")
		return nil, nil
	}

	body, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return nil, fmt.Errorf("marshal evaluate request: %w", err)
	}

	resp, respBody, err := c.post(ctx, "/api/internal/agents/evaluate", body, "eval-"+sessionID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusConflict {
		logger := logging.WithComponent("agents")
		logger.Info().Str("sessionId", sessionID).Msg("Session already evaluated")
		return &EvaluateResult{HiringRecommendation: "maybe"}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("evaluate returned %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var result EvaluateResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode evaluate response: %w", err)
	}
	return &result, nil
}

// ObserveCode sends a code snapshot for analysis. Each call gets a fresh
// idempotency key; repeated edits are distinct observations.
func (c *Client) ObserveCode(ctx context.Context, sessionID, code, language string) (*CodeAnalysis, error) {
	if !c.Enabled() {
		logger := logging.WithComponent("agents")
		logger.Debug().Str("sessionId", sessionID).Msg("Observer not configured, skipping")
		return nil, nil
	}

	body, err := json.Marshal(map[string]string{
		"sessionId": sessionID,
		"code":      code,
		"language":  language,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal observe request: %w", err)
	}

	resp, respBody, err := c.post(ctx, "/api/internal/agents/observe-code", body, uuid.NewString())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("observe-code returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var result CodeAnalysis
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode observe response: %w", err)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, idempotencyKey string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, signBody(body, c.secret))
	req.Header.Set(idempotencyHeader, idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, respBody, nil
}

// signBody computes the hex HMAC-SHA256 of the request body.
func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
