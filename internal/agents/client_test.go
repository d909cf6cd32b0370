package agents

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testSecret = "webhook-secret"

func expectedSignature(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestClientEvaluateSignsAndDecodes(t *testing.T) {
	var gotPath, gotSig, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSig = r.Header.Get("X-Internal-Signature")
		gotKey = r.Header.Get("Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(EvaluateResult{
			OverallScore:         82,
			HiringRecommendation: "yes",
			Strengths:            []string{"clear communication"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testSecret)
	result, err := client.Evaluate(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if gotPath != "/api/internal/agents/evaluate" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "eval-session-1" {
		t.Errorf("Idempotency-Key = %q, want eval-session-1", gotKey)
	}
	if gotSig != expectedSignature(gotBody) {
		t.Errorf("signature = %q, want HMAC of the exact request body", gotSig)
	}
	if result.OverallScore != 82 || result.HiringRecommendation != "yes" {
		t.Errorf("result = %+v", result)
	}
}

func TestClientEvaluateConflictMeansAlreadyScored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testSecret)
	result, err := client.Evaluate(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Evaluate() on 409 error = %v, want nil", err)
	}
	if result == nil {
		t.Fatal("Evaluate() on 409 = nil result, want a placeholder")
	}
}

func TestClientEvaluateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testSecret)
	if _, err := client.Evaluate(context.Background(), "session-1"); err == nil {
		t.Fatal("Evaluate() on 500 error = nil, want error")
	}
}

func TestClientObserveCodeFreshIdempotencyKeys(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["code"] != "x = 1" || req["language"] != "python" {
			t.Errorf("request = %v", req)
		}
		json.NewEncoder(w).Encode(CodeAnalysis{Approach: "iterative"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testSecret)
	for i := 0; i < 2; i++ {
		analysis, err := client.ObserveCode(context.Background(), "session-1", "x = 1", "python")
		if err != nil {
			t.Fatalf("ObserveCode() error = %v", err)
		}
		if analysis.Approach != "iterative" {
			t.Errorf("analysis = %+v", analysis)
		}
	}
	if len(keys) != 2 || keys[0] == keys[1] || keys[0] == "" {
		t.Errorf("idempotency keys = %v, want two distinct non-empty keys", keys)
	}
}

func TestClientUnconfiguredSkips(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		secret  string
	}{
		{"no base url", "", testSecret},
		{"no secret", "https://app.example.com", ""},
		{"blank secret", "https://app.example.com", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.baseURL, tt.secret)
			if client.Enabled() {
				t.Fatal("Enabled() = true, want false")
			}
			result, err := client.Evaluate(context.Background(), "session-1")
			if result != nil || err != nil {
				t.Errorf("Evaluate() = %v, %v, want nil, nil", result, err)
			}
		})
	}
}

func TestNewClientNormalizesBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"app.example.com", "https://app.example.com"},
		{"https://app.example.com/", "https://app.example.com"},
		{"http://localhost:3000", "http://localhost:3000"},
	}
	for _, tt := range tests {
		if got := NewClient(tt.in, testSecret).baseURL; got != tt.want {
			t.Errorf("NewClient(%q).baseURL = %q, want %q", tt.in, got, tt.want)
		}
	}
}
