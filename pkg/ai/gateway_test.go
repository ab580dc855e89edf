package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func geminiBody(t *testing.T, r *http.Request) generateRequest {
	t.Helper()
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Fatalf("missing api key")
		}
		req := geminiBody(t, r)
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "analyze this" {
			t.Fatalf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Total assets grew "},{"text":"12% year over year."}]}}]}`))
	}))
	defer srv.Close()

	g := &GeminiClient{Client: srv.Client(), BaseURL: srv.URL, APIKey: "test-key", Model: DefaultModel}
	got, err := g.Analyze(context.Background(), "analyze this")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got != "Total assets grew 12% year over year." {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestAnalyzeRetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	g := &GeminiClient{Client: srv.Client(), BaseURL: srv.URL, APIKey: "k", Model: DefaultModel, Retries: 1, RetryDelay: time.Millisecond}
	got, err := g.Analyze(context.Background(), "q")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got != "ok" || calls != 2 {
		t.Fatalf("expected retry then success, got %q after %d calls", got, calls)
	}
}

func TestAnalyzeUpstreamError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"API key not valid"}}`))
	}))
	defer srv.Close()

	g := &GeminiClient{Client: srv.Client(), BaseURL: srv.URL, APIKey: "bad", Model: DefaultModel, Retries: 3, RetryDelay: time.Millisecond}
	_, err := g.Analyze(context.Background(), "q")
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
}

func TestAnalyzeNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	g := &GeminiClient{Client: srv.Client(), BaseURL: srv.URL, APIKey: "k", Model: DefaultModel}
	if _, err := g.Analyze(context.Background(), "q"); err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestNewGeminiFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := NewGeminiFromEnv(nil); err == nil {
		t.Fatal("expected error without api key")
	}

	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("GEMINI_BASE_URL", "https://example.test/")
	g, err := NewGeminiFromEnv(nil)
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if g.BaseURL != "https://example.test" {
		t.Fatalf("base url not trimmed: %q", g.BaseURL)
	}
	if g.Model != DefaultModel {
		t.Fatalf("unexpected model %q", g.Model)
	}
}
