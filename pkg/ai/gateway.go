package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	DefaultModel   = "gemini-1.5-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
)

// Analyzer produces a free-text analysis for a prompt. The production
// implementation is GeminiClient; tests substitute a stub.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

type GeminiClient struct {
	Client     *http.Client
	BaseURL    string
	APIKey     string
	Model      string
	Retries    int
	RetryDelay time.Duration
}

func NewGeminiFromEnv(client *http.Client) (*GeminiClient, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	base := os.Getenv("GEMINI_BASE_URL")
	if base == "" {
		base = DefaultBaseURL
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = DefaultModel
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &GeminiClient{
		Client:     client,
		BaseURL:    strings.TrimRight(base, "/"),
		APIKey:     key,
		Model:      model,
		Retries:    1,
		RetryDelay: 500 * time.Millisecond,
	}, nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *GeminiClient) Analyze(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", err
	}
	status, resp, err := g.generate(ctx, body)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	var decoded generateResponse
	if err := json.Unmarshal(resp, &decoded); err != nil {
		return "", fmt.Errorf("gemini response decode: %w", err)
	}
	if status != http.StatusOK {
		if decoded.Error != nil {
			return "", fmt.Errorf("gemini status %d: %s", status, decoded.Error.Message)
		}
		return "", fmt.Errorf("gemini status %d", status)
	}
	if len(decoded.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, p := range decoded.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return text, nil
}

// generate posts the payload to the generateContent endpoint. Transport
// errors and 5xx answers are retried up to g.Retries times; non-5xx
// statuses come back to the caller for decoding.
func (g *GeminiClient) generate(ctx context.Context, payload []byte) (int, []byte, error) {
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.BaseURL, g.Model, g.APIKey)

	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err == nil {
			respBody, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr == nil {
				if resp.StatusCode < 500 || attempt >= g.Retries {
					return resp.StatusCode, respBody, nil
				}
				lastErr = fmt.Errorf("gemini status %d", resp.StatusCode)
			} else {
				lastErr = readErr
			}
		} else {
			lastErr = err
		}
		if attempt >= g.Retries {
			return 0, nil, lastErr
		}
		time.Sleep(g.RetryDelay)
	}
}
