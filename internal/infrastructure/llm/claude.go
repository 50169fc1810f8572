// Package llm implements the scoring contract against the Anthropic
// messages API. The client owns transport concerns: throttling, bounded
// retries, and parsing the model's JSON reply. Score clamping and fallback
// stay with the pipeline, which treats this output as untrusted.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

const (
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	maxAttempts      = 3
	retryBaseDelay   = 2 * time.Second
)

// ErrMalformedResponse marks a reply that could not be parsed into the
// expected score shape. Callers substitute the fallback result for it.
var ErrMalformedResponse = errors.New("malformed classifier response")

// Config carries everything needed to reach the classifier.
type Config struct {
	Endpoint       string
	Model          string
	APIKey         string
	MaxTokens      int
	RequestsPerSec float64
}

// ClaudeClassifier scores signals with a Claude model.
type ClaudeClassifier struct {
	endpoint   string
	model      string
	apiKey     string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    time.Duration
}

var _ ports.Classifier = (*ClaudeClassifier)(nil)

// NewClaudeClassifier builds a client from configuration. The limiter
// serializes calls to respect the API's rate ceiling even when sources are
// drained concurrently.
func NewClaudeClassifier(cfg Config) *ClaudeClassifier {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	return &ClaudeClassifier{
		endpoint:   endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		backoff:    retryBaseDelay,
	}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// scorePayload is the JSON shape the system prompt demands from the model.
type scorePayload struct {
	Pain       int    `json:"pain_intensity"`
	Urgency    int    `json:"urgency"`
	Commercial int    `json:"commercial_context"`
	Proximity  int    `json:"decision_maker"`
	Fit        int    `json:"domain_fit"`
	Total      int    `json:"total_score"`
	Category   string `json:"category"`
	Reasoning  string `json:"reasoning"`
	Hook       string `json:"suggested_hook"`
}

// Classify sends one signal for scoring. Transient failures (network,
// 429, 5xx) are retried with linear backoff up to maxAttempts; anything
// unparseable comes back wrapped in ErrMalformedResponse.
func (c *ClaudeClassifier) Classify(ctx context.Context, req domain.ScoreRequest) (domain.ScoreResult, error) {
	if c.apiKey == "" || c.model == "" {
		return domain.ScoreResult{}, fmt.Errorf("claude classifier misconfigured")
	}

	body, err := json.Marshal(messageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    scoringPrompt,
		Messages:  []message{{Role: "user", Content: buildUserMessage(req)}},
	})
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.ScoreResult{}, err
		}

		text, retryable, err := c.send(ctx, body)
		if err == nil {
			return parseResult(text)
		}
		lastErr = err
		if !retryable {
			return domain.ScoreResult{}, err
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return domain.ScoreResult{}, ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	return domain.ScoreResult{}, fmt.Errorf("classify after %d attempts: %w", maxAttempts, lastErr)
}

func (c *ClaudeClassifier) send(ctx context.Context, body []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return "", true, fmt.Errorf("claude returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", false, fmt.Errorf("claude error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, fmt.Errorf("%w: decode envelope: %v", ErrMalformedResponse, err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, false, nil
		}
	}
	return "", false, fmt.Errorf("%w: no text block in reply", ErrMalformedResponse)
}

func parseResult(text string) (domain.ScoreResult, error) {
	var payload scorePayload
	if err := json.Unmarshal([]byte(stripFences(text)), &payload); err != nil {
		return domain.ScoreResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	// The reported total_score is ignored on purpose; the pipeline
	// recomputes it from the clamped dimensions.
	return domain.ScoreResult{
		Scores: domain.ScoreVector{
			Pain:       payload.Pain,
			Urgency:    payload.Urgency,
			Commercial: payload.Commercial,
			Proximity:  payload.Proximity,
			Fit:        payload.Fit,
		},
		Category:  domain.ParseCategory(payload.Category),
		Rationale: payload.Reasoning,
		Hook:      payload.Hook,
	}, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		} else {
			text = text[3:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func buildUserMessage(req domain.ScoreRequest) string {
	var b strings.Builder
	b.WriteString("Source: ")
	if req.Context != "" {
		b.WriteString(req.Context)
	} else {
		b.WriteString("unknown")
	}
	b.WriteString("\nAuthor: ")
	if req.Author != "" {
		b.WriteString(req.Author)
	} else {
		b.WriteString("unknown")
	}
	b.WriteString("\nTitle: ")
	b.WriteString(req.Title)
	b.WriteString("\n\nContent:\n")
	b.WriteString(req.Body)
	return b.String()
}
