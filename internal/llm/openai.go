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

	"github.com/datachat/datachat/internal/prompt"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// OpenAIGateway talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIGateway struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	client      *http.Client

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &OpenAIGateway{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  retries,
		client:      &http.Client{Timeout: timeout},
		sleep:       sleepContext,
	}, nil
}

// Generate requests a completion, retrying transient failures up to the
// configured cap with doubling backoff.
func (g *OpenAIGateway) Generate(ctx context.Context, p prompt.Prompt) (Candidate, error) {
	backoff := 250 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, backoff); err != nil {
				return Candidate{}, fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
			}
			backoff *= 2
		}

		sqlText, err := g.complete(ctx, p)
		if err == nil {
			return Candidate{SQL: sqlText, Attempt: attempt, Model: g.model}, nil
		}
		if !isTransient(err) {
			return Candidate{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		lastErr = err
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || isTimeout(lastErr) {
		return Candidate{}, fmt.Errorf("%w: %v", ErrGenerationTimeout, lastErr)
	}
	return Candidate{}, fmt.Errorf("%w: retries exhausted: %v", ErrGenerationFailed, lastErr)
}

func (g *OpenAIGateway) complete(ctx context.Context, p prompt.Prompt) (string, error) {
	payload := map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "system", "content": p.System},
			{"role": "user", "content": p.User},
		},
		"temperature": g.temperature,
	}
	if g.maxTokens > 0 {
		payload["max_tokens"] = g.maxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", &transportError{cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transportError{cause: fmt.Errorf("read chat response body: %w", err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &transportError{cause: fmt.Errorf("chat completion failed status=%d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}

	sqlText := ExtractSQL(parsed.Choices[0].Message.Content)
	if sqlText == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	return sqlText, nil
}

// ExtractSQL pulls the SQL statement out of a model response, stripping
// markdown fences and surrounding prose.
func ExtractSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if start := strings.Index(trimmed, "```"); start >= 0 {
		rest := trimmed[start+3:]
		rest = strings.TrimPrefix(rest, "sql")
		rest = strings.TrimPrefix(rest, "SQL")
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return trimmed
}

type transportError struct {
	cause error
}

func (e *transportError) Error() string { return e.cause.Error() }
func (e *transportError) Unwrap() error { return e.cause }

func isTransient(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

func isTimeout(err error) bool {
	var te *transportError
	if !errors.As(err, &te) {
		return false
	}
	var netErr interface{ Timeout() bool }
	if errors.As(te.cause, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
