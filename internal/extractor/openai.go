package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// ExtractFeaturePrompt instructs the model to return the signal as JSON.
const ExtractFeaturePrompt = `You are a Senior Product Manager. Analyze the following user feedback.
Output a JSON object with these keys:
- "feature_title": A short, standard feature name (e.g., "Dark Mode", "SSO Support").
- "problem_summary": A 1-sentence summary of the user's pain.
- "sentiment": "positive", "neutral", or "negative".
- "urgency": 1-10 scale based on emotional language.
- "tags": Array of keywords (e.g., ["ux", "api", "billing"]).

Return ONLY valid JSON, no markdown code blocks or extra text.`

const (
	extractTemperature = 0.2
	extractMaxTokens   = 1024
)

// Completer sends a single system+user prompt and returns the model's text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIConfig configures an OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAIClient is a Completer backed by any OpenAI-compatible API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a chat client. BaseURL may point at Groq or a local gateway.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: extractTemperature,
		MaxTokens:   extractMaxTokens,
	})
	if err != nil {
		if isClientError(err) {
			return "", permanent(fmt.Errorf("chat completion: %w", err))
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// isClientError reports 4xx responses other than rate limiting.
func isClientError(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

// ErrUnavailable is returned when the LLM endpoint is not reachable or the
// circuit breaker is open.
var ErrUnavailable = errors.New("extractor unavailable")

// LLMExtractor extracts signals through a Completer with retries, a circuit
// breaker and an input token budget.
type LLMExtractor struct {
	llm     Completer
	breaker *CircuitBreaker
	budget  *TokenBudget
	retry   RetryConfig
	logger  zerolog.Logger
}

// NewLLMExtractor wires a Completer with resilience defaults.
// budget may be nil to disable truncation.
func NewLLMExtractor(llm Completer, budget *TokenBudget, logger zerolog.Logger) *LLMExtractor {
	return &LLMExtractor{
		llm:     llm,
		breaker: NewCircuitBreaker(5, 60*time.Second),
		budget:  budget,
		retry:   DefaultRetryConfig(),
		logger:  logger.With().Str("component", "extractor").Logger(),
	}
}

// Extract implements the extraction half of the adapter.
// Bad model output degrades; transport failures are errors.
func (e *LLMExtractor) Extract(ctx context.Context, content string) (Result, error) {
	if !e.breaker.Allow() {
		return Result{}, fmt.Errorf("%w: circuit %s", ErrUnavailable, e.breaker.State())
	}

	input, truncated := e.budget.Fit(content)
	if truncated {
		e.logger.Debug().Int("chars", len(content)).Msg("Feedback truncated to token budget")
	}

	var raw string
	err := retry(ctx, e.retry, e.logger, func() error {
		out, err := e.llm.Complete(ctx, ExtractFeaturePrompt, "Input Text: "+input)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		e.breaker.RecordFailure()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	e.breaker.RecordSuccess()

	res := ParseSignal(raw, content)
	if res.Degraded {
		e.logger.Warn().Str("reason", res.Reason).Msg("Extraction degraded")
	}
	return res, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (e *LLMExtractor) Breaker() *CircuitBreaker {
	return e.breaker
}
