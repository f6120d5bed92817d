package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/cache/redis"
	"github.com/prefopt/backend/internal/metrics"
	"github.com/prefopt/backend/pkg/circuitbreaker"
	"github.com/prefopt/backend/pkg/config"
	"github.com/prefopt/backend/pkg/logger"
	"github.com/prefopt/backend/pkg/retry"
	"github.com/prefopt/backend/pkg/utils"
)

// Request is one generation call. Model selects which configured model
// serves it; zero Temperature and MaxTokens fall back to the defaults.
type Request struct {
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
}

// Response is the outcome of a generation call. Generation never fails
// at the API level: on error, Success is false, Err carries the cause,
// and Content holds a degraded placeholder the caller can still show.
type Response struct {
	Content        string        `json:"content"`
	Model          string        `json:"model"`
	Success        bool          `json:"success"`
	Err            string        `json:"error,omitempty"`
	Tokens         int           `json:"tokens"`
	CompletionTime time.Duration `json:"completion_time"`
	Cached         bool          `json:"cached"`
}

type modelStats struct {
	requests  int
	failures  int
	tokens    int
	totalTime time.Duration
}

// ModelStats is the per-model usage snapshot exposed on the stats surface.
type ModelStats struct {
	Requests    int           `json:"requests"`
	Failures    int           `json:"failures"`
	Tokens      int           `json:"tokens"`
	AverageTime time.Duration `json:"average_time"`
}

// Client generates responses through an OpenAI-compatible endpoint, with
// retries and a circuit breaker around the upstream and an optional redis
// cache in front of it.
type Client struct {
	client      *openai.Client
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	cache       *redis.Client

	mu    sync.Mutex
	stats map[string]*modelStats
}

func NewClient(cfg config.LLMConfig, cache *redis.Client) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized", zap.String("base_url", cfg.BaseURL))

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
		cache:       cache,
		stats:       map[string]*modelStats{},
	}
}

// Generate runs one completion. The returned response is never nil.
func (c *Client) Generate(ctx context.Context, req Request) *Response {
	start := time.Now()

	if cached := c.fromCache(ctx, req); cached != nil {
		metrics.RecordLLMCacheHit()
		return cached
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	var content string
	var tokens int

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       req.Model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			content = resp.Choices[0].Message.Content
			tokens = resp.Usage.TotalTokens
			return nil
		})
	})

	elapsed := time.Since(start)
	c.recordStats(req.Model, elapsed, tokens, err == nil)
	metrics.ObserveLLMRequest(req.Model, elapsed, tokens, err == nil)

	if err != nil {
		logger.Error("Generation failed",
			zap.String("model", req.Model),
			zap.Error(err),
		)
		return &Response{
			Content:        fmt.Sprintf("The %s model could not produce a response.", req.Model),
			Model:          req.Model,
			Success:        false,
			Err:            err.Error(),
			CompletionTime: elapsed,
		}
	}

	response := &Response{
		Content:        content,
		Model:          req.Model,
		Success:        true,
		Tokens:         tokens,
		CompletionTime: elapsed,
	}

	c.toCache(ctx, req, response)

	logger.Debug("Generation completed",
		zap.String("model", req.Model),
		zap.Int("tokens", tokens),
		zap.Duration("elapsed", elapsed),
	)

	return response
}

func (c *Client) fromCache(ctx context.Context, req Request) *Response {
	if c.cache == nil {
		return nil
	}

	var cached Response
	hit, err := c.cache.GetResponse(ctx, cacheKey(req), &cached)
	if err != nil {
		logger.Warn("Response cache lookup failed", zap.Error(err))
		return nil
	}
	if !hit {
		return nil
	}

	cached.Cached = true
	cached.CompletionTime = 0
	return &cached
}

func (c *Client) toCache(ctx context.Context, req Request, resp *Response) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetResponse(ctx, cacheKey(req), resp); err != nil {
		logger.Warn("Response cache store failed", zap.Error(err))
	}
}

func (c *Client) recordStats(model string, elapsed time.Duration, tokens int, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.stats[model]
	if !ok {
		stats = &modelStats{}
		c.stats[model] = stats
	}

	stats.requests++
	stats.totalTime += elapsed
	stats.tokens += tokens
	if !success {
		stats.failures++
	}
}

func cacheKey(req Request) string {
	return utils.HashString(req.Model + "\x00" + req.SystemPrompt + "\x00" + req.Prompt)
}

// Stats returns per-model usage since startup.
func (c *Client) Stats() map[string]ModelStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]ModelStats, len(c.stats))
	for model, stats := range c.stats {
		avg := time.Duration(0)
		if stats.requests > 0 {
			avg = stats.totalTime / time.Duration(stats.requests)
		}
		out[model] = ModelStats{
			Requests:    stats.requests,
			Failures:    stats.failures,
			Tokens:      stats.tokens,
			AverageTime: avg,
		}
	}
	return out
}
