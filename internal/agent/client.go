package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Hadxxx/MedicIA/internal/platform/metrics"
)

var tracer = otel.Tracer("github.com/Hadxxx/MedicIA/internal/agent")

var ErrEmptyCompletion = errors.New("completion has no content")

// Config describes one OpenAI-compatible chat completions endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// Timeout caps a single HTTP attempt; callers bound the whole call with ctx.
	Timeout         time.Duration
	Retries         int
	RateLimit       float64 // requests per second; 0 disables limiting
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client talks to a chat completions API. Calls are rate limited and pass
// through a circuit breaker that opens after consecutive failures.
type Client struct {
	http    *resty.Client
	model   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	metrics *metrics.Collector
	log     *zap.Logger
}

func NewClient(cfg Config, m *metrics.Collector, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	log = log.Named("agent").With(zap.String("model", cfg.Model))

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "llm-" + cfg.Model,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not the endpoint's fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		http:    httpClient,
		model:   cfg.Model,
		limiter: limiter,
		breaker: breaker,
		metrics: m,
		log:     log,
	}
}

func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type completion struct {
	operation   string
	messages    []chatMessage
	maxTokens   int
	temperature float64
	jsonOutput  bool
}

// complete runs one chat completion and returns the first choice's content.
func (c *Client) complete(ctx context.Context, req completion) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.chat_completion", trace.WithAttributes(
		attribute.String("llm.model", c.model),
		attribute.String("llm.operation", req.operation),
	))
	defer span.End()

	start := time.Now()
	content, err := c.breaker.Execute(func() (string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
		return c.post(ctx, req)
	})

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn("completion failed", zap.String("operation", req.operation), zap.Error(err))
	}
	c.metrics.LLMRequestDuration.WithLabelValues(c.model, req.operation, result).Observe(time.Since(start).Seconds())
	return content, err
}

func (c *Client) post(ctx context.Context, req completion) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    req.messages,
		MaxTokens:   req.maxTokens,
		Temperature: req.temperature,
	}
	if req.jsonOutput {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out chatResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", fmt.Errorf("chat completion returned %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return out.Choices[0].Message.Content, nil
}
