// Package provider adapts a Genkit-configured LLM to the agent's Model
// interface and shields it with client-side rate limiting, retries with
// exponential backoff, and a circuit breaker.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nutria0/nutria/internal/agent"
)

// BreakerConfig configures the circuit breaker around the model API.
type BreakerConfig struct {
	MaxFailures uint32        // consecutive failures before opening (default: 5)
	Timeout     time.Duration // open duration before probing (default: 30s)
	MaxRequests uint32        // probes allowed while half-open (default: 2)
}

// Config assembles a Client.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string
	Tools     []ai.Tool
	Logger    *slog.Logger
	Retry     RetryConfig
	Breaker   BreakerConfig
	// RequestsPerMinute caps outbound model calls; 0 disables the limiter.
	RequestsPerMinute int
}

// Client is an agent.Model backed by a Genkit model.
type Client struct {
	g         *genkit.Genkit
	modelName string
	toolRefs  []ai.ToolRef
	logger    *slog.Logger
	retry     RetryConfig
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[*ai.ModelResponse]
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 && retryCfg.InitialInterval == 0 {
		retryCfg = DefaultRetryConfig()
	}

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.Breaker.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRequests := cfg.Breaker.MaxRequests
	if maxRequests == 0 {
		maxRequests = 2
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.RequestsPerMinute)
	}

	breaker := gobreaker.NewCircuitBreaker[*ai.ModelResponse](gobreaker.Settings{
		Name:        "model-api",
		MaxRequests: maxRequests,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return &Client{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		toolRefs:  toolRefs,
		logger:    logger,
		retry:     retryCfg,
		limiter:   limiter,
		breaker:   breaker,
	}, nil
}

// Generate implements agent.Model. Tool requests come back to the caller
// rather than being executed inside Genkit, so the agent loop keeps control
// of dispatch and checkpointing.
func (c *Client) Generate(ctx context.Context, req *agent.ModelRequest, cb agent.StreamCallback) (*ai.ModelResponse, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(req.Messages...),
		ai.WithReturnToolRequests(true),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if len(c.toolRefs) > 0 {
		opts = append(opts, ai.WithTools(c.toolRefs...))
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(ai.ModelStreamCallback(cb)))
	}

	return c.executeWithRetry(ctx, func() (*ai.ModelResponse, error) {
		return c.breaker.Execute(func() (*ai.ModelResponse, error) {
			resp, err := genkit.Generate(ctx, c.g, opts...)
			if err != nil {
				return nil, fmt.Errorf("generate: %w", err)
			}
			return resp, nil
		})
	})
}
