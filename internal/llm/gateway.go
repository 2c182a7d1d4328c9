package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrProvider         = errors.New("llm provider error")
	ErrRateLimited      = errors.New("llm rate limited")
	ErrExtractionFailed = errors.New("structured extraction failed")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-neutral shape of a single model call.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Provider is a hosted model API. Implementations classify HTTP 429 as
// ErrRateLimited and any other transport or API failure as ErrProvider.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream is a pull-based sequence of text fragments. Next returns io.EOF once
// the model is done. Close may be called at any time and releases the
// underlying connection; it is safe to call more than once.
type Stream interface {
	Next() (string, error)
	Close() error
}

type Options struct {
	Temperature float64
	MaxTokens   int
}

type Config struct {
	CallTimeout  time.Duration
	RetryBackoff time.Duration
}

const (
	defaultCallTimeout  = 60 * time.Second
	defaultRetryBackoff = 2 * time.Second
	defaultMaxTokens    = 1024
)

type Gateway struct {
	provider Provider
	cfg      Config
	logger   *slog.Logger
}

func NewGateway(provider Provider, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	return &Gateway{provider: provider, cfg: cfg, logger: logger}
}

// Generate runs one blocking completion. A rate-limited call is retried once
// after the configured backoff.
func (g *Gateway) Generate(ctx context.Context, system string, messages []Message, opts Options) (string, error) {
	req := g.request(system, messages, opts)

	text, err := g.complete(ctx, req)
	if !errors.Is(err, ErrRateLimited) {
		return text, err
	}

	g.logger.Warn("llm rate limited, retrying once", "backoff", g.cfg.RetryBackoff)
	select {
	case <-time.After(g.cfg.RetryBackoff):
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrProvider, ctx.Err())
	}
	return g.complete(ctx, req)
}

// GenerateStream opens a streaming completion. Streams are never retried; the
// call timeout covers the whole stream.
func (g *Gateway) GenerateStream(ctx context.Context, system string, messages []Message, opts Options) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	s, err := g.provider.Stream(ctx, g.request(system, messages, opts))
	if err != nil {
		cancel()
		return nil, g.classify(ctx, err)
	}
	return &timedStream{Stream: s, ctx: ctx, cancel: cancel, gw: g}, nil
}

func (g *Gateway) complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	text, err := g.provider.Complete(ctx, req)
	if err != nil {
		return "", g.classify(ctx, err)
	}
	return text, nil
}

// classify guarantees every failure leaving the gateway carries one of the
// package sentinels.
func (g *Gateway) classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProvider) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: call timed out after %s", ErrProvider, g.cfg.CallTimeout)
	}
	return fmt.Errorf("%w: %w", ErrProvider, err)
}

func (g *Gateway) request(system string, messages []Message, opts Options) Request {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return Request{
		System:      system,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   maxTokens,
	}
}
