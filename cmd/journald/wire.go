package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/callingjournal/internal/anthropic"
	"github.com/MikeSquared-Agency/callingjournal/internal/config"
	"github.com/MikeSquared-Agency/callingjournal/internal/conversation"
	"github.com/MikeSquared-Agency/callingjournal/internal/events"
	"github.com/MikeSquared-Agency/callingjournal/internal/index"
	"github.com/MikeSquared-Agency/callingjournal/internal/journal"
	"github.com/MikeSquared-Agency/callingjournal/internal/llm"
	"github.com/MikeSquared-Agency/callingjournal/internal/maintenance"
	"github.com/MikeSquared-Agency/callingjournal/internal/openai"
	"github.com/MikeSquared-Agency/callingjournal/internal/store"
)

// app is the fully wired service shared by every subcommand.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *store.Store
	gateway   *llm.Gateway
	index     index.Index
	artifacts *journal.FileArtifacts
	synth     *journal.Synthesizer
	ctrl      *conversation.Controller
	maint     *maintenance.Maintainer
	events    *events.Client

	closers []func()
}

// buildApp connects to the database, picks the model provider and index
// backend, and wires the controller. NATS is connected only when withEvents
// is set; a NATS failure is logged and the service runs without events.
func buildApp(ctx context.Context, cfg config.Config, withEvents bool) (*app, error) {
	logger := slog.Default()
	a := &app{cfg: cfg, logger: logger}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	logger.Info("database connected")

	provider, err := newProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gateway = llm.NewGateway(provider, llm.Config{
		CallTimeout:  cfg.LLMCallTimeout,
		RetryBackoff: cfg.LLMRetryBackoff,
	}, logger)
	logger.Info("model provider ready", "provider", cfg.LLMProvider)

	idx, err := newIndex(cfg, db, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.index = idx
	if c, ok := idx.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}

	if withEvents && cfg.NatsURL != "" {
		ec, err := events.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			logger.Warn("NATS unavailable, running without events", "url", cfg.NatsURL, "error", err)
		} else {
			a.events = ec
			a.closers = append(a.closers, ec.Close)
			logger.Info("NATS connected", "url", cfg.NatsURL)
		}
	}

	a.artifacts = journal.NewFileArtifacts(cfg.JournalsDir)
	a.synth = journal.New(a.gateway, a.index, a.artifacts, db, logger)
	a.maint = maintenance.New(db, a.synth, a.index, logger)

	var pub events.Publisher
	if a.events != nil {
		pub = a.events
	}
	a.ctrl = conversation.New(db, a.gateway, a.index, a.synth, pub, conversation.DefaultConfig(), logger)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newProvider(cfg config.Config) (llm.Provider, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
		}
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.EmbeddingModel), nil
	default:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required")
		}
		return anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	}
}

// newIndex picks the embedder (OpenAI when keyed, feature hashing otherwise)
// and the backend.
func newIndex(cfg config.Config, db *store.Store, logger *slog.Logger) (index.Index, error) {
	var emb index.Embedder
	if cfg.OpenAIAPIKey != "" {
		emb = openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.EmbeddingModel)
	} else {
		logger.Warn("OPENAI_API_KEY not set, using local hashed embeddings")
		emb = index.NewHashEmbedder(0)
	}

	switch cfg.IndexBackend {
	case "local":
		idx, err := index.OpenLocal(cfg.IndexLocalPath, emb)
		if err != nil {
			return nil, fmt.Errorf("open local index: %w", err)
		}
		logger.Info("local index ready", "path", cfg.IndexLocalPath, "entries", idx.Count())
		return idx, nil
	default:
		return index.NewPGVector(db.Pool(), emb), nil
	}
}
