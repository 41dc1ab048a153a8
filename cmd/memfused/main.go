// memfused serves the memory engine over HTTP: chat turns, on-demand
// consolidation and read access to stored memories and entities.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	openaisdk "github.com/openai/openai-go"

	"github.com/memfuse/memfuse"
	"github.com/memfuse/memfuse/config"
	"github.com/memfuse/memfuse/domainfact"
	factsqlite "github.com/memfuse/memfuse/domainfact/sqlite"
	"github.com/memfuse/memfuse/logging"
	"github.com/memfuse/memfuse/provider"
	"github.com/memfuse/memfuse/provider/anthropic"
	"github.com/memfuse/memfuse/provider/openai"
	storesqlite "github.com/memfuse/memfuse/store/sqlite"
)

const factsCacheTTL = 30 * time.Second

func main() {
	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load configuration", "error", err)
		os.Exit(1)
	}

	st, err := storesqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("open memory store", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}

	facts, err := openFacts(cfg)
	if err != nil {
		logger.Error("open domain database", "error", err, "path", cfg.FactsDBPath)
		os.Exit(1)
	}

	embedder, completer := buildProviders(cfg, logger)

	mf := memfuse.New(func(o *memfuse.Options) {
		o.Config = cfg
		o.Store = st
		o.Facts = facts
		o.Embedder = embedder
		o.Completer = completer
		o.Logger = logger
	})
	defer mf.Close()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	registerRoutes(r, mf, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // turns wait on model providers
		IdleTimeout:  2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", srv.Addr, "mode", string(cfg.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
}

// openFacts opens the business database when configured, wrapping it in the
// read-through cache. Returns nil when linking is disabled.
func openFacts(cfg *config.Config) (domainfact.Store, error) {
	if cfg.FactsDBPath == "" {
		return nil, nil
	}
	facts, err := factsqlite.New(cfg.FactsDBPath)
	if err != nil {
		return nil, err
	}
	if cfg.FactsSeed {
		if err := facts.Seed(context.Background()); err != nil {
			return nil, err
		}
	}
	return domainfact.NewCachedStore(facts, factsCacheTTL)
}

// buildProviders selects model providers from the configured keys. OpenAI
// covers embeddings; completion prefers Anthropic when its key is present.
func buildProviders(cfg *config.Config, logger logging.Logger) (provider.Embedder, provider.Completer) {
	var embedder provider.Embedder
	var completer provider.Completer

	if cfg.OpenAIKey != "" {
		p := openai.New(func(o *openai.Options) {
			o.APIKey = cfg.OpenAIKey
			if cfg.EmbedModel != "" {
				o.EmbedModel = openaisdk.EmbeddingModel(cfg.EmbedModel)
			}
			if cfg.CompleteModel != "" {
				o.CompleteModel = cfg.CompleteModel
			}
		})
		embedder = p
		completer = p
	}
	if cfg.AnthropicKey != "" {
		completer = anthropic.New(func(o *anthropic.Options) {
			o.APIKey = cfg.AnthropicKey
			if cfg.CompleteModel != "" {
				o.Model = anthropicsdk.Model(cfg.CompleteModel)
			}
		})
	}
	if embedder == nil {
		logger.Warn("no embedding provider configured, retrieval runs keyword-only")
	}
	if completer == nil {
		logger.Warn("no completion provider configured, replies use the fallback text")
	}
	return embedder, completer
}
