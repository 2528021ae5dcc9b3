package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CMarchell/autoclips/internal/artifact"
	"github.com/CMarchell/autoclips/internal/config"
	"github.com/CMarchell/autoclips/internal/dedup"
	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/media"
	"github.com/CMarchell/autoclips/internal/niche"
	"github.com/CMarchell/autoclips/internal/ollama"
	"github.com/CMarchell/autoclips/internal/openai"
	"github.com/CMarchell/autoclips/internal/pipeline"
	"github.com/CMarchell/autoclips/internal/registry"
	"github.com/CMarchell/autoclips/internal/storage"
)

// app is everything a command needs, built from configuration.
type app struct {
	cfg       config.Config
	store     *storage.Store
	artifacts *artifact.Store
	niches    *niche.Loader
	ollama    *ollama.Client
	hosted    *openai.Client
	orch      *pipeline.Orchestrator
	reg       *registry.Registry
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// openApp loads configuration and wires the orchestrator. Nothing here
// talks to the network.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	niches := niche.NewLoader(cfg.Niches.Dir)
	voices, err := niches.LoadVoices()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading voices: %w", err)
	}

	def := executor.DefaultPolicy()
	exec := executor.New(executor.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   config.Duration("retry.base_delay", cfg.Retry.BaseDelay, def.BaseDelay),
		MaxDelay:    config.Duration("retry.max_delay", cfg.Retry.MaxDelay, def.MaxDelay),
		Timeout:     config.Duration("retry.attempt_timeout", cfg.Retry.AttemptTimeout, def.Timeout),
	})

	ledger := dedup.NewLedger(store, time.Duration(cfg.Dedup.TopicWindowDays)*24*time.Hour, cfg.Dedup.FootageWindow)
	artifacts := artifact.New(cfg.Storage.ProjectsDir)

	oc := ollama.New(cfg.Ollama.BaseURL)
	hosted := hostedClient(cfg)
	writer := ollama.NewWriter(oc, cfg.Ollama.Model)
	if hosted != nil {
		writer = ollama.NewWriter(hosted, cfg.OpenAI.Model)
	}

	collab := pipeline.Collaborators{
		Script: writer,
		Voice:  media.NewElevenLabs(cfg.ElevenLabs.APIKey, cfg.ElevenLabs.ModelID, voices),
		Footage: media.NewPexels(cfg.Pexels.APIKey, media.PexelsOptions{
			Orientation: cfg.Pexels.Orientation,
			PerPage:     cfg.Pexels.PerPage,
			MinDuration: cfg.Pexels.MinDuration,
		}),
		Assemble: media.NewFFmpeg(media.FFmpegOptions{
			FFmpegPath: cfg.Render.FFmpegPath,
			Width:      cfg.Render.Width,
			Height:     cfg.Render.Height,
			MusicDir:   filepath.Join(cfg.Storage.DataDir, "music"),
		}),
		Metadata: writer,
		Hook:     writer,
		Keywords: writer,
		Ideas:    writer,
	}

	orch := pipeline.NewOrchestrator(store, ledger, exec, artifacts, niches, collab, pipeline.Options{
		ClipsPerVideo:     cfg.Pipeline.ClipsPerVideo,
		LivenessThreshold: config.Duration("pipeline.liveness_threshold", cfg.Pipeline.LivenessThreshold, 15*time.Minute),
		DefaultNiche:      cfg.Pipeline.DefaultNiche,
		DefaultVoice:      cfg.ElevenLabs.DefaultVoice,
		Captions:          cfg.Render.Captions,
	})

	return &app{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		niches:    niches,
		ollama:    oc,
		hosted:    hosted,
		orch:      orch,
		reg:       registry.New(store, ledger),
	}, nil
}

// hostedClient returns the chat completions client for the openai and
// openrouter providers, or nil when scripts are written by local Ollama.
func hostedClient(cfg config.Config) *openai.Client {
	switch cfg.LLM.Provider {
	case "openai":
		return openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	case "openrouter":
		baseURL := cfg.OpenAI.BaseURL
		if baseURL == "" {
			baseURL = openai.OpenRouterBaseURL
		}
		return openai.NewClient(cfg.OpenAI.APIKey, baseURL)
	}
	return nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// withApp wraps a command body with app setup and teardown.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signalContext(cmd.Context())
}
