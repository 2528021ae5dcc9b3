package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Storage    StorageConfig
	Niches     NichesConfig
	Dedup      DedupConfig
	Pipeline   PipelineConfig
	Retry      RetryConfig
	Server     ServerConfig
	LLM        LLMConfig
	Ollama     OllamaConfig
	OpenAI     OpenAIConfig
	Pexels     PexelsConfig
	ElevenLabs ElevenLabsConfig
	Render     RenderConfig
	Log        LogConfig
}

type StorageConfig struct {
	DataDir     string
	ProjectsDir string
}

type NichesConfig struct {
	Dir string
}

type DedupConfig struct {
	TopicWindowDays int
	FootageWindow   int
}

// PipelineConfig holds orchestrator settings. LivenessThreshold is a
// duration string such as "15m".
type PipelineConfig struct {
	LivenessThreshold string
	ClipsPerVideo     int
	DefaultNiche      string
}

// RetryConfig configures the stage executor. Delays are duration strings.
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      string
	MaxDelay       string
	AttemptTimeout string
}

type ServerConfig struct {
	Port int
}

// LLMConfig selects the text generation backend: "ollama" runs locally,
// "openai" and "openrouter" use a hosted chat completions API.
type LLMConfig struct {
	Provider string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type PexelsConfig struct {
	APIKey      string
	Orientation string
	PerPage     int
	MinDuration int
}

type ElevenLabsConfig struct {
	APIKey       string
	ModelID      string
	DefaultVoice string
}

type RenderConfig struct {
	FFmpegPath string
	Width      int
	Height     int
	Captions   bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Dedup: DedupConfig{
			TopicWindowDays: 30,
			FootageWindow:   10,
		},
		Pipeline: PipelineConfig{
			LivenessThreshold: "15m",
			ClipsPerVideo:     10,
			DefaultNiche:      "_default",
		},
		Retry: RetryConfig{
			MaxAttempts:    5,
			BaseDelay:      "2s",
			MaxDelay:       "1m",
			AttemptTimeout: "5m",
		},
		Server: ServerConfig{
			Port: 4100,
		},
		LLM: LLMConfig{
			Provider: "ollama",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Pexels: PexelsConfig{
			Orientation: "portrait",
			PerPage:     15,
			MinDuration: 5,
		},
		ElevenLabs: ElevenLabsConfig{
			ModelID:      "eleven_multilingual_v2",
			DefaultVoice: "generic",
		},
		Render: RenderConfig{
			FFmpegPath: "ffmpeg",
			Width:      1080,
			Height:     1920,
			Captions:   true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/autoclips/config.json, then from .env files, then from
// AUTOCLIPS_* environment variables.
//
// A .env file in the working directory or next to config.json is loaded
// into the process environment without overriding variables that are
// already set. API keys are only ever read from the environment.
func Load() (Config, error) {
	if err := loadDotEnv(".env", filepath.Join(filepath.Dir(configFilePath()), ".env")); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Storage.DataDir == "" {
		return Config{}, fmt.Errorf("missing required config: storage.data_dir")
	}
	if cfg.Storage.ProjectsDir == "" {
		cfg.Storage.ProjectsDir = filepath.Join(cfg.Storage.DataDir, "projects")
	}
	switch cfg.LLM.Provider {
	case "ollama", "openai", "openrouter":
	default:
		return Config{}, fmt.Errorf("invalid llm.provider %q: must be ollama, openai or openrouter", cfg.LLM.Provider)
	}
	if cfg.Niches.Dir == "" {
		cfg.Niches.Dir = filepath.Join(cfg.Storage.DataDir, "niches")
	}

	return cfg, nil
}

func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("checking %s: %w", p, err)
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Duration parses a duration-valued key, falling back to def when raw is
// empty or malformed.
func Duration(key, raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		slog.Warn("invalid duration in config, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "autoclips-data"
		}
	}
	return filepath.Join(dir, "autoclips")
}
