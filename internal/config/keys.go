package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// specs lists every config key. Secrets are never read from or written to
// the file backend.
var specs = []keySpec{
	{
		key: "storage.data_dir", typ: kString, env: "AUTOCLIPS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.projects_dir", typ: kString, env: "AUTOCLIPS_STORAGE_PROJECTS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.ProjectsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.ProjectsDir },
	},
	{
		key: "niches.dir", typ: kString, env: "AUTOCLIPS_NICHES_DIR",
		apply:   func(cfg *Config, v any) { cfg.Niches.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Niches.Dir },
	},
	{
		key: "dedup.topic_window_days", typ: kInt, env: "AUTOCLIPS_DEDUP_TOPIC_WINDOW_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Dedup.TopicWindowDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Dedup.TopicWindowDays },
	},
	{
		key: "dedup.footage_window", typ: kInt, env: "AUTOCLIPS_DEDUP_FOOTAGE_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Dedup.FootageWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Dedup.FootageWindow },
	},
	{
		key: "pipeline.liveness_threshold", typ: kString, env: "AUTOCLIPS_PIPELINE_LIVENESS_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.LivenessThreshold = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.LivenessThreshold },
	},
	{
		key: "pipeline.clips_per_video", typ: kInt, env: "AUTOCLIPS_PIPELINE_CLIPS_PER_VIDEO",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ClipsPerVideo = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.ClipsPerVideo },
	},
	{
		key: "pipeline.default_niche", typ: kString, env: "AUTOCLIPS_PIPELINE_DEFAULT_NICHE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.DefaultNiche = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.DefaultNiche },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "AUTOCLIPS_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.base_delay", typ: kString, env: "AUTOCLIPS_RETRY_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.BaseDelay = v.(string) },
		extract: func(cfg Config) any { return cfg.Retry.BaseDelay },
	},
	{
		key: "retry.max_delay", typ: kString, env: "AUTOCLIPS_RETRY_MAX_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxDelay = v.(string) },
		extract: func(cfg Config) any { return cfg.Retry.MaxDelay },
	},
	{
		key: "retry.attempt_timeout", typ: kString, env: "AUTOCLIPS_RETRY_ATTEMPT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Retry.AttemptTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Retry.AttemptTimeout },
	},
	{
		key: "server.port", typ: kInt, env: "AUTOCLIPS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "AUTOCLIPS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "AUTOCLIPS_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "llm.provider", typ: kString, env: "AUTOCLIPS_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "openai.base_url", typ: kString, env: "AUTOCLIPS_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "AUTOCLIPS_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "openai.api_key", typ: kString, env: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "pexels.api_key", typ: kString, env: "PEXELS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Pexels.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Pexels.APIKey },
	},
	{
		key: "pexels.orientation", typ: kString, env: "AUTOCLIPS_PEXELS_ORIENTATION",
		apply:   func(cfg *Config, v any) { cfg.Pexels.Orientation = v.(string) },
		extract: func(cfg Config) any { return cfg.Pexels.Orientation },
	},
	{
		key: "pexels.per_page", typ: kInt, env: "AUTOCLIPS_PEXELS_PER_PAGE",
		apply:   func(cfg *Config, v any) { cfg.Pexels.PerPage = v.(int) },
		extract: func(cfg Config) any { return cfg.Pexels.PerPage },
	},
	{
		key: "pexels.min_duration", typ: kInt, env: "AUTOCLIPS_PEXELS_MIN_DURATION",
		apply:   func(cfg *Config, v any) { cfg.Pexels.MinDuration = v.(int) },
		extract: func(cfg Config) any { return cfg.Pexels.MinDuration },
	},
	{
		key: "elevenlabs.api_key", typ: kString, env: "ELEVENLABS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.ElevenLabs.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.ElevenLabs.APIKey },
	},
	{
		key: "elevenlabs.model_id", typ: kString, env: "AUTOCLIPS_ELEVENLABS_MODEL_ID",
		apply:   func(cfg *Config, v any) { cfg.ElevenLabs.ModelID = v.(string) },
		extract: func(cfg Config) any { return cfg.ElevenLabs.ModelID },
	},
	{
		key: "elevenlabs.default_voice", typ: kString, env: "AUTOCLIPS_ELEVENLABS_DEFAULT_VOICE",
		apply:   func(cfg *Config, v any) { cfg.ElevenLabs.DefaultVoice = v.(string) },
		extract: func(cfg Config) any { return cfg.ElevenLabs.DefaultVoice },
	},
	{
		key: "render.ffmpeg_path", typ: kString, env: "AUTOCLIPS_RENDER_FFMPEG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Render.FFmpegPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Render.FFmpegPath },
	},
	{
		key: "render.width", typ: kInt, env: "AUTOCLIPS_RENDER_WIDTH",
		apply:   func(cfg *Config, v any) { cfg.Render.Width = v.(int) },
		extract: func(cfg Config) any { return cfg.Render.Width },
	},
	{
		key: "render.height", typ: kInt, env: "AUTOCLIPS_RENDER_HEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Render.Height = v.(int) },
		extract: func(cfg Config) any { return cfg.Render.Height },
	},
	{
		key: "render.captions", typ: kBool, env: "AUTOCLIPS_RENDER_CAPTIONS",
		apply:   func(cfg *Config, v any) { cfg.Render.Captions = v.(bool) },
		extract: func(cfg Config) any { return cfg.Render.Captions },
	},
	{
		key: "log.level", typ: kString, env: "AUTOCLIPS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
