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
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CORTEX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "CORTEX_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CORTEX_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "CORTEX_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.classify_model", typ: kString, env: "CORTEX_OLLAMA_CLASSIFY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ClassifyModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ClassifyModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CORTEX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CORTEX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "intelligence.rule_threshold", typ: kFloat, env: "CORTEX_INTELLIGENCE_RULE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.RuleThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Intelligence.RuleThreshold },
	},
	{
		key: "intelligence.stat_threshold", typ: kFloat, env: "CORTEX_INTELLIGENCE_STAT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.StatThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Intelligence.StatThreshold },
	},
	{
		key: "intelligence.similarity_threshold", typ: kFloat, env: "CORTEX_INTELLIGENCE_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Intelligence.SimilarityThreshold },
	},
	{
		key: "intelligence.max_connections", typ: kInt, env: "CORTEX_INTELLIGENCE_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Intelligence.MaxConnections },
	},
	{
		key: "intelligence.temporal_window_minutes", typ: kInt, env: "CORTEX_INTELLIGENCE_TEMPORAL_WINDOW_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.TemporalWindowMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Intelligence.TemporalWindowMinutes },
	},
	{
		key: "intelligence.temporal_bonus", typ: kFloat, env: "CORTEX_INTELLIGENCE_TEMPORAL_BONUS",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.TemporalBonus = v.(float64) },
		extract: func(cfg Config) any { return cfg.Intelligence.TemporalBonus },
	},
	{
		key: "intelligence.debounce_ms", typ: kInt, env: "CORTEX_INTELLIGENCE_DEBOUNCE_MS",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.DebounceMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Intelligence.DebounceMS },
	},
	{
		key: "intelligence.eps", typ: kFloat, env: "CORTEX_INTELLIGENCE_EPS",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.Eps = v.(float64) },
		extract: func(cfg Config) any { return cfg.Intelligence.Eps },
	},
	{
		key: "intelligence.min_points", typ: kInt, env: "CORTEX_INTELLIGENCE_MIN_POINTS",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.MinPoints = v.(int) },
		extract: func(cfg Config) any { return cfg.Intelligence.MinPoints },
	},
	{
		key: "intelligence.affinity_threshold", typ: kInt, env: "CORTEX_INTELLIGENCE_AFFINITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.AffinityThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Intelligence.AffinityThreshold },
	},
	{
		key: "intelligence.max_cache_size", typ: kInt, env: "CORTEX_INTELLIGENCE_MAX_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.MaxCacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Intelligence.MaxCacheSize },
	},
	{
		key: "intelligence.language", typ: kString, env: "CORTEX_INTELLIGENCE_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Intelligence.Language },
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
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
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
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
