package config

import (
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	strings map[string]string
	ints    map[string]int
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strings[key]
	return v, ok, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *mapBackend) SetString(key, val string) error {
	if b.strings == nil {
		b.strings = make(map[string]string)
	}
	b.strings[key] = val
	return nil
}

func (b *mapBackend) SetInt(key string, val int) error {
	if b.ints == nil {
		b.ints = make(map[string]int)
	}
	b.ints[key] = val
	return nil
}

func (b *mapBackend) Delete(key string) error {
	delete(b.strings, key)
	delete(b.ints, key)
	return nil
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWith(&mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("base url = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" || cfg.Ollama.ClassifyModel != "phi3.5" {
		t.Errorf("models = %q/%q", cfg.Ollama.EmbedModel, cfg.Ollama.ClassifyModel)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Intelligence.Language != "en" {
		t.Errorf("language = %q", cfg.Intelligence.Language)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("api token = %q, want empty by default", cfg.Server.APIToken)
	}
}

func TestLoad_BackendValues(t *testing.T) {
	backend := &mapBackend{
		strings: map[string]string{
			"ollama.embed_model":          "mxbai-embed-large",
			"log.level":                   "debug",
			"intelligence.rule_threshold": "0.8",
		},
		ints: map[string]int{
			"server.port":                     9999,
			"intelligence.max_connections":    7,
			"intelligence.temporal_window_minutes": 10,
		},
	}

	cfg, err := loadWith(backend)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Ollama.EmbedModel != "mxbai-embed-large" {
		t.Errorf("embed model = %q", cfg.Ollama.EmbedModel)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Intelligence.RuleThreshold != 0.8 {
		t.Errorf("rule threshold = %v, want 0.8", cfg.Intelligence.RuleThreshold)
	}
	if cfg.Intelligence.MaxConnections != 7 || cfg.Intelligence.TemporalWindowMinutes != 10 {
		t.Errorf("intelligence = %+v", cfg.Intelligence)
	}
}

func TestLoad_BadFloatFallsBackToDefault(t *testing.T) {
	backend := &mapBackend{strings: map[string]string{
		"intelligence.eps": "not-a-number",
	}}
	cfg, err := loadWith(backend)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Intelligence.Eps != 0 {
		t.Errorf("eps = %v, want zero (component default)", cfg.Intelligence.Eps)
	}
}

func TestLoad_EnvOverridesBackend(t *testing.T) {
	t.Setenv("CORTEX_SERVER_PORT", "4300")
	t.Setenv("CORTEX_OLLAMA_BASE_URL", "http://ollama.internal:11434")
	t.Setenv("CORTEX_INTELLIGENCE_STAT_THRESHOLD", "0.6")
	t.Setenv("CORTEX_API_TOKEN", "hunter2")

	backend := &mapBackend{ints: map[string]int{"server.port": 9999}}
	cfg, err := loadWith(backend)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4300 {
		t.Errorf("port = %d, want env override 4300", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://ollama.internal:11434" {
		t.Errorf("base url = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Intelligence.StatThreshold != 0.6 {
		t.Errorf("stat threshold = %v", cfg.Intelligence.StatThreshold)
	}
	// The token is env-only and never read from the backend.
	if cfg.Server.APIToken != "hunter2" {
		t.Errorf("api token = %q", cfg.Server.APIToken)
	}
}

func TestLoad_BadEnvIntKeepsPrior(t *testing.T) {
	t.Setenv("CORTEX_SERVER_PORT", "lots")
	cfg, err := loadWith(&mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("port = %d, want default 4200", cfg.Server.Port)
	}
}

func TestSetKey_ValidatesValues(t *testing.T) {
	backend := &mapBackend{}
	if err := setKeyWith(backend, "intelligence.eps", "0.4"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if v, ok := backend.strings["intelligence.eps"]; !ok || v != "0.4" {
		t.Errorf("stored eps = %q (ok=%v)", v, ok)
	}
	if err := setKeyWith(backend, "server.port", "4300"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if backend.ints["server.port"] != 4300 {
		t.Errorf("stored port = %d", backend.ints["server.port"])
	}

	if err := setKeyWith(backend, "intelligence.eps", "wide"); err == nil {
		t.Error("expected error for non-numeric float value")
	}
	if err := setKeyWith(backend, "server.port", "not-a-port"); err == nil {
		t.Error("expected error for non-numeric int value")
	}
	if err := setKeyWith(backend, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKeyWith(backend, "server.api_token", "tok"); err == nil {
		t.Error("expected error when setting a secret key via config")
	}
}
