// Package config loads daemon configuration from the platform-native
// backend with environment-variable overrides.
package config

type Config struct {
	Server       ServerConfig
	Ollama       OllamaConfig
	Storage      StorageConfig
	Log          LogConfig
	Intelligence IntelligenceConfig
}

type ServerConfig struct {
	Port int
	// APIToken protects the HTTP API with bearer auth when set.
	// Empty means the API is open (local single-user default).
	APIToken string
}

type OllamaConfig struct {
	BaseURL       string
	EmbedModel    string
	ClassifyModel string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// IntelligenceConfig tunes classification, connection discovery, and
// clustering. Zero values fall through to the component defaults.
type IntelligenceConfig struct {
	RuleThreshold         float64
	StatThreshold         float64
	SimilarityThreshold   float64
	MaxConnections        int
	TemporalWindowMinutes int
	TemporalBonus         float64
	DebounceMS            int
	Eps                   float64
	MinPoints             int
	AffinityThreshold     int
	MaxCacheSize          int
	Language              string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Ollama: OllamaConfig{
			BaseURL:       "http://localhost:11434",
			EmbedModel:    "nomic-embed-text",
			ClassifyModel: "phi3.5",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Intelligence: IntelligenceConfig{
			Language: "en",
		},
	}
}

// Load reads configuration from the platform-native backend and applies
// environment-variable overrides.
//
// On macOS the backend is UserDefaults (domain: com.cortex.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/cortex/config.json.
// Environment variables (CORTEX_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
