package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/adplatform"
	"github.com/PortNumber53/adroom/backend/internal/textgen"
)

const DefaultPort = 18911

type Sweep struct {
	Enabled  bool
	Interval time.Duration
}

type Config struct {
	// Server
	Port           int
	DatabaseURL    string
	InternalSecret string

	// Generative text
	OpenAIAPIKey string
	OpenAIAPIURL string
	OpenAIModel  string

	// Facebook
	FacebookGraphURL    string
	FacebookVerifyToken string
	FacebookAppSecret   string
	FacebookRateLimit   adplatform.RateLimitConfig

	// Background sweeps
	Worker       Sweep
	Intelligence Sweep
	Optimizer    Sweep
	Execution    Sweep
	Cleanup      Sweep
}

// Load reads configuration through getenv (os.Getenv in production).
func Load(getenv func(string) string) *Config {
	return &Config{
		Port:           getEnvAsInt(getenv, "PORT", DefaultPort),
		DatabaseURL:    strings.TrimSpace(getenv("DATABASE_URL")),
		InternalSecret: strings.TrimSpace(getenv("INTERNAL_API_SECRET")),

		OpenAIAPIKey: strings.TrimSpace(getenv("OPENAI_API_KEY")),
		OpenAIAPIURL: getEnv(getenv, "OPENAI_API_URL", textgen.DefaultAPIURL),
		OpenAIModel:  getEnv(getenv, "OPENAI_MODEL", textgen.DefaultModel),

		FacebookGraphURL:    getEnv(getenv, "FACEBOOK_GRAPH_URL", adplatform.DefaultGraphURL),
		FacebookVerifyToken: strings.TrimSpace(getenv("FACEBOOK_VERIFY_TOKEN")),
		FacebookAppSecret:   strings.TrimSpace(getenv("FACEBOOK_APP_SECRET")),
		FacebookRateLimit:   adplatform.RateLimitFromEnv(getenv, "facebook", adplatform.DefaultRateLimit()),

		Worker:       loadSweep(getenv, "WORKER", 15*time.Minute),
		Intelligence: loadSweep(getenv, "INTELLIGENCE", 30*time.Minute),
		Optimizer:    loadSweep(getenv, "OPTIMIZER", 6*time.Hour),
		Execution:    loadSweep(getenv, "EXECUTION", time.Hour),
		Cleanup:      loadSweep(getenv, "CLEANUP", time.Hour),
	}
}

func loadSweep(getenv func(string) string, prefix string, def time.Duration) Sweep {
	return Sweep{
		Enabled:  getEnvAsBool(getenv, prefix+"_ENABLED", true),
		Interval: ParseIntervalFromEnv(getenv, prefix+"_INTERVAL_SECONDS", def),
	}
}

// ParseIntervalFromEnv reads a positive number of seconds; anything else yields def.
func ParseIntervalFromEnv(getenv func(string) string, key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func getEnv(getenv func(string) string, key, defaultValue string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(getenv func(string) string, key string, defaultValue int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getEnvAsBool(getenv func(string) string, key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
