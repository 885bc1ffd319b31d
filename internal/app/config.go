package app

import (
	"os"
	"strconv"
	"time"

	"github.com/lukasbauer/callguard/internal/lang"
	"github.com/lukasbauer/callguard/internal/screening"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	LogLevel      string
	Environment   string

	// Inference service (OpenAI-compatible)
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	InferenceTimeout time.Duration

	// Screening
	DefaultLanguage lang.Language
	ListenTimeout   time.Duration
	TurnBudget      time.Duration // all inference for one speech turn

	// Session store
	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration

	// Optional integrations
	DatabaseURL       string // enables the call event log
	SentryDSN         string
	OperatorJWTSecret string // protects /conversations and /stats
	DiscordWebhookURL string
}

func LoadConfigFromEnv() Config {
	defaultLang, ok := lang.Parse(getenv("DEFAULT_LANGUAGE", "it"))
	if !ok {
		defaultLang = lang.Default
	}

	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		Environment:   getenv("ENVIRONMENT", "development"),

		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:      getenv("OPENAI_MODEL", "gpt-4o-mini"),
		InferenceTimeout: getenvDuration("INFERENCE_TIMEOUT", 3*time.Second),

		DefaultLanguage: defaultLang,
		ListenTimeout:   time.Duration(getenvIntClamped("LISTEN_TIMEOUT_SECONDS", 5, 1, 30)) * time.Second,
		TurnBudget:      getenvDuration("TURN_BUDGET", screening.DefaultTurnBudget),

		SessionIdleTTL:       getenvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		SessionSweepInterval: getenvDuration("SESSION_SWEEP_INTERVAL", time.Minute),

		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SentryDSN:         os.Getenv("SENTRY_DSN"),
		OperatorJWTSecret: os.Getenv("OPERATOR_JWT_SECRET"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped parses k as an int within [min, max]. Unset or invalid
// values yield def.
func getenvIntClamped(k string, def, min, max int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// getenvDuration parses k with time.ParseDuration. Unset, invalid or
// non-positive values yield def.
func getenvDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
