package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/apitally/apitally-go/pkg/model"
)

// DefaultHubBaseURL is used unless APITALLY_HUB_BASE_URL overrides it.
const DefaultHubBaseURL = "https://hub.apitally.io"

// Config holds all agent configuration values after normalization.
type Config struct {
	ClientID   string
	Env        string
	AppVersion string
	HubBaseURL string
	Debug      bool

	RequestLogging *model.RequestLoggingConfig

	// Logger is the sink for diagnostics the agent itself produces.
	Logger *slog.Logger

	// SentryEventIDProvider, when set, is consulted at server error
	// insertion time for the current Sentry event id.
	SentryEventIDProvider func() string

	// Transport tuning. Zero values are replaced by defaults.
	RequestTimeout time.Duration
	MaxRetries     int
}

// ApplyDefaults fills unset fields from environment variables and the
// documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "dev"
	}
	c.Env = NormalizeEnv(c.Env)
	if c.HubBaseURL == "" {
		c.HubBaseURL = envOrDefault("APITALLY_HUB_BASE_URL", DefaultHubBaseURL)
	}
	if !c.Debug {
		c.Debug = parseBool("APITALLY_DEBUG", false)
	}
	if c.RequestLogging == nil {
		c.RequestLogging = model.DefaultRequestLoggingConfig()
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Logger == nil {
		level := slog.LevelInfo
		if c.Debug {
			level = slog.LevelDebug
		}
		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		c.Logger = slog.New(handler).With("component", "apitally")
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
