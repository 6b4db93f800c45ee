package debate

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sosodev/duration"
)

// ErrMissingCredentials is returned when a command needs both LLM providers
// but one of the API keys is not set.
var ErrMissingCredentials = errors.New("API keys for OpenAI and Google Gemini are not set. Please create a .env file with the keys")

// Config holds all environment variables
type Config struct {
	Host     string `envconfig:"HOST" default:"0.0.0.0"`
	Port     int    `envconfig:"PORT" default:"8501"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	GoogleAPIKey  string `envconfig:"GOOGLE_API_KEY"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL"`

	NovaModel    string `envconfig:"NOVA_MODEL" default:"gpt-4-turbo"`
	SageModel    string `envconfig:"SAGE_MODEL" default:"gemini-1.5-pro-latest"`
	SummaryModel string `envconfig:"SUMMARY_MODEL" default:"gpt-4o-mini"`

	MaxTurns    int      `envconfig:"MAX_TURNS" default:"12"`
	TurnTimeout Duration `envconfig:"TURN_TIMEOUT" default:"90s"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:"debates.db"`
	RedisURL    string `envconfig:"REDIS_URL"`

	RateLimit       int      `envconfig:"RATE_LIMIT" default:"10"`
	RateLimitWindow Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1h"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	XSRFProtection     bool     `envconfig:"XSRF_PROTECTION" default:"false"`
	XSRFSecret         string   `envconfig:"XSRF_SECRET"`

	SecretPrefixLen int `envconfig:"SECRET_PREFIX_LEN" default:"4"`
}

// Duration accepts both Go duration strings ("90s") and ISO-8601 durations
// ("PT90S") from the environment.
type Duration time.Duration

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ParseDuration parses a Go or ISO-8601 duration string.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	iso, err := duration.Parse(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: expected Go (90s) or ISO-8601 (PT90S) format", value)
	}
	return iso.ToTimeDuration(), nil
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings needed to run debates.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" || c.GoogleAPIKey == "" {
		return ErrMissingCredentials
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("MAX_TURNS must be at least 1, got %d", c.MaxTurns)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewLogger builds the JSON slog logger for the configured level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
