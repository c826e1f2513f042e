// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type DBConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME" envDefault:"newsletters"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	// URL overrides the individual fields when set.
	URL string `env:"URL"`
}

// DSN returns the lib/pq connection string.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type HTTPConfig struct {
	Addr         string        `env:"ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5m"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type AMQPConfig struct {
	URL      string `env:"URL"`
	Prefetch int    `env:"PREFETCH" envDefault:"8"`
}

// AnthropicConfig configures the text model. A Temperature of 0 is sent as is;
// a negative one leaves it to the API default.
type AnthropicConfig struct {
	APIKey      string        `env:"API_KEY"`
	Model       string        `env:"MODEL" envDefault:"claude-sonnet-4-20250514"`
	MaxTokens   int           `env:"MAX_TOKENS" envDefault:"2048"`
	Temperature float64       `env:"TEMPERATURE" envDefault:"0.7"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"90s"`
}

type GeminiConfig struct {
	APIKey     string `env:"API_KEY"`
	ImageModel string `env:"IMAGE_MODEL" envDefault:"imagen-3.0-generate-002"`
}

type S3Config struct {
	Bucket         string `env:"BUCKET"`
	Region         string `env:"REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"ACCESS_KEY_ID"`
	SecretKey      string `env:"SECRET_ACCESS_KEY"`
	Endpoint       string `env:"ENDPOINT"`
	BaseURL        string `env:"BASE_URL"`
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE" envDefault:"false"`
}

type EmailConfig struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"newsletter@example.com"`
	SenderName           string `env:"SENDER_NAME" envDefault:"Newsletter Generator"`
	// DevDir receives rendered emails when no Postmark token is configured.
	DevDir string `env:"DEV_DIR" envDefault:"./tmp/emails"`
}

type SendConfig struct {
	Concurrency   int           `env:"CONCURRENCY" envDefault:"8"`
	RatePerSecond float64       `env:"RATE_PER_SECOND" envDefault:"10"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BaseBackoff   time.Duration `env:"BASE_BACKOFF" envDefault:"500ms"`
	ClaimTTL      time.Duration `env:"CLAIM_TTL" envDefault:"5m"`
	StaleAfter    time.Duration `env:"STALE_AFTER" envDefault:"10m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DB        DBConfig        `envPrefix:"DB_"`
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	AMQP      AMQPConfig      `envPrefix:"AMQP_"`
	Anthropic AnthropicConfig `envPrefix:"ANTHROPIC_"`
	Gemini    GeminiConfig    `envPrefix:"GEMINI_"`
	S3        S3Config        `envPrefix:"S3_"`
	Email     EmailConfig     `envPrefix:"EMAIL_"`
	Send      SendConfig      `envPrefix:"SEND_"`

	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"5m"`
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads .env (when present) and parses the environment.
// The returned bool is false when no .env file was found.
func Load() (*Config, bool, error) {
	found := godotenv.Load() == nil

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, found, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Send.Concurrency < 1 {
		cfg.Send.Concurrency = 1
	}
	if cfg.Send.MaxAttempts < 1 {
		cfg.Send.MaxAttempts = 1
	}
	return &cfg, found, nil
}
