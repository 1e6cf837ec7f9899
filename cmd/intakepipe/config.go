package main

import (
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IntakePipe state data
	DefaultStateDir = "/var/lib/intakepipe"
	// DefaultAppDBFileName is the default SQLite database filename for conversations
	DefaultAppDBFileName = "intakepipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for whatsmeow
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// MemoryDSN selects the in-memory store, which keeps no outbox or job queue.
	MemoryDSN = "memory"
)

// Supported gateways.
const (
	GatewayEvolution = "evolution"
	GatewayTwilio    = "twilio"
	GatewayWhatsmeow = "whatsmeow"
)

// Config holds the environment driven configuration.
type Config struct {
	StateDir string `env:"INTAKEPIPE_STATE_DIR" envDefault:"/var/lib/intakepipe"`
	APIAddr  string `env:"API_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Application database; DATABASE_URL is the legacy name.
	DatabaseDSN string `env:"DATABASE_DSN"`
	DatabaseURL string `env:"DATABASE_URL"`

	Gateway string `env:"GATEWAY" envDefault:"evolution"`

	EvolutionURL      string `env:"EVOLUTION_API_URL" envDefault:"http://localhost:8080/message"`
	EvolutionAPIKey   string `env:"EVOLUTION_API_KEY"`
	EvolutionInstance string `env:"EVOLUTION_INSTANCE_NAME" envDefault:"cranios"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_FROM_NUMBER"`
	TwilioWebhookURL string `env:"TWILIO_WEBHOOK_URL"`

	WhatsAppDBDSN string `env:"WHATSAPP_DB_DSN"`

	DecisionServiceURL string        `env:"DECISION_SERVICE_URL" envDefault:"http://localhost:8080"`
	DecisionTimeout    time.Duration `env:"DECISION_TIMEOUT" envDefault:"30s"`
	ProposalServiceURL string        `env:"PROPOSAL_SERVICE_URL" envDefault:"http://localhost:8080"`
	HTTPClientTimeout  time.Duration `env:"HTTP_CLIENT_TIMEOUT" envDefault:"15s"`

	OpenAIKey   string `env:"OPENAI_API_KEY"`
	OpenAIModel string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	// GenAIDebug dumps every completion under <state>/debug.
	GenAIDebug bool `env:"GENAI_DEBUG" envDefault:"false"`

	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"45s"`

	NATSURL string `env:"NATS_URL"`

	WebhookRateLimit int `env:"WEBHOOK_RATE_LIMIT" envDefault:"120"`
}

// Flags holds command line only settings.
type Flags struct {
	QROutput    string
	NumericCode bool
}

// loadEnvironmentConfig loads configuration from the .env file and environment variables.
func loadEnvironmentConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	if cfg.DatabaseDSN == "" && cfg.DatabaseURL != "" {
		cfg.DatabaseDSN = cfg.DatabaseURL
		slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
	}
	cfg.Gateway = strings.ToLower(strings.TrimSpace(cfg.Gateway))

	slog.Debug("environment variables loaded",
		"INTAKEPIPE_STATE_DIR", cfg.StateDir,
		"DATABASE_DSN_SET", cfg.DatabaseDSN != "",
		"GATEWAY", cfg.Gateway,
		"EVOLUTION_API_KEY_SET", cfg.EvolutionAPIKey != "",
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"REDIS_URL_SET", cfg.RedisURL != "",
		"NATS_URL_SET", cfg.NATSURL != "",
		"API_ADDR", cfg.APIAddr)
	return cfg, nil
}

// parseCommandLineFlags applies command line overrides on top of cfg.
func parseCommandLineFlags(args []string, cfg Config) (Config, Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("intakepipe", flag.ContinueOnError)
	fs.StringVar(&flags.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&flags.NumericCode, "numeric-code", false, "use numeric login code instead of QR code")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for IntakePipe data (overrides $INTAKEPIPE_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseDSN, "db-dsn", cfg.DatabaseDSN, "application database DSN, or \"memory\" (overrides $DATABASE_DSN)")
	fs.StringVar(&cfg.WhatsAppDBDSN, "whatsapp-db-dsn", cfg.WhatsAppDBDSN, "whatsmeow database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&cfg.Gateway, "gateway", cfg.Gateway, "messaging gateway: evolution, twilio or whatsmeow (overrides $GATEWAY)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return Config{}, Flags{}, err
	}
	cfg.Gateway = strings.ToLower(strings.TrimSpace(cfg.Gateway))

	slog.Debug("flags parsed",
		"qrOutput", flags.QROutput,
		"numeric", flags.NumericCode,
		"stateDir", cfg.StateDir,
		"dbDSN_set", cfg.DatabaseDSN != "",
		"gateway", cfg.Gateway,
		"openaiKeySet", cfg.OpenAIKey != "",
		"apiAddr", cfg.APIAddr)
	return cfg, flags, nil
}

// applyDefaults fills values derived from the final state directory.
func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.DatabaseDSN == "" {
		c.DatabaseDSN = filepath.Join(c.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", c.DatabaseDSN)
	}
	if c.WhatsAppDBDSN == "" {
		c.WhatsAppDBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if c.Gateway == "" {
		c.Gateway = GatewayEvolution
	}
}

// validate reports settings that cannot work together.
func (c Config) validate() error {
	switch c.Gateway {
	case GatewayEvolution, GatewayTwilio, GatewayWhatsmeow:
	default:
		return fmt.Errorf("unknown gateway %q", c.Gateway)
	}
	if c.DecisionTimeout <= 0 {
		return fmt.Errorf("DECISION_TIMEOUT must be positive, got %s", c.DecisionTimeout)
	}
	if c.HTTPClientTimeout <= 0 {
		return fmt.Errorf("HTTP_CLIENT_TIMEOUT must be positive, got %s", c.HTTPClientTimeout)
	}
	if c.WebhookRateLimit < 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT cannot be negative, got %d", c.WebhookRateLimit)
	}
	return nil
}

// parseLogLevel maps a level name to a slog level, defaulting to info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
