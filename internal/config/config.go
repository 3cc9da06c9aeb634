package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/punchamoorthee/neoledger/internal/service"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Environment string   `mapstructure:"environment" yaml:"environment"`
	Server      Server   `mapstructure:"server" yaml:"server"`
	Database    Database `mapstructure:"database" yaml:"database"`
	Log         Log      `mapstructure:"log" yaml:"log"`
	Limits      Limits   `mapstructure:"limits" yaml:"limits"`
	Rail        Rail     `mapstructure:"rail" yaml:"rail"`
	Review      Review   `mapstructure:"review" yaml:"review"`
}

type Server struct {
	Port            string        `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type Database struct {
	// Driver is postgres or memory.
	Driver     string `mapstructure:"driver" yaml:"driver"`
	Source     string `mapstructure:"source" yaml:"source"`
	MaxConns   int32  `mapstructure:"max_conns" yaml:"max_conns"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Limits holds amounts as strings so they reach decimal.Decimal without a
// float round trip.
type Limits struct {
	PerTransfer     string `mapstructure:"per_transfer" yaml:"per_transfer"`
	Daily           string `mapstructure:"daily" yaml:"daily"`
	ReviewThreshold string `mapstructure:"review_threshold" yaml:"review_threshold"`
	Timezone        string `mapstructure:"timezone" yaml:"timezone"`
	Currency        string `mapstructure:"currency" yaml:"currency"`
}

type Rail struct {
	// Provider is sandbox or http.
	Provider   string        `mapstructure:"provider" yaml:"provider"`
	Settlement string        `mapstructure:"settlement" yaml:"settlement"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Review struct {
	// Reviewers are user ids allowed to approve or cancel held transfers.
	Reviewers []string `mapstructure:"reviewers" yaml:"reviewers"`
}

func defaults() map[string]any {
	return map[string]any{
		"environment":             EnvDevelopment,
		"server.port":             "8080",
		"server.shutdown_timeout": 10 * time.Second,
		"database.driver":         "postgres",
		"database.source":         "",
		"database.max_conns":      int32(20),
		"database.max_retries":    3,
		"log.level":               "info",
		"log.format":              "text",
		"limits.per_transfer":     "10000",
		"limits.daily":            "25000",
		"limits.review_threshold": "5000",
		"limits.timezone":         "UTC",
		"limits.currency":         "USD",
		"rail.provider":           "sandbox",
		"rail.settlement":         "deferred",
		"rail.endpoint":           "",
		"rail.api_key":            "",
		"rail.timeout":            service.DefaultRailTimeout,
		"review.reviewers":        []string{},
	}
}

// Names the deployment already uses; everything else reads LEDGER_<KEY>.
var envAliases = map[string]string{
	"database.source":         "DB_SOURCE",
	"server.port":             "SERVER_PORT",
	"environment":             "ENVIRONMENT",
	"limits.per_transfer":     "MAX_TRANSFER_AMOUNT",
	"limits.daily":            "DAILY_TRANSFER_LIMIT",
	"limits.review_threshold": "PENDING_REVIEW_THRESHOLD",
}

// Load layers defaults, the YAML file, .env and the environment, later
// sources winning. Without an explicit path ledger.yaml is searched for in
// the working directory and /etc/ledger, and may be absent.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("ledger")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ledger")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ledger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "LEDGER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Source == "" {
			return errors.New("DB_SOURCE environment variable is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Rail.Provider {
	case "sandbox":
	case "http":
		if c.Rail.Endpoint == "" {
			return errors.New("rail.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("unknown rail provider %q", c.Rail.Provider)
	}
	if _, err := service.SettlementFor(c.Rail.Settlement); err != nil {
		return err
	}
	if c.Rail.Settlement == "immediate" && c.Environment == EnvProduction {
		return errors.New("immediate settlement is not allowed in production")
	}
	if c.Rail.Timeout <= 0 {
		return errors.New("rail.timeout must be positive")
	}

	if _, err := c.ServiceLimits(); err != nil {
		return err
	}
	if _, err := c.ReviewerSet(); err != nil {
		return err
	}
	return nil
}

// ReviewerSet parses the configured reviewer ids. Blank entries are skipped.
func (c *Config) ReviewerSet() (service.ReviewerSet, error) {
	var ids []uuid.UUID
	for _, raw := range c.Review.Reviewers {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("review.reviewers: %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return service.NewReviewerSet(ids...), nil
}

// ServiceLimits converts the limit settings for the validator.
func (c *Config) ServiceLimits() (service.Limits, error) {
	l := service.Limits{Currency: strings.ToUpper(c.Limits.Currency)}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"limits.per_transfer", c.Limits.PerTransfer, &l.PerTransfer},
		{"limits.daily", c.Limits.Daily, &l.Daily},
		{"limits.review_threshold", c.Limits.ReviewThreshold, &l.ReviewThreshold},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return service.Limits{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if !d.IsPositive() {
			return service.Limits{}, fmt.Errorf("%s must be positive", f.name)
		}
		*f.dst = d
	}

	loc, err := time.LoadLocation(c.Limits.Timezone)
	if err != nil {
		return service.Limits{}, fmt.Errorf("limits.timezone: %w", err)
	}
	l.Location = loc
	return l, nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Rail.APIKey != "" {
		c.Rail.APIKey = "REDACTED"
	}
	if c.Database.Source != "" {
		c.Database.Source = "REDACTED"
	}
	return c
}
