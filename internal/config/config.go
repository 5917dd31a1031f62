package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	LogLevel      string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	InvoicePrefix        string        `mapstructure:"INVOICE_PREFIX"`
	InvoiceSequenceWidth int           `mapstructure:"INVOICE_SEQUENCE_WIDTH"`
	InvoiceDueDays       int           `mapstructure:"INVOICE_DUE_DAYS"`
	DefaultTaxRate       float64       `mapstructure:"DEFAULT_TAX_RATE"`
	NumberRetryAttempts  int           `mapstructure:"NUMBER_RETRY_ATTEMPTS"`
	BulkPaymentWorkers   int           `mapstructure:"BULK_PAYMENT_WORKERS"`
	LookupCacheTTL       time.Duration `mapstructure:"LOOKUP_CACHE_TTL"`
	ReminderFrom         string        `mapstructure:"REMINDER_FROM"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "INVOICE_PREFIX", "INVOICE_SEQUENCE_WIDTH",
	"INVOICE_DUE_DAYS", "DEFAULT_TAX_RATE", "NUMBER_RETRY_ATTEMPTS", "BULK_PAYMENT_WORKERS",
	"LOOKUP_CACHE_TTL", "REMINDER_FROM",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("INVOICE_PREFIX", "INV")
	v.SetDefault("INVOICE_SEQUENCE_WIDTH", 4)
	v.SetDefault("INVOICE_DUE_DAYS", 30)
	v.SetDefault("DEFAULT_TAX_RATE", 0)
	v.SetDefault("NUMBER_RETRY_ATTEMPTS", 3)
	v.SetDefault("BULK_PAYMENT_WORKERS", 4)
	v.SetDefault("LOOKUP_CACHE_TTL", "5m")
	v.SetDefault("REMINDER_FROM", "billing@localhost")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine; the environment alone is enough.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TaxRate is DEFAULT_TAX_RATE as a percentage.
func (c *Config) TaxRate() decimal.Decimal {
	return decimal.NewFromFloat(c.DefaultTaxRate)
}

// Validate refuses settings the server cannot run safely with.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return errors.Newf("AUTH_SIGNING_KEY must be set outside development (ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.AuthIssuer == "" {
		return errors.New("AUTH_ISSUER is required in production")
	}
	if c.DefaultTaxRate < 0 || c.DefaultTaxRate > 100 {
		return errors.Newf("DEFAULT_TAX_RATE must be between 0 and 100, got %v", c.DefaultTaxRate)
	}
	if c.InvoiceSequenceWidth < 1 {
		return errors.Newf("INVOICE_SEQUENCE_WIDTH must be at least 1, got %d", c.InvoiceSequenceWidth)
	}
	if c.InvoiceDueDays < 0 {
		return errors.Newf("INVOICE_DUE_DAYS must not be negative, got %d", c.InvoiceDueDays)
	}
	if strings.TrimSpace(c.InvoicePrefix) == "" || strings.Contains(c.InvoicePrefix, "-") {
		return errors.Newf("INVOICE_PREFIX must be non-empty and must not contain '-', got %q", c.InvoicePrefix)
	}
	if c.NumberRetryAttempts < 1 {
		return errors.New("NUMBER_RETRY_ATTEMPTS must be at least 1")
	}
	if c.BulkPaymentWorkers < 1 {
		return errors.New("BULK_PAYMENT_WORKERS must be at least 1")
	}
	return nil
}
