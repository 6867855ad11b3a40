package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the service configuration, loadable from CHECKOUT_ prefixed
// environment variables, flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Redis        RedisConfig
	VAT          VATConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig enables the coupon cache when Addr is set.
type RedisConfig struct {
	Addr      string        `default:"" usage:"Redis address; empty disables the coupon cache"`
	Password  string        `default:"" usage:"Redis password"`
	DB        int           `default:"0" usage:"Redis database"`
	CouponTTL time.Duration `default:"30s" usage:"Coupon cache TTL" flag:"coupon-ttl"`
}

// VATConfig is the rate table used while the settings store is empty.
type VATConfig struct {
	Enabled        bool   `default:"true" usage:"Apply VAT"`
	RateStandard   string `default:"0.19" usage:"Standard VAT rate (delivery)"`
	RateReduced    string `default:"0.07" usage:"Reduced VAT rate (goods)"`
	PriceInclusive bool   `default:"true" usage:"Prices include VAT"`
}

// RateTable parses the configured rates into a single-version table.
func (c VATConfig) RateTable() (vat.RateTable, error) {
	standard, err := vat.ParseRate(c.RateStandard)
	if err != nil {
		return vat.RateTable{}, errors.Wrap(err, "standard rate")
	}
	reduced, err := vat.ParseRate(c.RateReduced)
	if err != nil {
		return vat.RateTable{}, errors.Wrap(err, "reduced rate")
	}
	return vat.NewRateTable(vat.Settings{
		Enabled:        c.Enabled,
		RateStandard:   standard,
		RateReduced:    reduced,
		PriceInclusive: c.PriceInclusive,
	}), nil
}

// RateLimitConfig controls the sliding window rate limiters. Every request
// counts against its client IP; authenticated routes also count against the
// API key.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window per client IP"`
	KeyMax int           `default:"300" usage:"Max requests per window per authenticated API key"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if _, err := c.VAT.RateTable(); err != nil {
		return errors.Wrap(err, "vat")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.KeyMax <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max, key max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps the DATABASE_URL and PORT variables set by
// hosting platforms onto the CHECKOUT_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
