package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pario-ai/rephrase/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultRoute is the router key used for modes without their own route.
const DefaultRoute = "default"

// Config holds all rephrase configuration.
type Config struct {
	Listen    string                `yaml:"listen" validate:"required"`
	DBPath    string                `yaml:"db_path" validate:"required"`
	Log       LogConfig             `yaml:"log"`
	Auth      AuthConfig            `yaml:"auth"`
	Providers []ProviderConfig      `yaml:"providers" validate:"dive"`
	Router    RouterConfig          `yaml:"router"`
	Gateway   GatewayConfig         `yaml:"gateway"`
	Cache     CacheConfig           `yaml:"cache"`
	Quota     QuotaConfig           `yaml:"quota"`
	Audit     models.AuditConfig    `yaml:"audit"`
	Limits    LimitsConfig          `yaml:"limits"`
	CORS      CORSConfig            `yaml:"cors"`
	Pricing   []models.ModelPricing `yaml:"pricing"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// AuthConfig describes the identity backend and local token verification.
type AuthConfig struct {
	BaseURL            string        `yaml:"base_url" validate:"omitempty,url"`
	JWKSPath           string        `yaml:"jwks_path"`
	UserPath           string        `yaml:"user_path"`
	APIKey             string        `yaml:"api_key"`
	JWTSecret          string        `yaml:"jwt_secret"`
	Issuer             string        `yaml:"issuer"`
	Audience           string        `yaml:"audience"`
	TokenTTL           time.Duration `yaml:"token_ttl" validate:"gt=0"`
	TokenCacheSize     int           `yaml:"token_cache_size" validate:"gt=0"`
	KeySetTTL          time.Duration `yaml:"key_set_ttl" validate:"gt=0"`
	KeyRefreshCooldown time.Duration `yaml:"key_refresh_cooldown"`
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
}

// ProviderConfig defines an upstream OpenAI-compatible generation provider.
type ProviderConfig struct {
	Name            string `yaml:"name" validate:"required"`
	URL             string `yaml:"url" validate:"required,url"`
	APIKey          string `yaml:"api_key"`
	MaxOutputTokens int    `yaml:"max_output_tokens" validate:"gte=0"`
}

// RouterConfig defines per-mode fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes" validate:"dive"`
}

// RouteConfig maps a mode (or "default") to an ordered list of targets.
// The first target is the primary model.
type RouteConfig struct {
	Mode    string        `yaml:"mode" validate:"required"`
	Targets []RouteTarget `yaml:"targets" validate:"required,min=1,dive"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider" validate:"required"`
	Model    string `yaml:"model" validate:"required"`
}

// GatewayConfig controls generation timeouts and the primary circuit breaker.
type GatewayConfig struct {
	DefaultModel             string        `yaml:"default_model"`
	AttemptTimeout           time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
	RequestTimeout           time.Duration `yaml:"request_timeout" validate:"gt=0"`
	Temperature              float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	VolumeThreshold          uint32        `yaml:"volume_threshold" validate:"gt=0"`
	ErrorThresholdPercentage float64       `yaml:"error_threshold_percentage" validate:"gt=0,lte=100"`
	RollingWindow            time.Duration `yaml:"rolling_window" validate:"gt=0"`
	ResetTimeout             time.Duration `yaml:"reset_timeout" validate:"gt=0"`
}

// CacheConfig controls the two-tier response cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend" validate:"omitempty,oneof=sqlite redis"`
	TTL        time.Duration `yaml:"ttl" validate:"gt=0"`
	MemoryTTL  time.Duration `yaml:"memory_ttl" validate:"gt=0"`
	MemorySize int           `yaml:"memory_size" validate:"gt=0"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	RedisAddr  string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB    int           `yaml:"redis_db"`
}

// QuotaConfig controls per-tier daily limits and their caches.
type QuotaConfig struct {
	Limits   map[models.Tier]int `yaml:"limits"`
	TierTTL  time.Duration       `yaml:"tier_ttl" validate:"gt=0"`
	UsageTTL time.Duration       `yaml:"usage_ttl" validate:"gt=0"`
	Timeout  time.Duration       `yaml:"timeout" validate:"gt=0"`
}

// LimitsConfig bounds request sizes at the HTTP edge.
type LimitsConfig struct {
	MaxInputChars int   `yaml:"max_input_chars" validate:"gt=0"`
	MaxBodyBytes  int64 `yaml:"max_body_bytes" validate:"gt=0"`
}

// CORSConfig controls cross-origin access to the HTTP API.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "rephrase.db",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			JWKSPath:           "/auth/v1/.well-known/jwks.json",
			UserPath:           "/auth/v1/user",
			TokenTTL:           5 * time.Minute,
			TokenCacheSize:     10000,
			KeySetTTL:          time.Hour,
			KeyRefreshCooldown: time.Minute,
			Timeout:            5 * time.Second,
		},
		Gateway: GatewayConfig{
			AttemptTimeout:           20 * time.Second,
			RequestTimeout:           45 * time.Second,
			Temperature:              0.7,
			VolumeThreshold:          5,
			ErrorThresholdPercentage: 50,
			RollingWindow:            time.Minute,
			ResetTimeout:             30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "sqlite",
			TTL:        24 * time.Hour,
			MemoryTTL:  10 * time.Minute,
			MemorySize: 1000,
			Timeout:    2 * time.Second,
		},
		Quota: QuotaConfig{
			Limits: map[models.Tier]int{
				models.TierFree:    10,
				models.TierPremium: models.Unlimited,
			},
			TierTTL:  5 * time.Minute,
			UsageTTL: 30 * time.Second,
			Timeout:  3 * time.Second,
		},
		Audit: models.AuditConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Limits: LimitsConfig{
			MaxInputChars: 5000,
			MaxBodyBytes:  1 << 20,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
	}
}

// LoadEnv loads a .env file into the process environment. A missing file is
// not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-references between sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if names[p.Name] {
			return fmt.Errorf("invalid config: duplicate provider %q", p.Name)
		}
		names[p.Name] = true
	}

	var errs []error
	hasDefault := false
	for _, r := range c.Router.Routes {
		if r.Mode == DefaultRoute {
			hasDefault = true
		} else if !models.Mode(r.Mode).Valid() {
			errs = append(errs, fmt.Errorf("route for unknown mode %q", r.Mode))
		}
		for _, t := range r.Targets {
			if !names[t.Provider] {
				errs = append(errs, fmt.Errorf("route %q targets unknown provider %q", r.Mode, t.Provider))
			}
		}
	}
	if len(c.Router.Routes) > 0 && !hasDefault {
		errs = append(errs, fmt.Errorf("router needs a %q route", DefaultRoute))
	}
	if len(c.Router.Routes) == 0 && len(c.Providers) > 0 && c.Gateway.DefaultModel == "" {
		errs = append(errs, errors.New("gateway.default_model is required without router routes"))
	}
	if c.Gateway.RequestTimeout <= c.Gateway.AttemptTimeout {
		errs = append(errs, fmt.Errorf("gateway.request_timeout (%s) must exceed gateway.attempt_timeout (%s)",
			c.Gateway.RequestTimeout, c.Gateway.AttemptTimeout))
	}
	if c.Auth.BaseURL == "" && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth needs base_url or jwt_secret"))
	}
	for tier, limit := range c.Quota.Limits {
		if limit < models.Unlimited {
			errs = append(errs, fmt.Errorf("quota limit for %q must be >= -1", tier))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Limit returns the daily limit for tier, falling back to the free limit.
func (q QuotaConfig) Limit(tier models.Tier) int {
	if l, ok := q.Limits[tier]; ok {
		return l
	}
	return q.Limits[models.TierFree]
}

// Provider returns the provider named name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
