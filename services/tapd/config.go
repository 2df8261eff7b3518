package tapd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"indexerservice/crypto"
	"indexerservice/eligibility"
	"indexerservice/gateway/middleware"
	"indexerservice/storage/receipts"
	"indexerservice/tap"
)

// DatabaseURLEnv overrides database_url when set.
const DatabaseURLEnv = "DATABASE_URL"

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for tapd.
type Config struct {
	ListenAddress       string            `yaml:"listen" toml:"listen"`
	Environment         string            `yaml:"environment" toml:"environment"`
	LogLevel            string            `yaml:"log_level" toml:"log_level"`
	DatabaseURL         string            `yaml:"database_url" toml:"database_url"`
	NotificationChannel string            `yaml:"notification_channel" toml:"notification_channel"`
	IndexerAddress      string            `yaml:"indexer_address" toml:"indexer_address"`
	Domain              DomainConfig      `yaml:"domain" toml:"domain"`
	Eligibility         EligibilityConfig `yaml:"eligibility" toml:"eligibility"`
	RateLimit           RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
	Telemetry           TelemetryConfig   `yaml:"telemetry" toml:"telemetry"`
	HTTP                HTTPConfig        `yaml:"http" toml:"http"`
}

// DomainConfig is the EIP-712 domain receipts are signed under.
type DomainConfig struct {
	Name              string `yaml:"name" toml:"name"`
	Version           string `yaml:"version" toml:"version"`
	ChainID           uint64 `yaml:"chain_id" toml:"chain_id"`
	VerifyingContract string `yaml:"verifying_contract" toml:"verifying_contract"`
}

// EligibilityConfig seeds the allocation and escrow snapshots at startup.
type EligibilityConfig struct {
	Allocations []string `yaml:"allocations" toml:"allocations"`
	// Senders maps sender address to escrow balance as a decimal string.
	Senders map[string]string `yaml:"senders" toml:"senders"`
}

// RateLimitConfig bounds admission requests per client. Zero disables limiting.
// Forwarding headers are only trusted from peers listed in TrustedProxies.
type RateLimitConfig struct {
	RequestsPerMinute float64  `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int      `yaml:"burst" toml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies" toml:"trusted_proxies"`
}

// Limit converts the configuration into middleware settings.
func (c RateLimitConfig) Limit() (middleware.RateLimit, error) {
	proxies, err := middleware.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return middleware.RateLimit{}, err
	}
	return middleware.RateLimit{
		RequestsPerMinute: c.RequestsPerMinute,
		Burst:             c.Burst,
		TrustedProxies:    proxies,
	}, nil
}

// TelemetryConfig toggles OTLP export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Insecure bool   `yaml:"insecure" toml:"insecure"`
}

// HTTPConfig tunes the admission server.
type HTTPConfig struct {
	ReadTimeout     Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// LoadConfig reads configuration from the supplied path. Files ending in
// .toml are decoded as TOML, anything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("decode config: unknown key %s", undecoded[0])
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if value := strings.TrimSpace(os.Getenv(DatabaseURLEnv)); value != "" {
		cfg.DatabaseURL = value
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7600"
	}
	if cfg.NotificationChannel == "" {
		cfg.NotificationChannel = receipts.DefaultChannel
	}
	if cfg.HTTP.ReadTimeout.Duration == 0 {
		cfg.HTTP.ReadTimeout.Duration = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout.Duration == 0 {
		cfg.HTTP.WriteTimeout.Duration = 30 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout.Duration == 0 {
		cfg.HTTP.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.RateLimit.RequestsPerMinute > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	if cfg.Eligibility.Senders == nil {
		cfg.Eligibility.Senders = map[string]string{}
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("database_url must be configured")
	}
	if _, err := cfg.TapDomain(); err != nil {
		return fmt.Errorf("domain: %w", err)
	}
	if strings.TrimSpace(cfg.IndexerAddress) != "" {
		if _, err := crypto.ParseAddress(cfg.IndexerAddress); err != nil {
			return fmt.Errorf("indexer_address: %w", err)
		}
	}
	if _, err := cfg.AllocationIDs(); err != nil {
		return fmt.Errorf("eligibility allocations: %w", err)
	}
	if _, err := cfg.SenderBalances(); err != nil {
		return fmt.Errorf("eligibility senders: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit requests_per_minute must not be negative")
	}
	if _, err := cfg.RateLimit.Limit(); err != nil {
		return fmt.Errorf("rate_limit trusted_proxies: %w", err)
	}
	return nil
}

// TapDomain builds the signing domain from configuration.
func (c Config) TapDomain() (tap.Domain, error) {
	contract, err := crypto.ParseAddress(c.Domain.VerifyingContract)
	if err != nil {
		return tap.Domain{}, fmt.Errorf("verifying_contract: %w", err)
	}
	domain := tap.Domain{
		Name:              strings.TrimSpace(c.Domain.Name),
		Version:           strings.TrimSpace(c.Domain.Version),
		ChainID:           c.Domain.ChainID,
		VerifyingContract: contract,
	}
	if err := domain.Validate(); err != nil {
		return tap.Domain{}, err
	}
	return domain, nil
}

// AllocationIDs parses the statically eligible allocations.
func (c Config) AllocationIDs() ([]common.Address, error) {
	ids := make([]common.Address, 0, len(c.Eligibility.Allocations))
	for _, raw := range c.Eligibility.Allocations {
		id, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SenderBalances parses the statically seeded escrow balances.
func (c Config) SenderBalances() (map[common.Address]*uint256.Int, error) {
	return eligibility.ParseBalances(c.Eligibility.Senders, crypto.ParseAddress)
}
