// Package config loads the monitor's TOML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap/zapcore"

	"github.com/affiliatedkat/sourcify/monitor/pkg/cursor"
	"github.com/affiliatedkat/sourcify/monitor/pkg/logging"
	"github.com/affiliatedkat/sourcify/protocol"
	commonconfig "github.com/smartcontractkit/chainlink-common/pkg/config"
)

// Config provides all configuration for the monitor.
type Config struct {
	// TODO: Should be able to use chainlink-common/pkg/logger Config struct.
	LogLevel zapcore.Level `toml:"LogLevel"`
	// LogFormat is "console" (default) or "json".
	LogFormat string `toml:"LogFormat"`
	// Fetcher configures gateway polling.
	Fetcher FetcherConfig `toml:"Fetcher"`
	// Gateways overrides the default gateway per origin. Earlier entries win.
	Gateways []GatewayConfig `toml:"Gateways"`
	// Cursor selects where block cursors are persisted.
	Cursor cursor.Config `toml:"Cursor"`
	// Verification points at the external validation service and injector.
	Verification VerificationConfig `toml:"Verification"`
	// Monitoring configures the metrics and status HTTP server.
	Monitoring MonitoringConfig `toml:"Monitoring"`
	// Chains lists the chains to watch for deployments.
	Chains []ChainConfig `toml:"Chains"`
}

// FetcherConfig configures the source fetcher and the gateway client.
type FetcherConfig struct {
	// PollInterval is the time between fetch rounds.
	PollInterval commonconfig.Duration `toml:"PollInterval"`
	// MaxConcurrentFetches bounds in-flight retrievals per round.
	MaxConcurrentFetches int `toml:"MaxConcurrentFetches"`
	// DeliveryWorkers is the size of the subscriber delivery pool.
	DeliveryWorkers int `toml:"DeliveryWorkers"`
	// RequestTimeout bounds a single retrieval attempt.
	RequestTimeout commonconfig.Duration `toml:"RequestTimeout"`
	// MaxResponseBytes rejects larger gateway responses.
	MaxResponseBytes int `toml:"MaxResponseBytes"`
	// CircuitBreakerFailureThreshold is the number of consecutive failures that open a gateway's circuit.
	CircuitBreakerFailureThreshold uint `toml:"CircuitBreakerFailureThreshold"`
	// CircuitBreakerDelay is how long an open circuit waits before probing again.
	CircuitBreakerDelay commonconfig.Duration `toml:"CircuitBreakerDelay"`
}

type GatewayConfig struct {
	Origin string `toml:"Origin"`
	URL    string `toml:"URL"`
}

type VerificationConfig struct {
	ValidationURL string                `toml:"ValidationURL"`
	InjectorURL   string                `toml:"InjectorURL"`
	Timeout       commonconfig.Duration `toml:"Timeout"`
}

// MonitoringConfig provides monitoring configuration for the monitor service.
// Prometheus metrics are exposed via the standard /metrics endpoint when enabled.
type MonitoringConfig struct {
	Enabled      bool   `toml:"Enabled"`
	Port         int    `toml:"Port"`
	PyroscopeURL string `toml:"PyroscopeURL"`
}

type ChainConfig struct {
	// Name is informational; the chain selectors registry is used when empty.
	Name    string `toml:"Name"`
	ChainID uint64 `toml:"ChainID"`
	RPCURL  string `toml:"RPCURL"`
	// StartBlock is used when no cursor has been persisted. Zero means the current head.
	StartBlock       uint64                `toml:"StartBlock"`
	PollInterval     commonconfig.Duration `toml:"PollInterval"`
	MaxBlocksPerPoll uint64                `toml:"MaxBlocksPerPoll"`
	RPCTimeout       commonconfig.Duration `toml:"RPCTimeout"`
}

// SetDefaults fills in zero values.
func (c *Config) SetDefaults() {
	if c.Fetcher.PollInterval.Duration() == 0 {
		c.Fetcher.PollInterval = *commonconfig.MustNewDuration(15 * time.Second)
	}
	if c.Fetcher.MaxConcurrentFetches == 0 {
		c.Fetcher.MaxConcurrentFetches = 16
	}
	if c.Fetcher.DeliveryWorkers == 0 {
		c.Fetcher.DeliveryWorkers = 64
	}
	if c.Fetcher.RequestTimeout.Duration() == 0 {
		c.Fetcher.RequestTimeout = *commonconfig.MustNewDuration(30 * time.Second)
	}
	if c.Fetcher.MaxResponseBytes == 0 {
		c.Fetcher.MaxResponseBytes = 16 << 20
	}
	if c.Fetcher.CircuitBreakerFailureThreshold == 0 {
		c.Fetcher.CircuitBreakerFailureThreshold = 5
	}
	if c.Fetcher.CircuitBreakerDelay.Duration() == 0 {
		c.Fetcher.CircuitBreakerDelay = *commonconfig.MustNewDuration(30 * time.Second)
	}
	if c.Cursor.Type == "" {
		c.Cursor.Type = cursor.TypeMemory
	}
	if c.Verification.Timeout.Duration() == 0 {
		c.Verification.Timeout = *commonconfig.MustNewDuration(time.Minute)
	}
	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = 9090
	}
	for i := range c.Chains {
		c.Chains[i].SetDefaults()
	}
}

func (c *ChainConfig) SetDefaults() {
	if c.PollInterval.Duration() == 0 {
		c.PollInterval = *commonconfig.MustNewDuration(5 * time.Second)
	}
	if c.MaxBlocksPerPoll == 0 {
		c.MaxBlocksPerPoll = 50
	}
	if c.RPCTimeout.Duration() == 0 {
		c.RPCTimeout = *commonconfig.MustNewDuration(10 * time.Second)
	}
}

// Validate checks the whole configuration. SetDefaults should be called first.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(logging.FormatConsole, logging.FormatJSON)),
		validation.Field(&c.Fetcher),
		validation.Field(&c.Gateways),
		validation.Field(&c.Cursor, validation.By(validateCursor)),
		validation.Field(&c.Verification),
		validation.Field(&c.Chains, validation.Required),
	); err != nil {
		return err
	}

	seen := make(map[uint64]struct{}, len(c.Chains))
	for _, ch := range c.Chains {
		if _, ok := seen[ch.ChainID]; ok {
			return fmt.Errorf("duplicate chain id %d", ch.ChainID)
		}
		seen[ch.ChainID] = struct{}{}
	}
	return nil
}

func (f FetcherConfig) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.PollInterval, validation.By(positiveDuration)),
		validation.Field(&f.MaxConcurrentFetches, validation.Min(1)),
		validation.Field(&f.DeliveryWorkers, validation.Min(1)),
		validation.Field(&f.RequestTimeout, validation.By(positiveDuration)),
	)
}

func (g GatewayConfig) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.Origin, validation.Required,
			validation.In(string(protocol.OriginIPFS), string(protocol.OriginSwarm))),
		validation.Field(&g.URL, validation.Required, validation.By(httpURL)),
	)
}

func (v VerificationConfig) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.ValidationURL, validation.Required, validation.By(httpURL)),
		validation.Field(&v.InjectorURL, validation.Required, validation.By(httpURL)),
		validation.Field(&v.Timeout, validation.By(positiveDuration)),
	)
}

func (ch ChainConfig) Validate() error {
	return validation.ValidateStruct(&ch,
		validation.Field(&ch.ChainID, validation.Required),
		validation.Field(&ch.RPCURL, validation.Required),
		validation.Field(&ch.PollInterval, validation.By(positiveDuration)),
		validation.Field(&ch.MaxBlocksPerPoll, validation.Required),
		validation.Field(&ch.RPCTimeout, validation.By(positiveDuration)),
	)
}

func validateCursor(value any) error {
	c, ok := value.(cursor.Config)
	if !ok {
		return errors.New("invalid cursor config")
	}
	switch c.Type {
	case cursor.TypeMemory:
		return nil
	case cursor.TypeSQLite:
		if c.Path == "" {
			return errors.New("path is required for sqlite cursor store")
		}
		return nil
	case cursor.TypePostgres:
		if c.URL == "" {
			return errors.New("url is required for postgres cursor store")
		}
		return nil
	default:
		return fmt.Errorf("unknown cursor store type %q", c.Type)
	}
}

func positiveDuration(value any) error {
	d, ok := value.(commonconfig.Duration)
	if !ok {
		return errors.New("must be a duration")
	}
	if d.Duration() <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func httpURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return errors.New("must be an http(s) url")
	}
	return nil
}

// Load reads and decodes the TOML file at path, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes decodes a TOML document, applies defaults and validates.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := commonconfig.DecodeTOML(bytes.NewReader(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
