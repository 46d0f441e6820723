package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sablefin/mintd/service/xrpl"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// XRPL endpoints per network, comma-separated candidate lists tried in
	// order on connect failure. At least one network must be configured.
	MainnetEndpoints []string
	TestnetEndpoints []string
	DevnetEndpoints  []string

	// Issuer signing identity. The seed is a hex-encoded 32-byte ed25519
	// seed; custodial holder keys are provisioned through the same scheme.
	IssuerAddress string
	IssuerSeedHex string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Pool configuration
	PoolMaxIdle       time.Duration
	PoolSweepInterval time.Duration

	// Submission pipeline configuration
	SubmitPollInterval time.Duration
	SubmitMaxWait      time.Duration
	Fee                string
	MaxLedgerOffset    int

	// Reconciliation configuration
	ReconcileOlderThan time.Duration
	ReconcileBatchSize int
	ReconcileSchedule  time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// XRPL endpoints
	cfg.MainnetEndpoints = splitList(os.Getenv("XRPL_MAINNET_ENDPOINTS"))
	cfg.TestnetEndpoints = splitList(os.Getenv("XRPL_TESTNET_ENDPOINTS"))
	cfg.DevnetEndpoints = splitList(os.Getenv("XRPL_DEVNET_ENDPOINTS"))
	if len(cfg.MainnetEndpoints)+len(cfg.TestnetEndpoints)+len(cfg.DevnetEndpoints) == 0 {
		errs = append(errs, fmt.Errorf("at least one of XRPL_MAINNET_ENDPOINTS, XRPL_TESTNET_ENDPOINTS, XRPL_DEVNET_ENDPOINTS is required"))
	}

	// Issuer identity
	cfg.IssuerAddress = os.Getenv("ISSUER_ADDRESS")
	if cfg.IssuerAddress == "" {
		errs = append(errs, fmt.Errorf("ISSUER_ADDRESS is required"))
	}
	cfg.IssuerSeedHex = os.Getenv("ISSUER_SEED")
	if cfg.IssuerSeedHex == "" {
		errs = append(errs, fmt.Errorf("ISSUER_SEED is required"))
	} else if err := validateSeedHex(cfg.IssuerSeedHex); err != nil {
		errs = append(errs, fmt.Errorf("ISSUER_SEED: %w", err))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "mintd-reconcile")

	// Pool configuration
	maxIdle, err := parseDuration("POOL_MAX_IDLE", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PoolMaxIdle = maxIdle
	}
	sweepInterval, err := parseDuration("POOL_SWEEP_INTERVAL", "1m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PoolSweepInterval = sweepInterval
	}

	// Submission pipeline configuration
	pollInterval, err := parseDuration("SUBMIT_POLL_INTERVAL", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SubmitPollInterval = pollInterval
	}
	maxWait, err := parseDuration("SUBMIT_MAX_WAIT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SubmitMaxWait = maxWait
	}
	cfg.Fee = getEnvOrDefault("TX_FEE_DROPS", "10")
	cfg.MaxLedgerOffset, err = parseInt("MAX_LEDGER_OFFSET", 20)
	if err != nil {
		errs = append(errs, err)
	}

	// Reconciliation configuration
	olderThan, err := parseDuration("RECONCILE_OLDER_THAN", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileOlderThan = olderThan
	}
	cfg.ReconcileBatchSize, err = parseInt("RECONCILE_BATCH_SIZE", 100)
	if err != nil {
		errs = append(errs, err)
	}
	schedule, err := parseDuration("RECONCILE_SCHEDULE", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileSchedule = schedule
	}

	if cfg.SubmitPollInterval > cfg.SubmitMaxWait {
		errs = append(errs, fmt.Errorf("SUBMIT_POLL_INTERVAL (%v) cannot be greater than SUBMIT_MAX_WAIT (%v)",
			cfg.SubmitPollInterval, cfg.SubmitMaxWait))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if len(c.MainnetEndpoints)+len(c.TestnetEndpoints)+len(c.DevnetEndpoints) == 0 {
		errs = append(errs, fmt.Errorf("at least one network endpoint list is required"))
	}

	if c.IssuerAddress == "" {
		errs = append(errs, fmt.Errorf("IssuerAddress is required"))
	}

	if c.IssuerSeedHex == "" {
		errs = append(errs, fmt.Errorf("IssuerSeedHex is required"))
	} else if err := validateSeedHex(c.IssuerSeedHex); err != nil {
		errs = append(errs, fmt.Errorf("IssuerSeedHex: %w", err))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.SubmitPollInterval > c.SubmitMaxWait {
		errs = append(errs, fmt.Errorf("SubmitPollInterval cannot be greater than SubmitMaxWait"))
	}

	if c.SubmitMaxWait < time.Second {
		errs = append(errs, fmt.Errorf("SubmitMaxWait must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Endpoints returns the per-network candidate endpoint lists, omitting
// networks with no configured endpoints.
func (c *Config) Endpoints() map[xrpl.Network][]string {
	endpoints := make(map[xrpl.Network][]string)
	if len(c.MainnetEndpoints) > 0 {
		endpoints[xrpl.NetworkMainnet] = c.MainnetEndpoints
	}
	if len(c.TestnetEndpoints) > 0 {
		endpoints[xrpl.NetworkTestnet] = c.TestnetEndpoints
	}
	if len(c.DevnetEndpoints) > 0 {
		endpoints[xrpl.NetworkDevnet] = c.DevnetEndpoints
	}
	return endpoints
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// validateSeedHex checks that a seed decodes to 32 bytes of key material.
func validateSeedHex(seedHex string) error {
	seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	if len(seed) != 32 {
		return fmt.Errorf("seed must be 32 bytes, got %d", len(seed))
	}
	return nil
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
