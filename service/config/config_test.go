package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sablefin/mintd/service/xrpl"
)

const testSeed = "4242424242424242424242424242424242424242424242424242424242424242"

func setRequiredEnv() {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("XRPL_TESTNET_ENDPOINTS", "wss://s.altnet.rippletest.net:51233")
	os.Setenv("ISSUER_ADDRESS", "rIssuerXXXXXXXXXXXXXXXXXXXXXXXXXXX")
	os.Setenv("ISSUER_SEED", testSeed)
}

func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR", "LOG_LEVEL", "DATABASE_URL", "NATS_URL",
		"XRPL_MAINNET_ENDPOINTS", "XRPL_TESTNET_ENDPOINTS", "XRPL_DEVNET_ENDPOINTS",
		"ISSUER_ADDRESS", "ISSUER_SEED",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
		"POOL_MAX_IDLE", "POOL_SWEEP_INTERVAL",
		"SUBMIT_POLL_INTERVAL", "SUBMIT_MAX_WAIT", "TX_FEE_DROPS", "MAX_LEDGER_OFFSET",
		"RECONCILE_OLDER_THAN", "RECONCILE_BATCH_SIZE", "RECONCILE_SCHEDULE",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, []string{"wss://s.altnet.rippletest.net:51233"}, cfg.TestnetEndpoints)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, 5*time.Minute, cfg.PoolMaxIdle)
	assert.Equal(t, 500*time.Millisecond, cfg.SubmitPollInterval)
	assert.Equal(t, 30*time.Second, cfg.SubmitMaxWait)
	assert.Equal(t, "10", cfg.Fee)
	assert.Equal(t, 20, cfg.MaxLedgerOffset)
	assert.Equal(t, "mintd-reconcile", cfg.TemporalTaskQueue)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	setRequiredEnv()
	os.Unsetenv("DATABASE_URL")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_MissingEndpoints(t *testing.T) {
	setRequiredEnv()
	os.Unsetenv("XRPL_TESTNET_ENDPOINTS")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "XRPL_MAINNET_ENDPOINTS")
}

func TestLoad_MissingIssuer(t *testing.T) {
	setRequiredEnv()
	os.Unsetenv("ISSUER_ADDRESS")
	os.Unsetenv("ISSUER_SEED")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ISSUER_ADDRESS is required")
	assert.Contains(t, err.Error(), "ISSUER_SEED is required")
}

func TestLoad_InvalidSeed(t *testing.T) {
	setRequiredEnv()
	os.Setenv("ISSUER_SEED", "deadbeef")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed must be 32 bytes")
}

func TestLoad_EndpointListParsing(t *testing.T) {
	setRequiredEnv()
	os.Setenv("XRPL_MAINNET_ENDPOINTS", "wss://xrplcluster.com, wss://s1.ripple.com , wss://s2.ripple.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://xrplcluster.com", "wss://s1.ripple.com", "wss://s2.ripple.com"}, cfg.MainnetEndpoints)
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequiredEnv()
	os.Setenv("SUBMIT_MAX_WAIT", "invalid")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_PollIntervalAboveMaxWait(t *testing.T) {
	setRequiredEnv()
	os.Setenv("SUBMIT_POLL_INTERVAL", "1m")
	os.Setenv("SUBMIT_MAX_WAIT", "30s")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUBMIT_POLL_INTERVAL")
}

func TestConfig_Endpoints(t *testing.T) {
	cfg := &Config{
		TestnetEndpoints: []string{"wss://testnet.example.com"},
		DevnetEndpoints:  []string{"wss://devnet-a.example.com", "wss://devnet-b.example.com"},
	}
	endpoints := cfg.Endpoints()
	assert.Len(t, endpoints, 2)
	assert.NotContains(t, endpoints, xrpl.NetworkMainnet)
	assert.Equal(t, []string{"wss://testnet.example.com"}, endpoints[xrpl.NetworkTestnet])
	assert.Len(t, endpoints[xrpl.NetworkDevnet], 2)
}

func TestConfig_Validate(t *testing.T) {
	valid := &Config{
		DatabaseURL:        "postgres://localhost/test",
		TestnetEndpoints:   []string{"wss://testnet.example.com"},
		IssuerAddress:      "rIssuerXXXXXXXXXXXXXXXXXXXXXXXXXXX",
		IssuerSeedHex:      testSeed,
		TemporalHost:       "localhost:7233",
		TemporalNamespace:  "default",
		TemporalTaskQueue:  "mintd-reconcile",
		SubmitPollInterval: 500 * time.Millisecond,
		SubmitMaxWait:      30 * time.Second,
	}
	assert.NoError(t, valid.Validate())

	broken := *valid
	broken.IssuerSeedHex = strings.Repeat("zz", 32)
	assert.Error(t, broken.Validate())

	broken = *valid
	broken.SubmitMaxWait = 100 * time.Millisecond
	broken.SubmitPollInterval = 10 * time.Millisecond
	assert.Error(t, broken.Validate())
}
