package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"SERVER_ADDR", "LOG_LEVEL", "DATABASE_URL", "NATS_URL",
	"SOLANA_RPC_URL", "SOLANA_NETWORK", "SOLANA_COMMITMENT", "SOLANA_RPC_RPS", "SOLANA_RPC_BURST",
	"OPCODE_TABLE", "SIGNER_KEYPAIR_PATH", "CONFIRM_INLINE", "CONFIRM_POLLS", "CONFIRM_INTERVAL",
	"BATCH_CONCURRENCY", "HISTORY_CONCURRENCY", "METADATA_HTTP_TIMEOUT", "MINT_CACHE_TTL",
	"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
	"CONFIRM_WORKFLOW_CHECKS", "CONFIRM_WORKFLOW_INTERVAL", "WORKER_CONCURRENCY",
}

func TestLoad_ValidConfig(t *testing.T) {
	cleanupEnv()
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, []string{"https://api.devnet.solana.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "devnet", cfg.SolanaNetwork)
	assert.Equal(t, "confirmed", cfg.SolanaCommitment)
	assert.Equal(t, "v2", cfg.OpcodeTable)
	assert.Equal(t, 10.0, cfg.SolanaRPCRPS)
	assert.Equal(t, 5, cfg.SolanaRPCBurst)
	assert.True(t, cfg.ConfirmInline)
	assert.Equal(t, 30, cfg.ConfirmPolls)
	assert.Equal(t, time.Second, cfg.ConfirmInterval)
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.Equal(t, 10*time.Second, cfg.MetadataHTTPTimeout)
	assert.Equal(t, 10*time.Minute, cfg.MintCacheTTL)
	assert.Equal(t, "localhost:7233", cfg.TemporalHost)
	assert.Equal(t, "petledger-confirmations", cfg.TemporalTaskQueue)
	assert.Equal(t, 60, cfg.ConfirmWorkflowChecks)
	assert.Equal(t, 5*time.Second, cfg.ConfirmWorkflowInterval)
	assert.Equal(t, 10, cfg.WorkerConcurrency)
	assert.False(t, cfg.JournalEnabled())
	assert.False(t, cfg.EventsEnabled())
}

func TestLoad_MissingSolanaRPCURL(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL is required")
}

func TestLoad_MultipleEndpoints(t *testing.T) {
	cleanupEnv()
	os.Setenv("SOLANA_RPC_URL", " https://a.example.com , ,https://b.example.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.SolanaRPCURLs)
}

func TestLoad_CollectsAllParseErrors(t *testing.T) {
	cleanupEnv()
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	os.Setenv("CONFIRM_INTERVAL", "invalid")
	os.Setenv("BATCH_CONCURRENCY", "eight")
	os.Setenv("CONFIRM_INLINE", "maybe")
	os.Setenv("SOLANA_RPC_RPS", "fast")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
	assert.Contains(t, err.Error(), "invalid integer")
	assert.Contains(t, err.Error(), "invalid boolean")
	assert.Contains(t, err.Error(), "invalid number")
}

func TestLoad_InvalidEnumValues(t *testing.T) {
	cleanupEnv()
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	os.Setenv("SOLANA_COMMITMENT", "recent")
	os.Setenv("SOLANA_NETWORK", "moonnet")
	os.Setenv("OPCODE_TABLE", "v3")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOLANA_COMMITMENT")
	assert.Contains(t, err.Error(), "SOLANA_NETWORK")
	assert.Contains(t, err.Error(), "OPCODE_TABLE")
}

func TestLoad_CustomValues(t *testing.T) {
	cleanupEnv()
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("SOLANA_NETWORK", "mainnet")
	os.Setenv("SOLANA_COMMITMENT", "finalized")
	os.Setenv("DATABASE_URL", "postgres://localhost/petledger")
	os.Setenv("NATS_URL", "nats://localhost:4222")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("CONFIRM_INLINE", "false")
	os.Setenv("SOLANA_RPC_RPS", "2.5")
	os.Setenv("CONFIRM_WORKFLOW_CHECKS", "10")
	os.Setenv("CONFIRM_WORKFLOW_INTERVAL", "30s")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mainnet", cfg.SolanaNetwork)
	assert.Equal(t, "finalized", cfg.SolanaCommitment)
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.ConfirmInline)
	assert.Equal(t, 2.5, cfg.SolanaRPCRPS)
	assert.Equal(t, 10, cfg.ConfirmWorkflowChecks)
	assert.Equal(t, 30*time.Second, cfg.ConfirmWorkflowInterval)
	assert.True(t, cfg.JournalEnabled())
	assert.True(t, cfg.EventsEnabled())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			SolanaRPCURLs:           []string{"http://localhost:8899"},
			SolanaNetwork:           "localnet",
			SolanaCommitment:        "confirmed",
			SolanaRPCBurst:          1,
			OpcodeTable:             "v1",
			ConfirmPolls:            1,
			ConfirmInterval:         time.Millisecond,
			BatchConcurrency:        1,
			HistoryConcurrency:      1,
			MetadataHTTPTimeout:     time.Second,
			MintCacheTTL:            time.Second,
			TemporalHost:            "localhost:7233",
			TemporalNamespace:       "default",
			TemporalTaskQueue:       "q",
			ConfirmWorkflowChecks:   1,
			ConfirmWorkflowInterval: time.Second,
			WorkerConcurrency:       1,
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no endpoints", func(c *Config) { c.SolanaRPCURLs = nil }, "SOLANA_RPC_URL is required"},
		{"negative rps", func(c *Config) { c.SolanaRPCRPS = -1 }, "SOLANA_RPC_RPS"},
		{"zero burst", func(c *Config) { c.SolanaRPCBurst = 0 }, "SOLANA_RPC_BURST"},
		{"zero polls", func(c *Config) { c.ConfirmPolls = 0 }, "CONFIRM_POLLS"},
		{"zero batch", func(c *Config) { c.BatchConcurrency = 0 }, "BATCH_CONCURRENCY"},
		{"short workflow interval", func(c *Config) { c.ConfirmWorkflowInterval = 100 * time.Millisecond }, "at least 1 second"},
		{"empty task queue", func(c *Config) { c.TemporalTaskQueue = "" }, "TEMPORAL_TASK_QUEUE"},
		{"zero worker concurrency", func(c *Config) { c.WorkerConcurrency = 0 }, "WORKER_CONCURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	assert.Panics(t, func() { MustLoad() })
}

func cleanupEnv() {
	for _, key := range envKeys {
		os.Unsetenv(key)
	}
}
