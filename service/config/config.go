package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration. Empty disables the submission journal.
	DatabaseURL string

	// NATS configuration. Empty disables event publishing.
	NATSURL string

	// Solana configuration
	SolanaRPCURLs    []string
	SolanaNetwork    string
	SolanaCommitment string
	SolanaRPCRPS     float64
	SolanaRPCBurst   int
	OpcodeTable      string

	// Submission configuration
	SignerKeypairPath  string
	ConfirmInline      bool
	ConfirmPolls       int
	ConfirmInterval    time.Duration
	BatchConcurrency   int
	HistoryConcurrency int

	// Reads
	MetadataHTTPTimeout time.Duration
	MintCacheTTL        time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Durable confirmation
	ConfirmWorkflowChecks   int
	ConfirmWorkflowInterval time.Duration
	WorkerConcurrency       int
}

var (
	validNetworks    = []string{"mainnet", "devnet", "testnet", "localnet"}
	validCommitments = []string{"processed", "confirmed", "finalized"}
	validTables      = []string{"v1", "v2"}
)

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URL"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "devnet")
	cfg.SolanaCommitment = getEnvOrDefault("SOLANA_COMMITMENT", "confirmed")
	cfg.OpcodeTable = getEnvOrDefault("OPCODE_TABLE", "v2")
	cfg.SignerKeypairPath = os.Getenv("SIGNER_KEYPAIR_PATH")

	var err error
	if cfg.SolanaRPCRPS, err = parseFloat("SOLANA_RPC_RPS", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.SolanaRPCBurst, err = parseInt("SOLANA_RPC_BURST", 5); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmInline, err = parseBool("CONFIRM_INLINE", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmPolls, err = parseInt("CONFIRM_POLLS", 30); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmInterval, err = parseDuration("CONFIRM_INTERVAL", "1s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.BatchConcurrency, err = parseInt("BATCH_CONCURRENCY", 8); err != nil {
		errs = append(errs, err)
	}
	if cfg.HistoryConcurrency, err = parseInt("HISTORY_CONCURRENCY", 8); err != nil {
		errs = append(errs, err)
	}
	if cfg.MetadataHTTPTimeout, err = parseDuration("METADATA_HTTP_TIMEOUT", "10s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.MintCacheTTL, err = parseDuration("MINT_CACHE_TTL", "10m"); err != nil {
		errs = append(errs, err)
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "petledger-confirmations")
	if cfg.ConfirmWorkflowChecks, err = parseInt("CONFIRM_WORKFLOW_CHECKS", 60); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmWorkflowInterval, err = parseDuration("CONFIRM_WORKFLOW_INTERVAL", "5s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.WorkerConcurrency, err = parseInt("WORKER_CONCURRENCY", 10); err != nil {
		errs = append(errs, err)
	}

	// Parse errors first; range checks only make sense on parsed values.
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
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

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	if !slices.Contains(validNetworks, c.SolanaNetwork) {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be one of %v, got %q", validNetworks, c.SolanaNetwork))
	}
	if !slices.Contains(validCommitments, c.SolanaCommitment) {
		errs = append(errs, fmt.Errorf("SOLANA_COMMITMENT must be one of %v, got %q", validCommitments, c.SolanaCommitment))
	}
	if !slices.Contains(validTables, c.OpcodeTable) {
		errs = append(errs, fmt.Errorf("OPCODE_TABLE must be one of %v, got %q", validTables, c.OpcodeTable))
	}
	if c.SolanaRPCRPS < 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_RPS cannot be negative"))
	}
	if c.SolanaRPCBurst < 1 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_BURST must be at least 1"))
	}
	if c.ConfirmPolls < 1 {
		errs = append(errs, fmt.Errorf("CONFIRM_POLLS must be at least 1"))
	}
	if c.ConfirmInterval <= 0 {
		errs = append(errs, fmt.Errorf("CONFIRM_INTERVAL must be positive"))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("BATCH_CONCURRENCY must be at least 1"))
	}
	if c.HistoryConcurrency < 1 {
		errs = append(errs, fmt.Errorf("HISTORY_CONCURRENCY must be at least 1"))
	}
	if c.MetadataHTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("METADATA_HTTP_TIMEOUT must be positive"))
	}
	if c.MintCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("MINT_CACHE_TTL must be positive"))
	}
	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TEMPORAL_HOST is required"))
	}
	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TEMPORAL_NAMESPACE is required"))
	}
	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TEMPORAL_TASK_QUEUE is required"))
	}
	if c.ConfirmWorkflowChecks < 1 {
		errs = append(errs, fmt.Errorf("CONFIRM_WORKFLOW_CHECKS must be at least 1"))
	}
	if c.ConfirmWorkflowInterval < time.Second {
		errs = append(errs, fmt.Errorf("CONFIRM_WORKFLOW_INTERVAL must be at least 1 second"))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// JournalEnabled reports whether submissions are written to Postgres.
func (c *Config) JournalEnabled() bool {
	return c.DatabaseURL != ""
}

// EventsEnabled reports whether submission events are published to NATS.
func (c *Config) EventsEnabled() bool {
	return c.NATSURL != ""
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
