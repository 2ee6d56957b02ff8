package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/nftvault/service/pda"
	"github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// NATS configuration (empty disables event publishing)
	NATSURL string

	// Program identifiers
	VaultProgramID solana.PublicKey
	NFTProgramID   solana.PublicKey
	TokenProgramID solana.PublicKey

	// Core addresses
	Owner          solana.PublicKey
	VaultAssetMint solana.PublicKey
	ShareMint      solana.PublicKey
	CollectionPDA  solana.PublicKey

	// VaultVersion is the suffix applied to every versioned PDA seed.
	// Changing it moves every derived vault address.
	VaultVersion string
	MintAuthSeed string

	// TokenMints are the candidate mints listed by balance queries.
	TokenMints []solana.PublicKey

	// Network configuration
	Network      string
	SolanaRPCURL string
	RPCRateLimit float64

	// Wallet configuration
	KeypairPath string

	// Transaction lifecycle timing
	SuccessResetDelay   time.Duration
	FailureResetDelay   time.Duration
	RefreshDelay        time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// Query layer
	QueryCacheTTL      time.Duration
	BalanceConcurrency int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Program identifiers and core addresses have no defaults.
	required := []struct {
		key string
		dst *solana.PublicKey
	}{
		{"VAULT_PROGRAM_ID", &cfg.VaultProgramID},
		{"NFT_PROGRAM_ID", &cfg.NFTProgramID},
		{"TOKEN_PROGRAM_ID", &cfg.TokenProgramID},
		{"OWNER_PUBKEY", &cfg.Owner},
		{"VAULT_ASSET_MINT", &cfg.VaultAssetMint},
		{"SHARE_MINT", &cfg.ShareMint},
		{"COLLECTION_PDA", &cfg.CollectionPDA},
	}
	for _, r := range required {
		pk, err := parsePublicKey(r.key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*r.dst = pk
	}

	cfg.VaultVersion = os.Getenv("VAULT_VERSION")
	cfg.MintAuthSeed = getEnvOrDefault("MINT_AUTH_SEED", "mint_auth_v2")

	mints, err := parsePublicKeyList("TOKEN_MINTS")
	if err != nil {
		errs = append(errs, err)
	} else if len(mints) > 0 {
		cfg.TokenMints = mints
	} else if !cfg.VaultAssetMint.IsZero() {
		cfg.TokenMints = []solana.PublicKey{cfg.VaultAssetMint}
	}

	// Network configuration
	cfg.Network = getEnvOrDefault("NETWORK", "solana-devnet")
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	rateLimit, err := parseFloat("RPC_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRateLimit = rateLimit
	}

	cfg.KeypairPath = getEnvOrDefault("KEYPAIR_PATH", defaultKeypairPath())

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"SUCCESS_RESET_DELAY", "3s", &cfg.SuccessResetDelay},
		{"FAILURE_RESET_DELAY", "5s", &cfg.FailureResetDelay},
		{"REFRESH_DELAY", "1s", &cfg.RefreshDelay},
		{"CONFIRM_TIMEOUT", "60s", &cfg.ConfirmTimeout},
		{"CONFIRM_POLL_INTERVAL", "500ms", &cfg.ConfirmPollInterval},
		{"QUERY_CACHE_TTL", "0s", &cfg.QueryCacheTTL},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = v
	}

	concurrency, err := parseInt("BALANCE_CONCURRENCY", 4)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BalanceConcurrency = concurrency
	}

	// Return all validation errors
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

// Deriver returns the address deriver for the configured programs, seeds
// and default vault.
func (c *Config) Deriver() (*pda.Deriver, error) {
	seeds, err := pda.VersionedSeeds(c.VaultVersion, c.MintAuthSeed)
	if err != nil {
		return nil, err
	}
	return pda.NewDeriver(
		pda.Programs{Vault: c.VaultProgramID, NFT: c.NFTProgramID, Token: c.TokenProgramID},
		seeds,
		c.Owner,
		c.VaultAssetMint,
		c.ShareMint,
	), nil
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	keys := []struct {
		name string
		pk   solana.PublicKey
	}{
		{"VaultProgramID", c.VaultProgramID},
		{"NFTProgramID", c.NFTProgramID},
		{"TokenProgramID", c.TokenProgramID},
		{"Owner", c.Owner},
		{"VaultAssetMint", c.VaultAssetMint},
		{"ShareMint", c.ShareMint},
		{"CollectionPDA", c.CollectionPDA},
	}
	for _, k := range keys {
		if k.pk.IsZero() {
			errs = append(errs, fmt.Errorf("%s is required", k.name))
		}
	}

	if c.VaultVersion == "" {
		errs = append(errs, fmt.Errorf("VaultVersion is required"))
	} else if strings.Contains(c.VaultVersion, "_") {
		errs = append(errs, fmt.Errorf("VaultVersion %q must not contain '_' (the seed separator is added automatically)", c.VaultVersion))
	}

	if c.MintAuthSeed == "" {
		errs = append(errs, fmt.Errorf("MintAuthSeed is required"))
	}

	// The collection address is a PDA of the NFT program; a mismatch means
	// the configured program id or address is stale. Seed errors are
	// reported above.
	if d, err := c.Deriver(); err == nil && !c.NFTProgramID.IsZero() && !c.CollectionPDA.IsZero() {
		derived, _, err := d.CollectionAddress()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to derive collection address: %w", err))
		} else if !derived.Equals(c.CollectionPDA) {
			errs = append(errs, fmt.Errorf("CollectionPDA %s does not match derived collection address %s", c.CollectionPDA, derived))
		}
	}

	if c.RPCRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("RPCRateLimit must be positive"))
	}

	if c.SuccessResetDelay <= 0 || c.FailureResetDelay <= 0 {
		errs = append(errs, fmt.Errorf("reset delays must be positive"))
	}

	if c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be positive"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	} else if c.ConfirmPollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval (%v) cannot be greater than ConfirmTimeout (%v)",
			c.ConfirmPollInterval, c.ConfirmTimeout))
	}

	if c.RefreshDelay < 0 || c.QueryCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("RefreshDelay and QueryCacheTTL cannot be negative"))
	}

	if c.BalanceConcurrency < 1 {
		errs = append(errs, fmt.Errorf("BalanceConcurrency must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parsePublicKey parses a required base58 public key from an environment variable.
func parsePublicKey(key string) (solana.PublicKey, error) {
	value := os.Getenv(key)
	if value == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", key)
	}
	pk, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s: invalid public key %q: %w", key, value, err)
	}
	return pk, nil
}

// parsePublicKeyList parses an optional comma-separated list of public keys.
func parsePublicKeyList(key string) ([]solana.PublicKey, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}
	var out []solana.PublicKey
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(part)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid public key %q: %w", key, part, err)
		}
		out = append(out, pk)
	}
	return out, nil
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

// parseFloat parses a float from an environment variable or uses a default.
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

func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}
