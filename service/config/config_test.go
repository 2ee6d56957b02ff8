package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testVaultProgram = "6szSVnHy2GrCi6y7aQxJfQG9WpVkTgdB6kDXixepvdoW"
	testNFTProgram   = "5XdsDEXPiHndfBkrvJKjsFZy3Zf95bUZLRZQvJ4W6Bpa"
	testTokenProgram = "BSCgQLPHjjvoH6qbG59dyxUTfcK6jAqFDdPk6MNN7sEz"
	testOwner        = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testAssetMint    = "4kXBWAG92UZA1FPEQDN5bjePoFyQsbTnZ9rpxgRBbFYk"
	testShareMint    = "5CTdzZxPhqC4DWpTM5MFzwqCtHFmKQTsXE7VWUC6UxTG"
	testCollection   = "EoZ5NFigrZ7uqUUSH6ShDsYGMooe5ziTfgWvAbFmVTXt"
)

// setRequiredEnv sets every required variable to a consistent set of values.
func setRequiredEnv() {
	os.Setenv("VAULT_PROGRAM_ID", testVaultProgram)
	os.Setenv("NFT_PROGRAM_ID", testNFTProgram)
	os.Setenv("TOKEN_PROGRAM_ID", testTokenProgram)
	os.Setenv("OWNER_PUBKEY", testOwner)
	os.Setenv("VAULT_ASSET_MINT", testAssetMint)
	os.Setenv("SHARE_MINT", testShareMint)
	os.Setenv("COLLECTION_PDA", testCollection)
	os.Setenv("VAULT_VERSION", "v3")
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testVaultProgram, cfg.VaultProgramID.String())
	assert.Equal(t, testCollection, cfg.CollectionPDA.String())
	assert.Equal(t, "v3", cfg.VaultVersion)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "solana-devnet", cfg.Network)
	assert.Equal(t, "mint_auth_v2", cfg.MintAuthSeed)
	assert.Equal(t, 3*time.Second, cfg.SuccessResetDelay)
	assert.Equal(t, 5*time.Second, cfg.FailureResetDelay)
	assert.Equal(t, time.Second, cfg.RefreshDelay)
	assert.Equal(t, 60*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 4, cfg.BalanceConcurrency)
	assert.Empty(t, cfg.NATSURL)

	// Candidate mints default to the vault asset mint.
	require.Len(t, cfg.TokenMints, 1)
	assert.Equal(t, testAssetMint, cfg.TokenMints[0].String())
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantErr string
	}{
		{"vault program", "VAULT_PROGRAM_ID", "VAULT_PROGRAM_ID is required"},
		{"nft program", "NFT_PROGRAM_ID", "NFT_PROGRAM_ID is required"},
		{"token program", "TOKEN_PROGRAM_ID", "TOKEN_PROGRAM_ID is required"},
		{"owner", "OWNER_PUBKEY", "OWNER_PUBKEY is required"},
		{"asset mint", "VAULT_ASSET_MINT", "VAULT_ASSET_MINT is required"},
		{"share mint", "SHARE_MINT", "SHARE_MINT is required"},
		{"collection", "COLLECTION_PDA", "COLLECTION_PDA is required"},
		{"version", "VAULT_VERSION", "VaultVersion is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv()
			defer cleanupEnv()
			os.Unsetenv(tt.unset)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VAULT_PROGRAM_ID is required")
	assert.Contains(t, err.Error(), "SHARE_MINT is required")
	assert.Contains(t, err.Error(), "COLLECTION_PDA is required")
}

func TestLoad_InvalidPublicKey(t *testing.T) {
	setRequiredEnv()
	os.Setenv("SHARE_MINT", "not-a-key!")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SHARE_MINT: invalid public key")
}

func TestLoad_CollectionMismatch(t *testing.T) {
	setRequiredEnv()
	// A valid key that is not the collection PDA of the NFT program.
	os.Setenv("COLLECTION_PDA", testShareMint)
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "does not match derived collection address")
}

func TestConfig_DeriverMatchesCollection(t *testing.T) {
	setRequiredEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	d, err := cfg.Deriver()
	require.NoError(t, err)
	collection, _, err := d.CollectionAddress()
	require.NoError(t, err)
	assert.Equal(t, cfg.CollectionPDA, collection)
	assert.Equal(t, cfg.VaultAssetMint, d.AssetMint())
	assert.Equal(t, "vault_"+cfg.VaultVersion, d.Seeds().Vault)

	cfg.VaultVersion = ""
	_, err = cfg.Deriver()
	assert.Error(t, err)
}

func TestLoad_VersionWithSeparator(t *testing.T) {
	setRequiredEnv()
	os.Setenv("VAULT_VERSION", "_v3")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not contain '_'")
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequiredEnv()
	os.Setenv("CONFIRM_TIMEOUT", "invalid")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_PollGreaterThanTimeout(t *testing.T) {
	setRequiredEnv()
	os.Setenv("CONFIRM_TIMEOUT", "1s")
	os.Setenv("CONFIRM_POLL_INTERVAL", "5s")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be greater than")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv()
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://localhost:4222")
	os.Setenv("NETWORK", "solana-mainnet")
	os.Setenv("SOLANA_RPC_URL", "https://rpc.example.com")
	os.Setenv("TOKEN_MINTS", testAssetMint+", "+testShareMint)
	os.Setenv("RPC_RATE_LIMIT", "2.5")
	os.Setenv("BALANCE_CONCURRENCY", "8")
	os.Setenv("QUERY_CACHE_TTL", "30s")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "solana-mainnet", cfg.Network)
	assert.Equal(t, "https://rpc.example.com", cfg.SolanaRPCURL)
	assert.Equal(t, 2.5, cfg.RPCRateLimit)
	assert.Equal(t, 8, cfg.BalanceConcurrency)
	assert.Equal(t, 30*time.Second, cfg.QueryCacheTTL)
	require.Len(t, cfg.TokenMints, 2)
	assert.Equal(t, testShareMint, cfg.TokenMints[1].String())
}

func TestMustLoad_Panics(t *testing.T) {
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	setRequiredEnv()
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"VAULT_PROGRAM_ID", "NFT_PROGRAM_ID", "TOKEN_PROGRAM_ID", "OWNER_PUBKEY",
		"VAULT_ASSET_MINT", "SHARE_MINT", "COLLECTION_PDA", "VAULT_VERSION",
		"MINT_AUTH_SEED", "TOKEN_MINTS", "NETWORK", "SOLANA_RPC_URL",
		"RPC_RATE_LIMIT", "KEYPAIR_PATH", "SERVER_ADDR", "LOG_LEVEL", "NATS_URL",
		"SUCCESS_RESET_DELAY", "FAILURE_RESET_DELAY", "REFRESH_DELAY",
		"CONFIRM_TIMEOUT", "CONFIRM_POLL_INTERVAL", "QUERY_CACHE_TTL",
		"BALANCE_CONCURRENCY",
	} {
		os.Unsetenv(key)
	}
}
