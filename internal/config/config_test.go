package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REWARDSD_DATABASE_URL", "postgres://localhost:5432/rewardsd")
	t.Setenv("REWARDSD_SOLANA_TOKEN_MINT", "JiETMintAddr1111111111111111111111111111111")
	t.Setenv("REWARDSD_SOLANA_FUNDING_KEY", "secret-key-material")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/rewardsd", cfg.Database.URL)
	assert.Equal(t, "JiETMintAddr1111111111111111111111111111111", cfg.Solana.TokenMint)
	assert.Equal(t, "secret-key-material", cfg.Solana.FundingKey)

	// Defaults fill in everything else.
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int32(6), cfg.Solana.TokenDecimals)
	assert.Equal(t, 45*time.Second, cfg.Solana.ConfirmDeadline())
	assert.Equal(t, 500*time.Millisecond, cfg.Solana.PollInterval())
	assert.True(t, cfg.Reconciler.Enabled)
	assert.Equal(t, "@every 2m", cfg.Reconciler.Schedule)
	assert.Equal(t, time.Minute, cfg.Reconciler.MinAttemptAge())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("REWARDSD_SOLANA_FUNDING_KEY", "secret-key-material")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9090
database:
  url: postgres://db:5432/rewardsd
solana:
  token_mint: JiETMintAddr1111111111111111111111111111111
  token_decimals: 9
reconciler:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int32(9), cfg.Solana.TokenDecimals)
	assert.False(t, cfg.Reconciler.Enabled)
	assert.Equal(t, "secret-key-material", cfg.Solana.FundingKey)
}

func TestLoadRequiredFields(t *testing.T) {
	t.Run("database url", func(t *testing.T) {
		t.Setenv("REWARDSD_SOLANA_TOKEN_MINT", "JiETMintAddr1111111111111111111111111111111")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.url")
	})

	t.Run("token mint", func(t *testing.T) {
		t.Setenv("REWARDSD_DATABASE_URL", "postgres://localhost:5432/rewardsd")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token_mint")
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
