package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, uint16(10), cfg.Exchange.MakerFeeBps)
	assert.Equal(t, uint16(20), cfg.Exchange.TakerFeeBps)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.NotEqual(t, uuid.Nil, cfg.AuthorityID(), "unconfigured authority gets a generated identity")
	assert.Equal(t, cfg.AuthorityID(), cfg.FeeCollectorID())
}

func TestLoadFromFile(t *testing.T) {
	authority := uuid.New()
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
environment: production
server:
  port: 9000
exchange:
  authority: ` + authority.String() + `
  maker_fee_bps: 25
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, uint16(25), cfg.Exchange.MakerFeeBps)
	assert.Equal(t, uint16(20), cfg.Exchange.TakerFeeBps, "unset fields keep defaults")
	assert.Equal(t, authority, cfg.AuthorityID())
	assert.Equal(t, authority, cfg.FeeCollectorID(), "fee collector falls back to the authority")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidation(t *testing.T) {
	t.Run("fee cap", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("exchange:\n  maker_fee_bps: 5000\n"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("bad authority", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("exchange:\n  authority: not-a-uuid\n"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("bad port", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("BOURSE_SERVER_PORT", "7777")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}
