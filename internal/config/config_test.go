package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, "access", cfg.Auth.CookieName)
	assert.Equal(t, "token", cfg.Auth.QueryParam)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrokhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: 0.0.0.0:9000
database:
  driver: sqlite
  path: /tmp/hub.db
  op_timeout: 2s
auth:
  secret: from-file-secret-value
broker:
  send_buffer: 8
`), 0o644))

	t.Setenv("WROKHUB_AUTH_SECRET", "from-env-secret-value")
	t.Setenv("WROKHUB_AUTH_VERIFY_TIMEOUT", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "/tmp/hub.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Second, cfg.Database.OpTimeout)
	assert.Equal(t, "from-env-secret-value", cfg.Auth.Secret)
	assert.Equal(t, 750*time.Millisecond, cfg.Auth.VerifyTimeout)
	assert.Equal(t, 8, cfg.Broker.SendBuffer)
	// untouched fields keep defaults
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("WROKHUB_DB_OP_TIMEOUT", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WROKHUB_DB_OP_TIMEOUT")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.Validate(), "auth.secret")

	cfg.Auth.Secret = "0123456789abcdef"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(), "unknown database driver")

	cfg.Database.Driver = "postgres"
	assert.ErrorContains(t, cfg.Validate(), "database.dsn")
}
