package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  debug: true\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, time.Hour, cfg.Database.MaxLife)
	assert.Equal(t, 72*time.Hour, cfg.Security.JWTTTLH)
	assert.Equal(t, 2000, cfg.Chat.MaxMessageLen)
	assert.Equal(t, 10*time.Second, cfg.Chat.AckTimeout)
	assert.Equal(t, 256, cfg.Cache.LocalPubSubBuf)
}

func TestLoad_FileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  mode: mysql
  mysql_dsn: "u:p@tcp(db:3306)/chat"
chat:
  max_message_len: 50
security:
  allowed_origins: ["https://chat.example"]
`))
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Mode)
	assert.Equal(t, "u:p@tcp(db:3306)/chat", cfg.Database.MySQLDSN)
	assert.Equal(t, 50, cfg.Chat.MaxMessageLen)
	assert.Equal(t, []string{"https://chat.example"}, cfg.Security.AllowedOrigins)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CHAT_SERVER_PORT", "9123")
	t.Setenv("CHAT_SECURITY_JWT_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8000\n"))
	require.NoError(t, err)
	assert.Equal(t, 9123, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Security.JWTSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
