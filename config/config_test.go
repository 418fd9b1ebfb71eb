package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ircstate.local", cfg.Server.Name)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 500, cfg.CatchUp.BatchLimit)
	assert.Equal(t, "127.0.0.1:8080", cfg.GetAPIListenAddress())
	assert.Equal(t, 10*time.Millisecond, cfg.RetryBackoff())
}

func TestLoadYAML(t *testing.T) {
	path := writeTempConfig(t, "cfg.yaml", `
server:
  name: chat.example.com
  operators:
    - alice
store:
  driver: postgres
  dsn: host=localhost dbname=ircstate
api:
  enabled: true
  port: 9000
  bearer_tokens:
    - secret-token
catchup:
  batch_limit: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "chat.example.com", cfg.Server.Name)
	assert.Equal(t, []string{"alice"}, cfg.Server.Operators)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:9000", cfg.GetAPIListenAddress())
	assert.Equal(t, []string{"secret-token"}, cfg.API.BearerTokens)
	assert.Equal(t, 50, cfg.CatchUp.BatchLimit)
	assert.Equal(t, path, cfg.Source)
}

func TestLoadTOML(t *testing.T) {
	path := writeTempConfig(t, "cfg.toml", `
[server]
name = "toml.example.com"

[store]
driver = "mysql"
dsn = "user:pass@/ircstate"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "toml.example.com", cfg.Server.Name)
	assert.Equal(t, "mysql", cfg.Store.Driver)
}

func TestLoadJSON(t *testing.T) {
	path := writeTempConfig(t, "cfg.json", `{
  "server": {"name": "json.example.com"},
  "retry": {"attempts": 2, "backoff_ms": 25}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json.example.com", cfg.Server.Name)
	assert.Equal(t, 2, cfg.Retry.Attempts)
	assert.Equal(t, 25*time.Millisecond, cfg.RetryBackoff())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IRCSTATE_SERVER_NAME", "env.example.com")
	t.Setenv("IRCSTATE_API_ENABLED", "true")
	t.Setenv("IRCSTATE_API_PORT", "9999")
	t.Setenv("IRCSTATE_OPERATORS", "alice, bob")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env.example.com", cfg.Server.Name)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 9999, cfg.API.Port)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Server.Operators)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	path := writeTempConfig(t, "cfg.yaml", "server:\n  name: before\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "before", cfg.Server.Name)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  name: after\n"), 0644))
	require.NoError(t, cfg.Reload(""))
	assert.Equal(t, "after", cfg.Server.Name)
}
