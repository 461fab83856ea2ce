package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8089", cfg.Listen)
	assert.Equal(t, 20, cfg.Shards)
	assert.Equal(t, "sqlite3", cfg.Store.Driver)
	assert.Equal(t, 60*time.Second, cfg.Cache.TTL)
	assert.False(t, cfg.Global.AllShards)
	assert.Equal(t, "chat_sync.events", cfg.AMQP.Exchange)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
api_origin: https://chat.example.com
user_id: alice
shards: 8
store:
  driver: memory
global:
  all_shards: true
cache:
  ttl: 5s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("CHATSYNC_USER_ID", "bob")
	t.Setenv("CHATSYNC_STORE_DSN", "/tmp/x.db")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.APIOrigin)
	assert.Equal(t, "bob", cfg.UserID)
	assert.Equal(t, 8, cfg.Shards)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Store.DSN)
	assert.True(t, cfg.Global.AllShards)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL)
	require.NoError(t, cfg.Validate())
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("shards: [1\n"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := Config{APIOrigin: "http://x", UserID: "u", Shards: 1}
	require.NoError(t, ok.Validate())

	c := ok
	c.APIOrigin = ""
	assert.ErrorIs(t, c.Validate(), ErrMissingOrigin)

	c = ok
	c.UserID = ""
	assert.ErrorIs(t, c.Validate(), ErrMissingUser)

	c = ok
	c.Shards = 0
	assert.ErrorIs(t, c.Validate(), ErrBadShards)
}
