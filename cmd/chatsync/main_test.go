package main

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	t.Run("default section", func(t *testing.T) {
		var cfg Config
		require.NoError(t, setConfigValue(&cfg, "default.token", "tok"))
		require.NoError(t, setConfigValue(&cfg, "default.base_url", "https://chat.example.com"))
		assert.Equal(t, "tok", cfg.Default.Token)
		assert.Equal(t, "https://chat.example.com", cfg.Default.BaseURL)
		assert.Equal(t, "https://chat.example.com/ws", wsURL(&cfg))
	})

	t.Run("sync section", func(t *testing.T) {
		var cfg Config
		require.NoError(t, setConfigValue(&cfg, "sync.max_reconnect_attempts", "3"))
		require.NoError(t, setConfigValue(&cfg, "sync.reconnect_delay", "2s"))
		require.NoError(t, setConfigValue(&cfg, "sync.delete_grace_delay", "250ms"))

		ec := cfg.engineConfig()
		assert.Equal(t, 3, ec.MaxReconnectAttempts)
		assert.Equal(t, 2*time.Second, ec.ReconnectDelay)
		assert.Equal(t, 250*time.Millisecond, ec.DeleteGraceDelay)
		assert.Zero(t, ec.TypingTimeout)
	})

	t.Run("invalid keys and values", func(t *testing.T) {
		var cfg Config
		assert.Error(t, setConfigValue(&cfg, "token", "x"))
		assert.Error(t, setConfigValue(&cfg, "auth.token", "x"))
		assert.Error(t, setConfigValue(&cfg, "default.nope", "x"))
		assert.Error(t, setConfigValue(&cfg, "sync.reconnect_delay", "soon"))
		assert.Error(t, setConfigValue(&cfg, "sync.max_reconnect_attempts", "-1"))
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHATSYNC_TOKEN", "env-token")
	t.Setenv("CHATSYNC_URL", "")
	cfg := Config{Default: ConfigDefault{Token: "file-token", BaseURL: "http://file"}}
	applyEnv(&cfg)
	assert.Equal(t, "env-token", cfg.Default.Token)
	assert.Equal(t, "http://file", cfg.Default.BaseURL)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "*****", maskKey("short"))
	assert.Equal(t, "eyJhbGci...wxyz", maskKey("eyJhbGciOiJIUzI1NiJ9.abcdwxyz"))
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug", "json")
	require.NoError(t, err)
	_, err = newLogger("loud", "text")
	assert.Error(t, err)
	_, err = newLogger("info", "xml")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHATSYNC_TOKEN", "env-token-0123456789")

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, runConfigSet(cmd, []string{"default.base_url", "https://chat.example.com"}))
	assert.Equal(t, "default.base_url = https://chat.example.com\n", out.String())

	path, err := configPath()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "https://chat.example.com")
	assert.NotContains(t, string(data), "env-token", "environment overrides stay out of the file")

	out.Reset()
	require.NoError(t, runConfigShow(cmd, nil))
	assert.Contains(t, out.String(), "env-toke...6789")
	assert.NotContains(t, out.String(), "env-token-0123456789")
}
