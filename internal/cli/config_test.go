package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "ALLOW_CORS", "OVERLAY_RELAY_URL", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  address: "127.0.0.1:4000"
  allow_cors: false
  static_dir: "./web"
relay:
  echo_to_sender: false
  send_buffer: 32
  max_message_bytes: 1024
  snapshot_path: "/tmp/doc.json"
client:
  relay_url: "https://relay.example.com"
  http_fallback: false
fallback:
  enabled: true
  storage: sqlite
  path: "/tmp/slot.db"
watch:
  output_dir: "./out"
log:
  level: debug
observability:
  service: "overlay-test"
  trace_addr: "localhost:4317"
  metrics: true
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4000", cfg.Address)
	assert.False(t, cfg.RelayConfig.AllowCORS)
	assert.Equal(t, "./web", cfg.RelayConfig.StaticDir)
	assert.True(t, cfg.RelayConfig.NoEcho)
	assert.Equal(t, 32, cfg.RelayConfig.SendBuffer)
	assert.Equal(t, int64(1024), cfg.RelayConfig.MaxMessageBytes)
	assert.True(t, cfg.RelayConfig.Metrics)
	assert.Equal(t, "/tmp/doc.json", cfg.SnapshotPath)
	assert.Equal(t, "https://relay.example.com", cfg.RelayURL)
	assert.False(t, cfg.HTTPFallback)
	assert.True(t, cfg.Fallback)
	assert.Equal(t, "sqlite", cfg.Slot.Kind)
	assert.Equal(t, "/tmp/slot.db", cfg.Slot.Path)
	assert.Equal(t, "./out", cfg.OutputDir)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "overlay-test", cfg.Observability.Service)
	assert.Equal(t, "localhost:4317", cfg.Observability.TraceAddr)
	assert.Nil(t, cfg.TLS)
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, defaultAddress, cfg.Address)
	assert.True(t, cfg.RelayConfig.AllowCORS)
	assert.False(t, cfg.RelayConfig.NoEcho, "echo to sender is on by default")
	assert.Equal(t, defaultRelayURL, cfg.RelayURL)
	assert.True(t, cfg.HTTPFallback)
	assert.True(t, cfg.Fallback)
	assert.Equal(t, "file", cfg.Slot.Kind)
	assert.Equal(t, defaultOutputDir, cfg.OutputDir)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, defaultService, cfg.Observability.Service)
}

func TestLoadConfig_Partial(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
# only the relay section
relay:
  send_buffer: 4
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.RelayConfig.SendBuffer)
	assert.Equal(t, defaultAddress, cfg.Address)
	assert.True(t, cfg.RelayConfig.AllowCORS)
}

func TestLoadConfig_TLS(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
client:
  ca_file: ca.pem
  cert_file: client.pem
  key_file: client-key.pem
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.TLS)
	assert.Equal(t, "ca.pem", cfg.TLS.CAFile)
	assert.Equal(t, "client.pem", cfg.TLS.CertFile)
	assert.Equal(t, "client-key.pem", cfg.TLS.KeyFile)
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)

	tests := map[string]string{
		"invalid yaml":  "server: [unclosed",
		"empty file":    "",
		"unknown field": "server:\n  adress: x\n",
		"bad log level": "log:\n  level: loud\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadConfig_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOW_CORS", "false")
	t.Setenv("OVERLAY_RELAY_URL", "ws://relay:9000")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Address)
	assert.False(t, cfg.RelayConfig.AllowCORS)
	assert.Equal(t, "ws://relay:9000", cfg.RelayURL)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestLoadConfig_EnvBadLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "chatty")

	_, err := loadConfig("")
	assert.Error(t, err)
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"false", true, false},
		{"0", true, false},
		{"maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("OVERLAY_TEST_BOOL", tt.value)
			if got := getEnvBool("OVERLAY_TEST_BOOL", tt.fallback); got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.value, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestClientConfig(t *testing.T) {
	cfg := &config{RelayURL: "http://x", Fallback: false, HTTPFallback: true}
	cc, slot, err := cfg.clientConfig()
	require.NoError(t, err)
	assert.Nil(t, slot)
	assert.Nil(t, cc.Slot)
	assert.True(t, cc.HTTPFallback)

	cfg.Fallback = true
	cfg.Slot.Kind = "memory"
	cc, slot, err = cfg.clientConfig()
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, slot, cc.Slot)

	cfg.Slot.Kind = "etcd"
	_, _, err = cfg.clientConfig()
	assert.Error(t, err)
}

func TestLoadConfig_Example(t *testing.T) {
	clearEnv(t)

	cfg, err := loadConfig(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultAddress, cfg.Address)
	assert.Equal(t, 16, cfg.RelayConfig.SendBuffer)
	assert.Equal(t, "./overlay", cfg.OutputDir)
	assert.True(t, cfg.RelayConfig.Metrics)
}
