package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("control:\n  token: secret\n"))
	require.NoError(t, err)

	assert.Equal(t, "jamtab", cfg.Device.Name)
	assert.Equal(t, ":7700", cfg.Transport.ListenAddr)
	assert.Equal(t, "/peer", cfg.Transport.Path)
	assert.Equal(t, 64, cfg.Transport.SendBuffer)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout())
	assert.Equal(t, "direct", cfg.Discovery.Kind)
	assert.Equal(t, "jamtab:code:", cfg.Discovery.Valkey.Prefix)
	assert.Equal(t, 12*time.Hour, cfg.ValkeyTTL())
	assert.Equal(t, "jamtab.db", cfg.Storage.Path)
	assert.Equal(t, 10.0, cfg.Sync.ScrollRatePerSec)
	assert.Equal(t, 5, cfg.Sync.ScrollBurst)
	assert.True(t, cfg.SaveHistoryOnLeave())
	assert.Equal(t, "127.0.0.1:7701", cfg.Control.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParse_ExplicitValues(t *testing.T) {
	yml := `
device:
  name: Stage Left
transport:
  listen_addr: ":9000"
  advertise_addr: "10.0.0.5:9000"
  connect_timeout_ms: 0
discovery:
  kind: valkey
  valkey:
    addrs: ["127.0.0.1:6379"]
sync:
  save_history_on_leave: false
control:
  token: secret
filters:
  self_echo_filter:
    enabled: false
`
	cfg, err := Parse([]byte(yml))
	require.NoError(t, err)

	assert.Equal(t, "Stage Left", cfg.Device.Name)
	assert.Equal(t, "10.0.0.5:9000", cfg.Transport.AdvertiseAddr)
	assert.Zero(t, cfg.ConnectTimeout())
	assert.Equal(t, "valkey", cfg.Discovery.Kind)
	assert.False(t, cfg.SaveHistoryOnLeave())
	assert.False(t, cfg.IsFilterEnabled("self_echo_filter"))
	assert.True(t, cfg.IsFilterEnabled("unknown_type_filter"))
	assert.Equal(t,
		[]string{"session_scope_filter", "unknown_type_filter"},
		cfg.EnabledFilters([]string{"unknown_type_filter", "self_echo_filter", "session_scope_filter"}))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		yml     string
		wantErr string
	}{
		{name: "missing token", yml: "device:\n  name: x\n", wantErr: "Token"},
		{name: "bad discovery kind", yml: "control:\n  token: s\ndiscovery:\n  kind: mdns\n", wantErr: "Kind"},
		{name: "valkey without addrs", yml: "control:\n  token: s\ndiscovery:\n  kind: valkey\n", wantErr: "addrs"},
		{name: "advertise with scheme", yml: "control:\n  token: s\ntransport:\n  advertise_addr: ws://a:1\n", wantErr: "advertise_addr"},
		{name: "bad path", yml: "control:\n  token: s\ntransport:\n  path: peer\n", wantErr: "Path"},
		{name: "bad log level", yml: "control:\n  token: s\nlog:\n  level: loud\n", wantErr: "Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("control:\n  token: from-file\n"), 0o600))

	t.Setenv("JAM_CONTROL_TOKEN", "from-env")
	t.Setenv("JAM_DEVICE_NAME", "Envy")
	t.Setenv("JAM_VALKEY_PASSWORD", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Control.Token)
	assert.Equal(t, "Envy", cfg.Device.Name)
	assert.Equal(t, "hunter2", cfg.Discovery.Valkey.Password)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
