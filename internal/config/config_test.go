package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, "gdb", cfg.Debugger)
	assert.Equal(t, []string{"booth_udp_send", "booth_udp_broadcast", "process_recv"}, cfg.Breakpoints)
	assert.Equal(t, "local->site_id", cfg.SelfTest)
	assert.Equal(t, 2*time.Second, cfg.StartupTimeout)
	assert.Equal(t, VariantAuto, cfg.Variant)
	assert.True(t, strings.HasPrefix(cfg.Prompt, "GDBPROBE-PROMPT-"))
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "_defaults.txt", cfg.DefaultsFile)
}

func TestLoad_OverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.yaml")
	content := `
bind_address: 127.0.0.2
startup_timeout: 5s
breakpoints: [booth_udp_send, process_recv]
variant: message
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.2", cfg.BindAddress)
	assert.Equal(t, 5*time.Second, cfg.StartupTimeout)
	assert.Equal(t, []string{"booth_udp_send", "process_recv"}, cfg.Breakpoints)
	assert.Equal(t, VariantMessage, cfg.Variant)
	assert.Equal(t, 30*time.Second, cfg.AttachTimeout)
	assert.Equal(t, "gdb", cfg.Debugger)
}

func TestLoad_CommentOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.yaml")
	require.NoError(t, os.WriteFile(path, []byte("# nothing to change\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bind_adress: 127.0.0.1\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
	assert.Contains(t, err.Error(), "bind_adress")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown variant", func(c *Config) { c.Variant = "both" }},
		{"zero timeout", func(c *Config) { c.CommandTimeout = 0 }},
		{"negative timeout", func(c *Config) { c.StartupTimeout = -time.Second }},
		{"prompt with space", func(c *Config) { c.Prompt = "my prompt" }},
		{"prompt with quote", func(c *Config) { c.Prompt = "it's" }},
		{"breakpoint not an identifier", func(c *Config) { c.Breakpoints = []string{"foo bar"} }},
		{"empty debugger", func(c *Config) { c.Debugger = "" }},
		{"defaults file with directory", func(c *Config) { c.DefaultsFile = "x/_defaults.txt" }},
		{"bind address with space", func(c *Config) { c.BindAddress = "127.0.0.1 " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestValidate_AcceptsIPv6AndEmptyBreakpoints(t *testing.T) {
	cfg := Default()
	cfg.BindAddress = "::1"
	cfg.Breakpoints = []string{}
	assert.NoError(t, cfg.Validate())
}

func TestResolve(t *testing.T) {
	cfg := Default()
	cfg.LogDir = "/var/tmp/unit-tests"
	cfg.Resolve("/srv/scenarios")

	assert.Equal(t, "/srv/scenarios/booth.conf", cfg.DaemonConfig)
	assert.Equal(t, "/var/tmp/unit-tests/gdbprobe.lock", cfg.LockFile)
	assert.Equal(t, "/var/tmp/unit-tests/gdbprobe.db", cfg.ResultsDB)

	cfg.LockFile = "/run/custom.lock"
	cfg.Resolve("/elsewhere")
	assert.Equal(t, "/run/custom.lock", cfg.LockFile)
	assert.Equal(t, "/srv/scenarios/booth.conf", cfg.DaemonConfig)
}
