package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultReplayConfig verifies default replay configuration values.
func TestDefaultReplayConfig(t *testing.T) {
	cfg := DefaultReplayConfig()

	assert.Greater(t, cfg.NumWorkers, 0)
	assert.Equal(t, 1000, cfg.QueueDepth)
	assert.False(t, cfg.Print)
}

// TestDefaultProxyConfig verifies default proxy configuration values.
func TestDefaultProxyConfig(t *testing.T) {
	cfg := DefaultProxyConfig()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

// TestReplayConfig_Validate_RequiresSuffix ensures a missing routing suffix
// is rejected at startup, before any rule becomes active.
func TestReplayConfig_Validate_RequiresSuffix(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.Suffix = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suffix")
}

// TestReplayConfig_Validate_WorkerBounds checks the 1-100 worker range.
func TestReplayConfig_Validate_WorkerBounds(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.Suffix = "tlmc.isp.example"

	cfg.NumWorkers = 0
	assert.Error(t, cfg.Validate())

	cfg.NumWorkers = 101
	assert.Error(t, cfg.Validate())

	cfg.NumWorkers = 8
	assert.NoError(t, cfg.Validate())
}

// TestReplayConfig_Validate_QueueDepth verifies that queue depth must be at
// least 1.
func TestReplayConfig_Validate_QueueDepth(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.Suffix = "tlmc.isp.example"
	cfg.QueueDepth = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue depth")
}

// TestReplayConfig_Validate_MissingInputFile checks that a nonexistent input
// file is a configuration error.
func TestReplayConfig_Validate_MissingInputFile(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.Suffix = "tlmc.isp.example"
	cfg.InputFile = "/nonexistent/replay.csv"
	cfg.UseStdin = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

// TestProxyConfig_Validate_RequiresHosts ensures suffix and fallback host are
// both required.
func TestProxyConfig_Validate_RequiresHosts(t *testing.T) {
	cfg := DefaultProxyConfig()
	cfg.Suffix = ""
	cfg.FallbackHost = "origin.example"
	assert.Error(t, cfg.Validate())

	cfg.Suffix = "tlmc.isp.example"
	cfg.FallbackHost = ""
	assert.Error(t, cfg.Validate())

	cfg.FallbackHost = "origin.example"
	assert.NoError(t, cfg.Validate())
}

// TestNormalizeHostname verifies lowercasing, trailing-dot handling and IDN
// conversion to punycode.
func TestNormalizeHostname(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"TLMC.ISP.Example", "tlmc.isp.example"},
		{"tlmc.isp.example.", "tlmc.isp.example"},
		{" tlmc.isp.example ", "tlmc.isp.example"},
		{"bücher.example", "xn--bcher-kva.example"},
	}

	for _, tc := range cases {
		got, err := normalizeHostname(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := normalizeHostname("")
	assert.Error(t, err)
	_, err = normalizeHostname("   ")
	assert.Error(t, err)
}

// TestProxyConfig_Validate_NormalizesSuffix checks that validation rewrites
// the suffix to its canonical form in place.
func TestProxyConfig_Validate_NormalizesSuffix(t *testing.T) {
	cfg := DefaultProxyConfig()
	cfg.Suffix = "TLMC.ISP.Example."
	cfg.FallbackHost = "Origin.Example"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "tlmc.isp.example", cfg.Suffix)
	assert.Equal(t, "origin.example", cfg.FallbackHost)
}
