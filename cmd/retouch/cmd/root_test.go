package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/retouch/internal/config"
	"github.com/MeKo-Tech/retouch/internal/version"
)

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "retouch", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Same(t, rootCmd, GetRootCommand())
}

func TestRootCommandHelp(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--help"})
	require.NoError(t, rootCmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), version.String())
}

func TestRootCommandSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, expected := range []string{"run", "serve", "classes"} {
		assert.Contains(t, names, expected)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		want    string
	}{
		{"debug", false, "DEBUG"},
		{"info", false, "INFO"},
		{"warn", false, "WARN"},
		{"error", false, "ERROR"},
		{"bogus", false, "INFO"},
		{"error", true, "DEBUG"},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.LogLevel = tt.level
			cfg.Verbose = tt.verbose
			assert.Equal(t, tt.want, logLevel(&cfg).String())
		})
	}
}
