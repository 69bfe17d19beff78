package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/telemcap/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemcap.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
telemcap:
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
  capture:
    address: "127.0.0.1"
    port: 20778
    out_file: "/tmp/session.jsonl"
    flush_every: 10
    flush_interval: 250ms
    fsync_every_packets: 500
    fsync_every: 0s
  replay:
    in_file: "/tmp/session.jsonl"
    speed: 2.5
    ttl: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.Equal(t, "127.0.0.1", cfg.Capture.Address)
	assert.Equal(t, 20778, cfg.Capture.Port)
	assert.Equal(t, 10, cfg.Capture.FlushEvery)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.FlushInterval)
	assert.Equal(t, 500, cfg.Capture.FsyncEveryPackets)
	assert.Equal(t, time.Duration(0), cfg.Capture.FsyncEvery)

	assert.Equal(t, 2.5, cfg.Replay.Speed)
	assert.Equal(t, 8, cfg.Replay.TTL)
	assert.Equal(t, DefaultReplayAddress, cfg.Replay.Address)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)

	assert.Equal(t, DefaultCaptureAddress, cfg.Capture.Address)
	assert.Equal(t, DefaultPort, cfg.Capture.Port)
	assert.Equal(t, DefaultCaptureFile, cfg.Capture.OutFile)
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.ReadTimeout)
	assert.Equal(t, 100, cfg.Capture.FlushEvery)
	assert.Equal(t, time.Second, cfg.Capture.FlushInterval)
	assert.Equal(t, 64*1024, cfg.Capture.BufferSize)
	assert.Equal(t, 0, cfg.Capture.FsyncEveryPackets)
	assert.Equal(t, 10*time.Second, cfg.Capture.FsyncEvery)

	assert.Equal(t, DefaultReplayAddress, cfg.Replay.Address)
	assert.Equal(t, DefaultPort, cfg.Replay.Port)
	assert.Equal(t, 1.0, cfg.Replay.Speed)

	assert.Equal(t, DefaultImportFile, cfg.Import.OutFile)
	assert.Equal(t, DefaultPort, cfg.Import.Port)
	assert.Equal(t, 30*time.Second, cfg.Import.ReassemblyTimeout)
	assert.Zero(t, cfg.Import.MaxFragsPerSource)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TELEMCAP_CAPTURE_PORT", "30000")
	t.Setenv("TELEMCAP_REPLAY_SPEED", "4")
	t.Setenv("TELEMCAP_CAPTURE_FLUSH_INTERVAL", "2s")

	path := writeConfig(t, `
telemcap:
  capture:
    port: 20778
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30000, cfg.Capture.Port)
	assert.Equal(t, 4.0, cfg.Replay.Speed)
	assert.Equal(t, 2*time.Second, cfg.Capture.FlushInterval)
}

func TestLoadFlagOverride(t *testing.T) {
	path := writeConfig(t, `
telemcap:
  capture:
    port: 20778
    out_file: "from-file.jsonl"
`)

	flags := pflag.NewFlagSet("record", pflag.ContinueOnError)
	flags.Int("port", DefaultPort, "")
	flags.String("out", DefaultCaptureFile, "")
	require.NoError(t, flags.Parse([]string{"--port", "40000"}))

	cfg, err := Load(path,
		FlagBinding{Key: "capture.port", Flag: flags.Lookup("port")},
		FlagBinding{Key: "capture.out_file", Flag: flags.Lookup("out")},
		FlagBinding{Key: "capture.missing", Flag: flags.Lookup("nope")},
	)
	require.NoError(t, err)

	assert.Equal(t, 40000, cfg.Capture.Port, "a set flag wins over the file")
	assert.Equal(t, "from-file.jsonl", cfg.Capture.OutFile, "an unset flag does not override the file")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"log level", "telemcap:\n  log:\n    level: trace\n", "invalid log level"},
		{"log format", "telemcap:\n  log:\n    format: xml\n", "invalid log format"},
		{"capture port", "telemcap:\n  capture:\n    port: 70000\n", "capture.port"},
		{"replay port", "telemcap:\n  replay:\n    port: 0\n", "replay.port"},
		{"zero speed", "telemcap:\n  replay:\n    speed: 0\n", "speed"},
		{"negative speed", "telemcap:\n  replay:\n    speed: -1\n", "speed"},
		{"ttl", "telemcap:\n  replay:\n    ttl: 300\n", "replay.ttl"},
		{"negative flush", "telemcap:\n  capture:\n    flush_every: -1\n", "must not be negative"},
		{"read timeout", "telemcap:\n  capture:\n    read_timeout: 0s\n", "read_timeout"},
		{"import port", "telemcap:\n  import:\n    port: -1\n", "import.port"},
		{"import reassembly", "telemcap:\n  import:\n    max_frags_per_source: -5\n", "must not be negative"},
		{"file without path", "telemcap:\n  log:\n    outputs:\n      file:\n        enabled: true\n        path: \"\"\n", "path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateSpeed(t *testing.T) {
	assert.NoError(t, ValidateSpeed(0.25))
	assert.NoError(t, ValidateSpeed(1))
	for _, bad := range []float64{0, -2, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, ValidateSpeed(bad), core.ErrConfigInvalid)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "telemcap:\n"))
	assert.Contains(t, string(out), "flush_interval: 1s")

	var root map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out, &root))
	assert.Contains(t, root["telemcap"], "capture")

	reloaded, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}
