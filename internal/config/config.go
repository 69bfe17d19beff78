// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/telemcap/internal/core"
)

// Defaults shared with CLI flag declarations.
const (
	DefaultCaptureAddress = "0.0.0.0"
	DefaultReplayAddress  = "127.0.0.1"
	DefaultPort           = 20777
	DefaultCaptureFile    = "recordings/packets.jsonl"
	DefaultExportFile     = "recordings/packets.pcap"
	DefaultImportFile     = "recordings/imported.jsonl"
)

// Config represents the top-level configuration.
// Maps to the `telemcap:` root key in YAML.
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Replay  ReplayConfig  `mapstructure:"replay" yaml:"replay"`
	Export  ExportConfig  `mapstructure:"export" yaml:"export"`
	Import  ImportConfig  `mapstructure:"import" yaml:"import"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Capture ───

// CaptureConfig configures the recorder. A zero count or duration disables
// the corresponding durability trigger.
type CaptureConfig struct {
	Address     string        `mapstructure:"address" yaml:"address"`
	Port        int           `mapstructure:"port" yaml:"port"` // 0 = ephemeral
	OutFile     string        `mapstructure:"out_file" yaml:"out_file"`
	ReadBuffer  int           `mapstructure:"read_buffer" yaml:"read_buffer"` // SO_RCVBUF, 0 = OS default
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	FlushEvery        int           `mapstructure:"flush_every" yaml:"flush_every"`
	FlushInterval     time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	BufferSize        int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	FsyncEveryPackets int           `mapstructure:"fsync_every_packets" yaml:"fsync_every_packets"`
	FsyncEvery        time.Duration `mapstructure:"fsync_every" yaml:"fsync_every"`
}

// ─── Replay ───

// ReplayConfig configures the replayer.
type ReplayConfig struct {
	InFile  string  `mapstructure:"in_file" yaml:"in_file"`
	Address string  `mapstructure:"address" yaml:"address"`
	Port    int     `mapstructure:"port" yaml:"port"`
	Speed   float64 `mapstructure:"speed" yaml:"speed"`
	TTL     int     `mapstructure:"ttl" yaml:"ttl"` // 0 = OS default
}

// ─── Export ───

// ExportConfig configures capture log to pcap conversion.
type ExportConfig struct {
	OutFile    string `mapstructure:"out_file" yaml:"out_file"`
	DstAddress string `mapstructure:"dst_address" yaml:"dst_address"`
	DstPort    int    `mapstructure:"dst_port" yaml:"dst_port"`
}

// ─── Import ───

// ImportConfig configures pcap to capture log conversion.
type ImportConfig struct {
	OutFile           string        `mapstructure:"out_file" yaml:"out_file"`
	Port              int           `mapstructure:"port" yaml:"port"` // destination port filter, 0 = any
	ReassemblyTimeout time.Duration `mapstructure:"reassembly_timeout" yaml:"reassembly_timeout"`
	MaxFragsPerSource int           `mapstructure:"max_frags_per_source" yaml:"max_frags_per_source"` // per 10s of capture, 0 = unlimited
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `telemcap: ...`.
type configRoot struct {
	Telemcap Config `mapstructure:"telemcap" yaml:"telemcap"`
}

// FlagBinding ties a command-line flag to a config key below the root,
// e.g. {Key: "capture.port", Flag: flags.Lookup("port")}.
type FlagBinding struct {
	Key  string
	Flag *pflag.Flag
}

// Load loads configuration from file, environment and flags, in increasing
// order of precedence. An empty path skips the file. Env vars use the
// TELEMCAP_ prefix (e.g. TELEMCAP_CAPTURE_PORT). A flag only overrides
// when it was set on the command line.
func Load(path string, flags ...FlagBinding) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `telemcap.` key prefix maps to `TELEMCAP_` via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, b := range flags {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag("telemcap."+b.Key, b.Flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", b.Flag.Name, err)
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Telemcap

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "telemcap." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("telemcap.log.level", "info")
	v.SetDefault("telemcap.log.format", "text")
	v.SetDefault("telemcap.log.outputs.file.enabled", false)
	v.SetDefault("telemcap.log.outputs.file.path", "logs/telemcap.log")
	v.SetDefault("telemcap.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("telemcap.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("telemcap.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("telemcap.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("telemcap.metrics.enabled", false)
	v.SetDefault("telemcap.metrics.listen", ":9091")
	v.SetDefault("telemcap.metrics.path", "/metrics")

	// Capture defaults
	v.SetDefault("telemcap.capture.address", DefaultCaptureAddress)
	v.SetDefault("telemcap.capture.port", DefaultPort)
	v.SetDefault("telemcap.capture.out_file", DefaultCaptureFile)
	v.SetDefault("telemcap.capture.read_buffer", 256*1024)
	v.SetDefault("telemcap.capture.read_timeout", "100ms")
	v.SetDefault("telemcap.capture.flush_every", 100)
	v.SetDefault("telemcap.capture.flush_interval", "1s")
	v.SetDefault("telemcap.capture.buffer_size", 64*1024)
	v.SetDefault("telemcap.capture.fsync_every_packets", 0)
	v.SetDefault("telemcap.capture.fsync_every", "10s")

	// Replay defaults
	v.SetDefault("telemcap.replay.in_file", DefaultCaptureFile)
	v.SetDefault("telemcap.replay.address", DefaultReplayAddress)
	v.SetDefault("telemcap.replay.port", DefaultPort)
	v.SetDefault("telemcap.replay.speed", 1.0)
	v.SetDefault("telemcap.replay.ttl", 0)

	// Export defaults
	v.SetDefault("telemcap.export.out_file", DefaultExportFile)
	v.SetDefault("telemcap.export.dst_address", DefaultReplayAddress)
	v.SetDefault("telemcap.export.dst_port", DefaultPort)

	// Import defaults
	v.SetDefault("telemcap.import.out_file", DefaultImportFile)
	v.SetDefault("telemcap.import.port", DefaultPort)
	v.SetDefault("telemcap.import.reassembly_timeout", "30s")
	v.SetDefault("telemcap.import.max_frags_per_source", 0)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Capture ──
	c := &cfg.Capture
	if c.Port < 0 || c.Port > 65535 {
		return invalid("capture.port out of range: %d", c.Port)
	}
	if c.OutFile == "" {
		return invalid("capture.out_file is required")
	}
	if c.ReadTimeout <= 0 {
		return invalid("capture.read_timeout must be positive, got %s", c.ReadTimeout)
	}
	if c.ReadBuffer < 0 || c.BufferSize < 0 {
		return invalid("capture.read_buffer and capture.buffer_size must not be negative")
	}
	if c.FlushEvery < 0 || c.FlushInterval < 0 || c.FsyncEveryPackets < 0 || c.FsyncEvery < 0 {
		return invalid("capture flush and fsync parameters must not be negative")
	}

	// ── Replay ──
	r := &cfg.Replay
	if r.Port < 1 || r.Port > 65535 {
		return invalid("replay.port out of range: %d", r.Port)
	}
	if err := ValidateSpeed(r.Speed); err != nil {
		return err
	}
	if r.TTL < 0 || r.TTL > 255 {
		return invalid("replay.ttl out of range: %d", r.TTL)
	}

	// ── Export ──
	if cfg.Export.DstPort < 1 || cfg.Export.DstPort > 65535 {
		return invalid("export.dst_port out of range: %d", cfg.Export.DstPort)
	}

	// ── Import ──
	im := &cfg.Import
	if im.Port < 0 || im.Port > 65535 {
		return invalid("import.port out of range: %d", im.Port)
	}
	if im.OutFile == "" {
		return invalid("import.out_file is required")
	}
	if im.ReassemblyTimeout < 0 || im.MaxFragsPerSource < 0 {
		return invalid("import reassembly parameters must not be negative")
	}

	return nil
}

// ValidateSpeed rejects replay speed factors that are not finite and
// positive.
func ValidateSpeed(speed float64) error {
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return invalid("replay speed must be a positive finite number, got %v", speed)
	}
	return nil
}

// Dump renders the configuration as YAML under the `telemcap:` root.
func (cfg *Config) Dump() ([]byte, error) {
	return yaml.Marshal(configRoot{Telemcap: *cfg})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
