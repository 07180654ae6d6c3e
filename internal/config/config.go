// Package config defines the runboard runtime configuration, loaded from a
// YAML file with documented defaults from the top-level config package.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/runboard/config"
	"github.com/xtxerr/runboard/internal/event"
)

// Config represents the complete runboard configuration.
type Config struct {
	// LogDir is the root directory containing one subdirectory per run.
	LogDir string `yaml:"log_dir"`

	// Logs configures decoding of the segment file format.
	Logs LogsConfig `yaml:"logs"`

	// Reservoirs maps kind names to reservoir capacities. 0 = unbounded.
	// Kinds not listed use the built-in defaults.
	Reservoirs map[string]int `yaml:"reservoirs"`

	// Accumulator configures per-run behavior.
	Accumulator AccumulatorConfig `yaml:"accumulator"`

	// Daemon configures the reload driver.
	Daemon DaemonConfig `yaml:"daemon"`

	// Export configures Parquet snapshot export.
	Export ExportConfig `yaml:"export"`
}

// LogsConfig configures decoding of the segment file format.
type LogsConfig struct {
	// MaxFrameSize limits the declared length of a single frame.
	MaxFrameSize int `yaml:"max_frame_size"`
}

// AccumulatorConfig configures per-run behavior.
type AccumulatorConfig struct {
	// DetectRestart enables the step-regression restart heuristic: a record
	// whose step is lower than the last seen step for its series purges the
	// series' stale sample before being admitted.
	DetectRestart *bool `yaml:"detect_restart"`

	// KeepLastKinds lists kind names whose reservoirs always retain the most
	// recently offered item in the last sample slot.
	KeepLastKinds []string `yaml:"keep_last_kinds"`
}

// DaemonConfig configures the reload driver.
type DaemonConfig struct {
	// ReloadInterval is how often ReloadAll is driven.
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// ScanInterval is how often the log directory is re-scanned for runs.
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// ExportConfig configures Parquet snapshot export.
type ExportConfig struct {
	// Enabled turns on periodic snapshot export.
	Enabled bool `yaml:"enabled"`

	// Dir is the directory exported snapshots are written to.
	Dir string `yaml:"dir"`

	// Compression is the Parquet compression codec name
	// (none, snappy, zstd, lz4, gzip).
	Compression string `yaml:"compression"`

	// RowGroupSize is the target number of rows per row group.
	RowGroupSize int `yaml:"row_group_size"`

	// Interval is how often a snapshot is written.
	Interval time.Duration `yaml:"interval"`

	// Retention is how long exported snapshots are kept.
	Retention time.Duration `yaml:"retention"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	detect := true
	return &Config{
		LogDir: "runs",
		Logs: LogsConfig{
			MaxFrameSize: config.DefaultMaxFrameSize,
		},
		Reservoirs: DefaultCapacities(),
		Accumulator: AccumulatorConfig{
			DetectRestart: &detect,
			KeepLastKinds: []string{event.KindScalar.String()},
		},
		Daemon: DaemonConfig{
			ReloadInterval: config.DefaultReloadInterval,
			ScanInterval:   config.DefaultScanInterval,
		},
		Export: ExportConfig{
			Enabled:      false,
			Compression:  "zstd",
			RowGroupSize: config.DefaultExportRowGroupSize,
			Interval:     config.DefaultExportInterval,
			Retention:    config.DefaultExportRetention,
		},
	}
}

// DefaultCapacities returns the built-in per-kind reservoir capacities keyed
// by kind name.
func DefaultCapacities() map[string]int {
	return map[string]int{
		event.KindScalar.String():    config.DefaultScalarCapacity,
		event.KindHistogram.String(): config.DefaultHistogramCapacity,
		event.KindImage.String():     config.DefaultImageCapacity,
		event.KindAudio.String():     config.DefaultAudioCapacity,
		event.KindTensor.String():    config.DefaultTensorCapacity,
		event.KindGraph.String():     config.DefaultGraphCapacity,
		event.KindMeta.String():      config.DefaultMetaCapacity,
	}
}

// Load reads and parses a configuration file, applying defaults for any
// fields left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()

	if c.Logs.MaxFrameSize <= 0 {
		c.Logs.MaxFrameSize = d.Logs.MaxFrameSize
	}
	if c.Reservoirs == nil {
		c.Reservoirs = d.Reservoirs
	} else {
		for kind, capacity := range d.Reservoirs {
			if _, ok := c.Reservoirs[kind]; !ok {
				c.Reservoirs[kind] = capacity
			}
		}
	}
	if c.Accumulator.DetectRestart == nil {
		c.Accumulator.DetectRestart = d.Accumulator.DetectRestart
	}
	if c.Accumulator.KeepLastKinds == nil {
		c.Accumulator.KeepLastKinds = d.Accumulator.KeepLastKinds
	}
	if c.Daemon.ReloadInterval <= 0 {
		c.Daemon.ReloadInterval = d.Daemon.ReloadInterval
	}
	if c.Daemon.ScanInterval <= 0 {
		c.Daemon.ScanInterval = d.Daemon.ScanInterval
	}
	if c.Export.Compression == "" {
		c.Export.Compression = d.Export.Compression
	}
	if c.Export.RowGroupSize <= 0 {
		c.Export.RowGroupSize = d.Export.RowGroupSize
	}
	if c.Export.Interval <= 0 {
		c.Export.Interval = d.Export.Interval
	}
	if c.Export.Retention <= 0 {
		c.Export.Retention = d.Export.Retention
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.LogDir == "" {
		return fmt.Errorf("log_dir is required")
	}
	for kind, capacity := range c.Reservoirs {
		if _, ok := event.ParseKind(kind); !ok {
			return fmt.Errorf("reservoirs: unknown kind %q", kind)
		}
		if capacity < 0 {
			return fmt.Errorf("reservoirs: %s: capacity must be >= 0", kind)
		}
	}
	for _, kind := range c.Accumulator.KeepLastKinds {
		if _, ok := event.ParseKind(kind); !ok {
			return fmt.Errorf("keep_last_kinds: unknown kind %q", kind)
		}
	}
	if c.Export.Enabled && c.Export.Dir == "" {
		return fmt.Errorf("export.dir is required when export is enabled")
	}
	return nil
}

// Capacities converts the configured kind-name capacities into a typed map.
func (c *Config) Capacities() map[event.Kind]int {
	caps := make(map[event.Kind]int, len(c.Reservoirs))
	for name, capacity := range c.Reservoirs {
		if kind, ok := event.ParseKind(name); ok {
			caps[kind] = capacity
		}
	}
	return caps
}

// KeepLast converts the configured keep-last kind names into a typed set.
func (c *Config) KeepLast() map[event.Kind]bool {
	keep := make(map[event.Kind]bool, len(c.Accumulator.KeepLastKinds))
	for _, name := range c.Accumulator.KeepLastKinds {
		if kind, ok := event.ParseKind(name); ok {
			keep[kind] = true
		}
	}
	return keep
}
