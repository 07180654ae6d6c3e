// Package config provides configuration defaults and utilities
// for the runboard application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Log Format Defaults
// =============================================================================

const (
	// DefaultMaxFrameSize limits the declared length of a single log frame
	// to prevent OOM on a corrupted length prefix.
	// Override via config: logs.max_frame_size
	DefaultMaxFrameSize = 16 * 1024 * 1024

	// DefaultSegmentMaxSize is the size at which the segment writer rotates
	// to a new file.
	// Override via config: logs.segment_max_size
	DefaultSegmentMaxSize = 100 * 1024 * 1024

	// DefaultWriteBufferSize is the segment writer's buffer size.
	// Override via config: logs.write_buffer_size
	DefaultWriteBufferSize = 64 * 1024

	// SegmentSuffix is the file extension of log segments. Segment names are
	// zero-padded sequence numbers so lexicographic order equals creation
	// order.
	SegmentSuffix = ".rlog"
)

// =============================================================================
// Reservoir Defaults
// =============================================================================

// Per-kind reservoir capacities. A capacity of 0 keeps every item, used for
// kinds that are inherently one-off and small.
// Override via config: reservoirs.<kind>
const (
	DefaultScalarCapacity    = 10000
	DefaultHistogramCapacity = 500
	DefaultImageCapacity     = 10
	DefaultAudioCapacity     = 10
	DefaultTensorCapacity    = 500
	DefaultGraphCapacity     = 0
	DefaultMetaCapacity      = 0
)

// =============================================================================
// Daemon Defaults
// =============================================================================

const (
	// DefaultReloadInterval is how often the daemon drives ReloadAll.
	// The core never reloads on its own; the daemon owns the timer.
	// Override via config: daemon.reload_interval
	DefaultReloadInterval = 30 * time.Second

	// DefaultScanInterval is how often the daemon re-scans the log directory
	// for new run subdirectories.
	// Override via config: daemon.scan_interval
	DefaultScanInterval = 60 * time.Second
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultExportRowGroupSize is the target number of rows per Parquet row
	// group in snapshot exports.
	// Override via config: export.row_group_size
	DefaultExportRowGroupSize = 100000

	// DefaultExportInterval is how often the daemon writes a snapshot when
	// export is enabled.
	// Override via config: export.interval
	DefaultExportInterval = 10 * time.Minute

	// DefaultExportRetention is how long exported snapshot files are kept
	// before the pruner removes them.
	// Override via config: export.retention
	DefaultExportRetention = 7 * 24 * time.Hour
)
