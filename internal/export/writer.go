// Package export writes point-in-time Parquet snapshots of the sampled
// series and serves SQL queries over them. This is the offline analysis
// path; the in-memory reservoirs remain the source of truth for live
// queries.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/runboard/internal/distribution"
	"github.com/xtxerr/runboard/internal/event"
	"github.com/xtxerr/runboard/internal/multiplexer"
)

// Options configures the Parquet snapshot writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default snapshot options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// SeriesRow represents one sampled record in Parquet format. Value is the
// decoded scalar value where the payload is decodable, NaN-free zero
// otherwise; Payload always carries the raw bytes.
type SeriesRow struct {
	Run      string  `parquet:"run,zstd"`
	Kind     string  `parquet:"kind,zstd"`
	Tag      string  `parquet:"tag,zstd"`
	WallTime float64 `parquet:"wall_time"`
	Step     int64   `parquet:"step"`
	Value    float64 `parquet:"value"`
	HasValue bool    `parquet:"has_value"`
	Payload  []byte  `parquet:"payload,zstd"`
}

// RecordToRow converts a sampled record to a SeriesRow.
func RecordToRow(run string, rec event.Record) SeriesRow {
	row := SeriesRow{
		Run:      run,
		Kind:     rec.Kind.String(),
		Tag:      rec.Tag,
		WallTime: rec.WallTime,
		Step:     rec.Step,
		Payload:  rec.Payload,
	}
	if v, ok := distribution.ScalarValue(rec.Payload); ok && rec.Kind == event.KindScalar {
		row.Value = v
		row.HasValue = true
	}
	return row
}

// SnapshotWriter writes series rows to one Parquet file.
type SnapshotWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[SeriesRow]
	rowCount int64
	closed   bool
}

// NewSnapshotWriter creates a Parquet writer at path.
func NewSnapshotWriter(path string, opts Options) (*SnapshotWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = DefaultOptions().RowGroupSize
	}

	writer := parquet.NewGenericWriter[SeriesRow](f,
		parquet.Compression(getCompression(opts.Compression)),
		parquet.MaxRowsPerRowGroup(int64(opts.RowGroupSize)),
	)

	return &SnapshotWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends rows to the file.
func (w *SnapshotWriter) Write(rows []SeriesRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer closed")
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// RowCount returns the number of rows written so far.
func (w *SnapshotWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Close finalizes and closes the file.
func (w *SnapshotWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return w.file.Close()
}

// SnapshotName formats a snapshot file name for the given time.
func SnapshotName(t time.Time) string {
	return fmt.Sprintf("snapshot-%d.parquet", t.UnixMilli())
}

// Snapshot writes the current sampled state of every registered run to a
// new Parquet file in dir and returns its path. Each series snapshot is
// internally consistent; the file as a whole is not a cross-run transaction.
func Snapshot(m *multiplexer.Multiplexer, dir string, opts Options) (string, error) {
	path := filepath.Join(dir, SnapshotName(time.Now()))

	w, err := NewSnapshotWriter(path, opts)
	if err != nil {
		return "", err
	}

	for _, run := range m.Runs() {
		for _, kind := range event.Kinds() {
			tags, err := m.Tags(run, kind)
			if err != nil {
				continue // run removed or closed concurrently
			}
			for _, tag := range tags {
				records, err := m.Series(run, kind, tag)
				if err != nil {
					continue
				}
				rows := make([]SeriesRow, len(records))
				for i, rec := range records {
					rows[i] = RecordToRow(run, rec)
				}
				if err := w.Write(rows); err != nil {
					w.Close()
					os.Remove(path)
					return "", err
				}
			}
		}
	}

	if err := w.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// ReadSnapshot reads every row of a snapshot file. Intended for tests and
// small snapshots; large files should go through the SQL service.
func ReadSnapshot(path string) ([]SeriesRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[SeriesRow](f)
	defer reader.Close()

	rows := make([]SeriesRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}
