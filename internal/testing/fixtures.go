package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/runboard/internal/distribution"
	"github.com/xtxerr/runboard/internal/event"
	"github.com/xtxerr/runboard/internal/eventlog"
)

// ScalarRecord builds a scalar record with the conventional float64 payload.
func ScalarRecord(tag string, step int64, wallTime, value float64) event.Record {
	return event.Record{
		WallTime: wallTime,
		Step:     step,
		Kind:     event.KindScalar,
		Tag:      tag,
		Payload:  distribution.EncodeScalar(value),
	}
}

// Record builds a record of an arbitrary kind with an opaque payload.
func Record(kind event.Kind, tag string, step int64, payload []byte) event.Record {
	return event.Record{
		WallTime: float64(step),
		Step:     step,
		Kind:     kind,
		Tag:      tag,
		Payload:  payload,
	}
}

// WriteSegment writes one complete segment file containing the given records
// into dir and returns its path. Fails the test on error.
func WriteSegment(t *testing.T, dir string, records ...event.Record) string {
	t.Helper()

	w, err := eventlog.NewWriter(dir, eventlog.DefaultWriterOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, rec := range records {
		if err := w.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	path := w.CurrentSegment()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

// AppendBytes appends raw bytes to an existing file, simulating a producer
// mid-write.
func AppendBytes(t *testing.T, path string, data []byte) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		t.Fatalf("append to %s: %v", path, err)
	}
}

// Truncate cuts a file to the given size, simulating an incomplete trailing
// frame.
func Truncate(t *testing.T, path string, size int64) {
	t.Helper()

	if err := os.Truncate(path, size); err != nil {
		t.Fatalf("truncate %s: %v", path, err)
	}
}

// FileSize returns the size of a file. Fails the test on error.
func FileSize(t *testing.T, path string) int64 {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

// RunDir creates a subdirectory of the test's temp dir for one run.
func RunDir(t *testing.T, name string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	return dir
}
