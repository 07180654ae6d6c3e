package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/runboard/internal/errors"
	"github.com/xtxerr/runboard/internal/event"
	"github.com/xtxerr/runboard/internal/eventlog"
	rbtest "github.com/xtxerr/runboard/internal/testing"
)

func collect(t *testing.T, w *Watcher) []event.Record {
	t.Helper()

	var records []event.Record
	if err := w.Poll(func(rec event.Record) error {
		records = append(records, rec)
		return nil
	}); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	return records
}

func TestWatcher_EmptyDirectory(t *testing.T) {
	w := New(t.TempDir(), Options{})

	if records := collect(t, w); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if err := w.Failed(); err != nil {
		t.Fatalf("empty directory must not fail the watcher: %v", err)
	}
}

func TestWatcher_SegmentOrder(t *testing.T) {
	dir := t.TempDir()

	rbtest.WriteSegment(t, dir,
		rbtest.ScalarRecord("loss", 0, 1.0, 0.9),
		rbtest.ScalarRecord("loss", 1, 2.0, 0.8),
	)
	rbtest.WriteSegment(t, dir,
		rbtest.ScalarRecord("loss", 2, 3.0, 0.7),
		rbtest.ScalarRecord("loss", 3, 4.0, 0.6),
	)

	w := New(dir, Options{})
	records := collect(t, w)

	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Step != int64(i) {
			t.Errorf("record %d: expected step %d, got %d", i, i, rec.Step)
		}
	}
}

func TestWatcher_SecondPollIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	rbtest.WriteSegment(t, dir, rbtest.ScalarRecord("loss", 0, 1.0, 0.9))

	w := New(dir, Options{})
	if records := collect(t, w); len(records) != 1 {
		t.Fatalf("first poll: expected 1 record, got %d", len(records))
	}
	if records := collect(t, w); len(records) != 0 {
		t.Fatalf("second poll re-emitted %d records", len(records))
	}
}

func TestWatcher_PicksUpAppendedRecords(t *testing.T) {
	dir := t.TempDir()
	path := rbtest.WriteSegment(t, dir, rbtest.ScalarRecord("loss", 0, 1.0, 0.9))

	w := New(dir, Options{})
	if records := collect(t, w); len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	// The producer appends directly to the existing segment.
	appendRecords(t, path, rbtest.ScalarRecord("loss", 1, 2.0, 0.8))

	records := collect(t, w)
	if len(records) != 1 || records[0].Step != 1 {
		t.Fatalf("expected exactly the appended record, got %v", records)
	}
}

func TestWatcher_NoPrematureAdvance(t *testing.T) {
	dir := t.TempDir()
	path := rbtest.WriteSegment(t, dir, rbtest.ScalarRecord("loss", 0, 1.0, 0.9))

	w := New(dir, Options{})
	collect(t, w)

	// EOF on the only segment must leave the cursor on it so later appends
	// are still observed.
	cur, _ := w.Cursor()
	if cur != path {
		t.Fatalf("cursor moved off the newest segment: %s", cur)
	}

	appendRecords(t, path, rbtest.ScalarRecord("loss", 1, 2.0, 0.8))
	rbtest.WriteSegment(t, dir, rbtest.ScalarRecord("loss", 2, 3.0, 0.7))

	records := collect(t, w)
	if len(records) != 2 {
		t.Fatalf("expected 2 records (tail of old segment, then new segment), got %d", len(records))
	}
	if records[0].Step != 1 || records[1].Step != 2 {
		t.Fatalf("records out of order: steps %d, %d", records[0].Step, records[1].Step)
	}
}

func TestWatcher_IncompleteTailIsSteadyState(t *testing.T) {
	dir := t.TempDir()
	path := rbtest.WriteSegment(t, dir, rbtest.ScalarRecord("loss", 0, 1.0, 0.9))

	// A torn frame at the tail: length prefix promising more than exists.
	rbtest.AppendBytes(t, path, []byte{0xff, 0x00, 0x00, 0x00, 0x01, 0x02})

	w := New(dir, Options{})
	records := collect(t, w)
	if len(records) != 1 {
		t.Fatalf("expected the complete record before the torn tail, got %d", len(records))
	}
	if err := w.Failed(); err != nil {
		t.Fatalf("incomplete tail must not fail the watcher: %v", err)
	}

	// Re-polling with the tail still torn stays clean.
	if records := collect(t, w); len(records) != 0 {
		t.Fatalf("re-poll emitted %d records past a torn tail", len(records))
	}
}

func TestWatcher_CorruptionIsSticky(t *testing.T) {
	dir := t.TempDir()
	path := rbtest.WriteSegment(t, dir,
		rbtest.ScalarRecord("loss", 0, 1.0, 0.9),
		rbtest.ScalarRecord("loss", 1, 2.0, 0.8),
	)

	// Flip a byte in the last frame's payload.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	w := New(dir, Options{})

	var emitted int
	err = w.Poll(func(event.Record) error {
		emitted++
		return nil
	})
	if !errors.IsCorruption(err) {
		t.Fatalf("expected corruption error, got %v", err)
	}
	if emitted != 1 {
		t.Errorf("expected the valid record before the corruption, got %d", emitted)
	}

	// Subsequent polls return the same error without reading anything.
	err2 := w.Poll(func(event.Record) error {
		t.Fatal("poll after corruption must not emit")
		return nil
	})
	if !errors.IsCorruption(err2) {
		t.Fatalf("expected sticky corruption error, got %v", err2)
	}
}

func TestWatcher_CurrentSegmentVanished(t *testing.T) {
	dir := t.TempDir()
	path := rbtest.WriteSegment(t, dir, rbtest.ScalarRecord("loss", 0, 1.0, 0.9))

	w := New(dir, Options{})
	collect(t, w)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove segment: %v", err)
	}

	err := w.Poll(func(event.Record) error { return nil })
	if !errors.Is(err, errors.ErrFileVanished) {
		t.Fatalf("expected ErrFileVanished, got %v", err)
	}

	// Sticky: even a fresh segment does not resurrect the watcher.
	rbtest.WriteSegment(t, dir, rbtest.ScalarRecord("loss", 1, 2.0, 0.8))
	if err := w.Poll(func(event.Record) error { return nil }); !errors.Is(err, errors.ErrFileVanished) {
		t.Fatalf("expected sticky ErrFileVanished, got %v", err)
	}
}

func TestWatcher_OutOfOrderSegmentSkipped(t *testing.T) {
	dir := t.TempDir()

	// Start at sequence 5 so there is room before the cursor.
	writeNumberedSegment(t, dir, 5, rbtest.ScalarRecord("loss", 0, 1.0, 0.9))

	w := New(dir, Options{})
	if records := collect(t, w); len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	// A segment materializing behind the cursor must never be read.
	writeNumberedSegment(t, dir, 2, rbtest.ScalarRecord("stale", 99, 0.5, 0.1))

	if records := collect(t, w); len(records) != 0 {
		t.Fatalf("out-of-order segment was read: %d records", len(records))
	}
	if w.Stats().SegmentsSkipped != 1 {
		t.Errorf("expected 1 skipped segment, got %d", w.Stats().SegmentsSkipped)
	}

	// Segments after the cursor still flow.
	writeNumberedSegment(t, dir, 7, rbtest.ScalarRecord("loss", 1, 2.0, 0.8))
	records := collect(t, w)
	if len(records) != 1 || records[0].Step != 1 {
		t.Fatalf("expected the step-1 record from the newer segment, got %v", records)
	}
}

func TestWatcher_EmitErrorResumesAtFailedRecord(t *testing.T) {
	dir := t.TempDir()
	rbtest.WriteSegment(t, dir,
		rbtest.ScalarRecord("loss", 0, 1.0, 0.9),
		rbtest.ScalarRecord("loss", 1, 2.0, 0.8),
		rbtest.ScalarRecord("loss", 2, 3.0, 0.7),
	)

	w := New(dir, Options{})

	sentinel := fmt.Errorf("consumer full")
	var first []int64
	err := w.Poll(func(rec event.Record) error {
		if rec.Step == 1 {
			return sentinel
		}
		first = append(first, rec.Step)
		return nil
	})
	if err != sentinel {
		t.Fatalf("expected emit error to propagate, got %v", err)
	}
	if len(first) != 1 || first[0] != 0 {
		t.Fatalf("expected only step 0 consumed, got %v", first)
	}
	if w.Failed() != nil {
		t.Fatalf("emit error must not be sticky: %v", w.Failed())
	}

	// The rejected record is re-emitted on the next poll.
	var second []int64
	if err := w.Poll(func(rec event.Record) error {
		second = append(second, rec.Step)
		return nil
	}); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(second) != 2 || second[0] != 1 || second[1] != 2 {
		t.Fatalf("expected steps [1 2] on retry, got %v", second)
	}
}

// appendRecords appends complete frames to an existing segment file.
func appendRecords(t *testing.T, path string, records ...event.Record) {
	t.Helper()

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	// Write the records through a scratch writer, then splice its frames in,
	// skipping the scratch segment's header. The target already has one.
	scratch := rbtest.WriteSegment(t, t.TempDir(), records...)
	data, err := os.ReadFile(scratch)
	if err != nil {
		t.Fatalf("read %s: %v", scratch, err)
	}

	if err := os.WriteFile(path, append(before, data[12:]...), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeNumberedSegment writes a complete segment with an explicit sequence
// number, bypassing the writer's own numbering.
func writeNumberedSegment(t *testing.T, dir string, seq int64, records ...event.Record) {
	t.Helper()

	scratch := t.TempDir()
	src := rbtest.WriteSegment(t, scratch, records...)
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read %s: %v", src, err)
	}

	dst := filepath.Join(dir, eventlog.SegmentName(seq))
	if err := os.WriteFile(dst, data, 0644); err != nil {
		t.Fatalf("write %s: %v", dst, err)
	}
}
