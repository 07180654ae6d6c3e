// Package watcher tracks the ordered sequence of segment files in one run
// directory and presents them as a single resumable record stream.
package watcher

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xtxerr/runboard/internal/errors"
	"github.com/xtxerr/runboard/internal/event"
	"github.com/xtxerr/runboard/internal/eventlog"
	"github.com/xtxerr/runboard/internal/logging"
)

// Watcher drains segment files from a run directory in sequence order.
// Its cursor (current segment, byte offset) only moves forward: it advances
// to the next segment only after the current one reads EOF and a newer
// segment exists, so a segment still being appended is never abandoned.
// Segments discovered after the cursor has passed them are skipped with a
// warning, never rewound into.
//
// A Watcher is not safe for concurrent use; the accumulator serializes
// access through its reload state machine.
type Watcher struct {
	dir string

	currentPath string
	currentSeq  int64 // -1 until the first segment is selected
	offset      int64

	// failed is set on corruption or current-segment loss. Once set, every
	// Poll returns it without touching the directory: the cursor must not
	// advance past an unreadable frame.
	failed error

	readerOpts eventlog.ReaderOptions

	// seen tracks segment sequence numbers already observed in a listing,
	// so newly appearing out-of-order segments are warned about once.
	seen map[int64]bool

	log   *slog.Logger
	stats Stats
}

// Stats holds watcher statistics.
type Stats struct {
	PollCount       int64
	RecordsEmitted  int64
	SegmentsOpened  int64
	SegmentsSkipped int64
	IncompleteHits  int64
}

// Options configures a watcher.
type Options struct {
	// MaxFrameSize limits the declared length of a single frame.
	MaxFrameSize int
}

// New creates a watcher for a run directory.
func New(dir string, opts Options) *Watcher {
	return &Watcher{
		dir:        dir,
		currentSeq: -1,
		readerOpts: eventlog.ReaderOptions{MaxFrameSize: opts.MaxFrameSize},
		seen:       make(map[int64]bool),
		log:        logging.Component("watcher").With("dir", dir),
	}
}

// Poll drains every record that has become readable since the previous call,
// invoking emit for each in segment-then-intra-segment order.
//
// Reaching the end of written data (EOF on the newest segment, or an
// incomplete trailing frame) is the normal steady state and returns nil.
// Corruption and loss of the current segment are permanent: the error is
// returned now and on every subsequent call. Errors from emit abort the poll
// and are returned as-is; the cursor stays on the failed record's frame
// boundary, so nothing is lost or duplicated.
func (w *Watcher) Poll(emit func(event.Record) error) error {
	if w.failed != nil {
		return w.failed
	}

	w.stats.PollCount++

	// The directory is listed once per poll.
	segments, err := w.refresh()
	if err != nil {
		return fmt.Errorf("list %s: %w", w.dir, err)
	}

	if w.currentSeq < 0 {
		if len(segments) == 0 {
			return nil
		}
		w.advanceTo(segments[0])
	}

	for {
		if !containsSeq(segments, w.currentSeq) {
			w.failed = fmt.Errorf("%s: %w", w.currentPath, errors.ErrFileVanished)
			return w.failed
		}

		err := w.drainCurrent(emit)
		switch {
		case err == nil:
			// EOF on the current segment. Advance only if a newer segment
			// exists; otherwise the producer may still append to this one.
			next, ok := nextSeq(segments, w.currentSeq)
			if !ok {
				return nil
			}
			w.advanceTo(next)

		case errors.Is(err, errors.ErrIncompleteTail):
			w.stats.IncompleteHits++
			return nil

		case errors.IsCorruption(err):
			w.failed = err
			return w.failed

		default:
			if os.IsNotExist(err) {
				w.failed = fmt.Errorf("%s: %w", w.currentPath, errors.ErrFileVanished)
				return w.failed
			}
			return err
		}
	}
}

// drainCurrent reads the current segment from the saved offset to its end.
// Returns nil on clean EOF. The offset is advanced only over fully validated
// frames.
func (w *Watcher) drainCurrent(emit func(event.Record) error) error {
	r, err := eventlog.NewReader(w.currentPath, w.offset, w.readerOpts)
	if err != nil {
		return err
	}
	defer r.Close()

	w.stats.SegmentsOpened++

	for {
		rec, err := r.Read()
		if err == io.EOF {
			w.offset = r.Offset()
			return nil
		}
		if err != nil {
			w.offset = r.Offset()
			return err
		}

		if err := emit(rec); err != nil {
			// The emitted record was not consumed; re-read it next poll.
			return err
		}
		w.offset = r.Offset()
		w.stats.RecordsEmitted++
	}
}

// refresh re-lists the run directory, returning segment sequence numbers in
// order and warning once about segments that appeared behind the cursor.
func (w *Watcher) refresh() ([]segment, error) {
	paths, err := eventlog.ListSegments(w.dir)
	if err != nil {
		return nil, err
	}

	segments := make([]segment, 0, len(paths))
	for _, path := range paths {
		seq, err := eventlog.ParseSegmentName(filepath.Base(path))
		if err != nil {
			continue
		}

		if !w.seen[seq] {
			w.seen[seq] = true
			if seq < w.currentSeq {
				w.stats.SegmentsSkipped++
				w.log.Warn("segment sorts before cursor, skipping",
					"segment", filepath.Base(path),
					"current", filepath.Base(w.currentPath))
				continue
			}
		} else if seq < w.currentSeq {
			continue
		}

		segments = append(segments, segment{seq: seq, path: path})
	}

	return segments, nil
}

// advanceTo moves the cursor to the start of the given segment.
func (w *Watcher) advanceTo(s segment) {
	w.currentSeq = s.seq
	w.currentPath = s.path
	w.offset = 0
	w.log.Debug("segment selected", "segment", filepath.Base(s.path))
}

// Cursor returns the current segment path and byte offset.
func (w *Watcher) Cursor() (path string, offset int64) {
	return w.currentPath, w.offset
}

// Failed returns the sticky error, if any.
func (w *Watcher) Failed() error {
	return w.failed
}

// Stats returns watcher statistics.
func (w *Watcher) Stats() Stats {
	return w.stats
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

type segment struct {
	seq  int64
	path string
}

func containsSeq(segments []segment, seq int64) bool {
	for _, s := range segments {
		if s.seq == seq {
			return true
		}
	}
	return false
}

// nextSeq returns the smallest segment strictly after seq.
func nextSeq(segments []segment, seq int64) (segment, bool) {
	for _, s := range segments {
		if s.seq > seq {
			return s, true
		}
	}
	return segment{}, false
}
