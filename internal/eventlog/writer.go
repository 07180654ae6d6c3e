package eventlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xtxerr/runboard/config"
	"github.com/xtxerr/runboard/internal/event"
)

// Writer appends records to a run directory as a sequence of segment files.
// Each segment contains a header followed by length-prefixed, CRC-checksummed
// frames, one record per frame.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Frames: [4 bytes length][4 bytes crc32][payload]
//
// Segment names are zero-padded sequence numbers so lexicographic order
// equals creation order, which is what the directory watcher relies on.
type Writer struct {
	mu sync.Mutex

	dir            string
	currentSegment *os.File
	currentPath    string
	currentSize    int64
	segmentSeq     int64

	writer *bufio.Writer

	opts WriterOptions

	// Statistics
	stats WriterStats
}

// WriterOptions configures the segment writer.
type WriterOptions struct {
	// MaxSegmentSize is the maximum size of a segment file before rotation.
	// Default: 100MB
	MaxSegmentSize int64

	// Fsync, when true, fsyncs after each appended record.
	Fsync bool

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// DefaultWriterOptions returns default writer options.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		MaxSegmentSize: config.DefaultSegmentMaxSize,
		BufferSize:     config.DefaultWriteBufferSize,
	}
}

// WriterStats holds segment writer statistics.
type WriterStats struct {
	SegmentsCreated int64
	RecordsWritten  int64
	BytesWritten    int64
}

const (
	segmentMagic    = 0x52554E424C4F4701 // "RUNBLOG" + version 1
	segmentVersion  = 1
	headerSize      = 12 // 8 bytes magic + 4 bytes version
	frameHeaderSize = 8  // 4 bytes length + 4 bytes crc

	segmentSuffix = config.SegmentSuffix

	defaultMaxFrameSize = config.DefaultMaxFrameSize
)

// NewWriter creates a segment writer for a run directory. If segments
// already exist, numbering continues after the highest one.
func NewWriter(dir string, opts WriterOptions) (*Writer, error) {
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = DefaultWriterOptions().MaxSegmentSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultWriterOptions().BufferSize
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	w := &Writer{
		dir:  dir,
		opts: opts,
	}

	segments, err := ListSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		seq, err := ParseSegmentName(filepath.Base(last))
		if err == nil {
			w.segmentSeq = seq + 1
		}
	}

	if err := w.rotateUnlocked(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}

	return w, nil
}

// Append writes one record to the current segment, rotating first if the
// segment is full.
func (w *Writer) Append(rec event.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	frameSize := int64(frameHeaderSize + len(payload))
	if w.currentSize+frameSize > w.opts.MaxSegmentSize {
		if err := w.rotateUnlocked(); err != nil {
			return fmt.Errorf("rotate segment: %w", err)
		}
	}

	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.writer.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.writer.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	w.currentSize += frameSize
	w.stats.RecordsWritten++
	w.stats.BytesWritten += frameSize

	if w.opts.Fsync {
		return w.syncUnlocked()
	}
	return nil
}

// Sync flushes buffered data to the file.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncUnlocked()
}

func (w *Writer) syncUnlocked() error {
	if w.writer == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if w.opts.Fsync {
		return w.currentSegment.Sync()
	}
	return nil
}

// Rotate closes the current segment and starts a new one.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateUnlocked()
}

func (w *Writer) rotateUnlocked() error {
	if w.currentSegment != nil {
		if w.writer != nil {
			w.writer.Flush()
		}
		w.currentSegment.Close()
	}

	segmentPath := filepath.Join(w.dir, SegmentName(w.segmentSeq))

	f, err := os.OpenFile(segmentPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", segmentPath, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], segmentMagic)
	binary.LittleEndian.PutUint32(header[8:12], segmentVersion)

	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(segmentPath)
		return fmt.Errorf("write header: %w", err)
	}

	w.currentSegment = f
	w.currentPath = segmentPath
	w.currentSize = headerSize
	w.writer = bufio.NewWriterSize(f, w.opts.BufferSize)
	w.segmentSeq++
	w.stats.SegmentsCreated++

	return nil
}

// Close flushes and closes the writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		w.writer.Flush()
	}
	if w.currentSegment != nil {
		return w.currentSegment.Close()
	}
	return nil
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// CurrentSegment returns the current segment path.
func (w *Writer) CurrentSegment() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentPath
}

// SegmentName formats a segment sequence number as a file name.
func SegmentName(seq int64) string {
	return fmt.Sprintf("%016d%s", seq, segmentSuffix)
}

// ParseSegmentName extracts the sequence number from a segment file name.
func ParseSegmentName(name string) (int64, error) {
	if len(name) != 16+len(segmentSuffix) || name[16:] != segmentSuffix {
		return 0, fmt.Errorf("not a segment name: %q", name)
	}
	var seq int64
	if _, err := fmt.Sscanf(name, "%016d", &seq); err != nil {
		return 0, fmt.Errorf("not a segment name: %q", name)
	}
	return seq, nil
}

// IsSegmentName reports whether name looks like a segment file name.
func IsSegmentName(name string) bool {
	_, err := ParseSegmentName(name)
	return err == nil
}

// ListSegments returns the paths of all segment files in dir, in sequence
// order.
func ListSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsSegmentName(entry.Name()) {
			names = append(names, entry.Name())
		}
	}

	// Zero-padded sequence numbers sort lexicographically.
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}
