package eventlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/runboard/internal/errors"
	"github.com/xtxerr/runboard/internal/event"
)

// Reader decodes records from one segment file. It is restartable: Offset
// reports the position after the last fully validated frame, and a new Reader
// opened at that offset resumes exactly where the previous one stopped.
//
// Read never advances past a frame it cannot fully validate. A frame whose
// declared length extends beyond the current end of file yields
// errors.ErrIncompleteTail and leaves the offset untouched so the caller can
// retry once the producer has appended more bytes.
type Reader struct {
	path   string
	file   *os.File
	offset int64

	maxFrameSize int

	// Statistics
	stats ReaderStats
}

// ReaderStats holds segment reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	BytesRead      int64
	IncompleteHits int64
}

// ReaderOptions configures a segment reader.
type ReaderOptions struct {
	// MaxFrameSize limits the declared length of a single frame.
	// Default: 16MB
	MaxFrameSize int
}

// NewReader opens a segment file for reading, resuming at offset.
// An offset of 0 starts at the beginning and validates the file header; the
// header itself may still be partially written, which is reported as
// errors.ErrIncompleteTail on the first Read.
func NewReader(path string, offset int64, opts ReaderOptions) (*Reader, error) {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaultMaxFrameSize
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	r := &Reader{
		path:         path,
		file:         f,
		offset:       offset,
		maxFrameSize: opts.MaxFrameSize,
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek to %d: %w", offset, err)
		}
	}

	return r, nil
}

// Read returns the next record from the segment.
//
// Returns io.EOF when the file ends exactly on a frame boundary,
// errors.ErrIncompleteTail when the trailing frame is not yet fully written,
// and errors.ErrCorruptRecord (or errors.ErrFrameTooLarge) when a complete
// frame fails validation. After ErrIncompleteTail the reader is positioned to
// retry the same frame; after a corruption error it must not be used to read
// further.
func (r *Reader) Read() (event.Record, error) {
	var rec event.Record

	// Validate the file header lazily so that a segment whose header is
	// still being written reads as "no data yet" rather than corrupt.
	if r.offset == 0 {
		if err := r.readHeader(); err != nil {
			return rec, err
		}
	}

	frameStart := r.offset

	var header [frameHeaderSize]byte
	n, err := io.ReadFull(r.file, header[:])
	if err == io.EOF {
		return rec, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		r.stats.IncompleteHits++
		return rec, r.rewind(frameStart, errors.ErrIncompleteTail)
	}
	if err != nil {
		return rec, fmt.Errorf("read frame header: %w", err)
	}
	r.offset += int64(n)

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if int(length) > r.maxFrameSize {
		return rec, fmt.Errorf("frame declares %d bytes: %w", length, errors.ErrFrameTooLarge)
	}

	payload := make([]byte, length)
	n, err = io.ReadFull(r.file, payload)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		r.stats.IncompleteHits++
		return rec, r.rewind(frameStart, errors.ErrIncompleteTail)
	}
	if err != nil {
		return rec, fmt.Errorf("read frame payload: %w", err)
	}
	r.offset += int64(n)

	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return rec, fmt.Errorf("crc mismatch: expected %08x, got %08x: %w",
			expectedCRC, actualCRC, errors.ErrCorruptRecord)
	}

	rec, err = decodeRecord(payload)
	if err != nil {
		return rec, fmt.Errorf("decode record: %v: %w", err, errors.ErrCorruptRecord)
	}

	r.stats.RecordsRead++
	r.stats.BytesRead += int64(frameHeaderSize + len(payload))

	return rec, nil
}

// readHeader validates the segment file header at offset 0.
func (r *Reader) readHeader() error {
	var header [headerSize]byte
	_, err := io.ReadFull(r.file, header[:])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		r.stats.IncompleteHits++
		return r.rewind(0, errors.ErrIncompleteTail)
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != segmentMagic {
		return fmt.Errorf("invalid magic: expected %x, got %x: %w",
			segmentMagic, magic, errors.ErrCorruptRecord)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != segmentVersion {
		return fmt.Errorf("unsupported version %d: %w", version, errors.ErrCorruptRecord)
	}

	r.offset = headerSize
	return nil
}

// rewind repositions the file at frameStart so the next Read retries the
// same frame, and returns cause.
func (r *Reader) rewind(frameStart int64, cause error) error {
	if _, err := r.file.Seek(frameStart, io.SeekStart); err != nil {
		return fmt.Errorf("rewind to %d: %w", frameStart, err)
	}
	r.offset = frameStart
	return cause
}

// Offset returns the position after the last fully validated frame. Opening
// a new Reader at this offset resumes the read exactly.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadAll reads every complete record currently in the segment at path.
// An incomplete trailing frame is not an error; the records before it are
// returned.
func ReadAll(path string) ([]event.Record, error) {
	r, err := NewReader(path, 0, ReaderOptions{})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []event.Record
	for {
		rec, err := r.Read()
		if err == io.EOF || errors.Is(err, errors.ErrIncompleteTail) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
