package event

import "time"

// Kind indicates the type of data a record carries. Each kind has its own
// reservoir capacity in the accumulator.
type Kind int

const (
	// KindScalar is a single float measurement per step (e.g., loss, accuracy).
	KindScalar Kind = iota
	// KindHistogram is a binned value distribution per step.
	KindHistogram
	// KindImage is an encoded image blob per step.
	KindImage
	// KindAudio is an encoded audio blob per step.
	KindAudio
	// KindTensor is a serialized tensor blob per step.
	KindTensor
	// KindGraph is a one-off serialized model graph for the run.
	KindGraph
	// KindMeta is one-off run metadata (environment, arguments).
	KindMeta

	kindCount
)

// String returns a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindHistogram:
		return "histogram"
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	case KindTensor:
		return "tensor"
	case KindGraph:
		return "graph"
	case KindMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// Kinds returns all defined kinds in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// ParseKind parses a kind name as produced by Kind.String.
// Returns false if the name is not a known kind.
func ParseKind(s string) (Kind, bool) {
	for k := Kind(0); k < kindCount; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Record is a single measurement emitted by a training job.
// This is the primary data unit flowing through the system.
// Records are immutable once decoded.
type Record struct {
	// WallTime is the producer's wall clock in seconds since the Unix epoch.
	WallTime float64

	// Step is the producer's global step counter. Best-effort non-decreasing
	// per tag; a regression is interpreted as a job restart, not rejected.
	Step int64

	// Kind selects the reservoir family the record is routed to.
	Kind Kind

	// Tag names the series within the run (e.g., "train/loss").
	Tag string

	// Payload is the opaque, kind-specific encoded value. The accumulator
	// never inspects it.
	Payload []byte
}

// WallTimeTime returns the wall time as a time.Time.
func (r *Record) WallTimeTime() time.Time {
	sec := int64(r.WallTime)
	nsec := int64((r.WallTime - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// SeriesKey identifies one series within a run.
type SeriesKey struct {
	Kind Kind
	Tag  string
}

// Key returns the record's series key.
func (r *Record) Key() SeriesKey {
	return SeriesKey{Kind: r.Kind, Tag: r.Tag}
}

// Batch is a collection of records for batch processing.
type Batch struct {
	Records []Record
}

// NewBatch creates a batch with the given capacity.
func NewBatch(capacity int) *Batch {
	return &Batch{Records: make([]Record, 0, capacity)}
}

// Add appends a record to the batch.
func (b *Batch) Add(r Record) {
	b.Records = append(b.Records, r)
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.Records)
}

// Clear resets the batch for reuse.
func (b *Batch) Clear() {
	b.Records = b.Records[:0]
}
