// Package distribution computes summary statistics over a sampled scalar
// series, using DDSketch for percentiles.
package distribution

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/runboard/internal/event"
)

// DefaultAccuracy is the DDSketch relative accuracy used when none is given.
const DefaultAccuracy = 0.01

// Summary holds summary statistics for one series' sampled values.
type Summary struct {
	Run  string
	Tag  string
	Kind event.Kind

	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64

	FirstStep int64
	LastStep  int64

	// Percentiles over the sampled values. Nil when no values were decodable.
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64
}

// Aggregator accumulates values into a summary. Safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	run  string
	tag  string
	kind event.Kind

	count     int64
	sum       float64
	min       float64
	max       float64
	firstStep int64
	lastStep  int64

	sketch *ddsketch.DDSketch
}

// NewAggregator creates an aggregator for one series.
func NewAggregator(run, tag string, kind event.Kind, accuracy float64) *Aggregator {
	if accuracy <= 0 {
		accuracy = DefaultAccuracy
	}

	a := &Aggregator{
		run:  run,
		tag:  tag,
		kind: kind,
		min:  math.MaxFloat64,
		max:  -math.MaxFloat64,
	}

	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		a.sketch = sketch
	}

	return a
}

// Add adds one decoded value.
func (a *Aggregator) Add(value float64, step int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count == 0 || step < a.firstStep {
		a.firstStep = step
	}
	if step > a.lastStep {
		a.lastStep = step
	}

	a.count++
	a.sum += value
	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// Count returns the number of values added.
func (a *Aggregator) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Result returns the summary.
func (a *Aggregator) Result() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Run:       a.run,
		Tag:       a.tag,
		Kind:      a.kind,
		Count:     a.count,
		Sum:       a.sum,
		FirstStep: a.firstStep,
		LastStep:  a.lastStep,
	}

	if a.count > 0 {
		s.Avg = a.sum / float64(a.count)
		s.Min = a.min
		s.Max = a.max
	}

	if a.sketch != nil && a.count > 0 {
		if p50, err := a.sketch.GetValueAtQuantile(0.50); err == nil {
			s.P50 = &p50
		}
		if p90, err := a.sketch.GetValueAtQuantile(0.90); err == nil {
			s.P90 = &p90
		}
		if p95, err := a.sketch.GetValueAtQuantile(0.95); err == nil {
			s.P95 = &p95
		}
		if p99, err := a.sketch.GetValueAtQuantile(0.99); err == nil {
			s.P99 = &p99
		}
	}

	return s
}

// Decoder extracts a float value from a record's opaque payload.
// ok is false when the payload does not carry a decodable value.
type Decoder func(payload []byte) (value float64, ok bool)

// ScalarValue decodes the conventional scalar payload: 8 bytes, little-endian
// IEEE 754 float64.
func ScalarValue(payload []byte) (float64, bool) {
	if len(payload) != 8 {
		return 0, false
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(payload))
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// EncodeScalar encodes a float value as the conventional scalar payload.
func EncodeScalar(value float64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(value))
	return buf[:]
}

// Summarize computes a summary over sampled records. Records whose payload
// the decoder rejects are skipped.
func Summarize(run, tag string, kind event.Kind, records []event.Record, decode Decoder) Summary {
	if decode == nil {
		decode = ScalarValue
	}

	agg := NewAggregator(run, tag, kind, DefaultAccuracy)
	for _, rec := range records {
		if v, ok := decode(rec.Payload); ok {
			agg.Add(v, rec.Step)
		}
	}
	return agg.Result()
}
