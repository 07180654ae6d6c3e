package distribution

import (
	"math"
	"testing"

	"github.com/xtxerr/runboard/internal/event"
)

func TestScalarValue_RoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1.5, -273.15, math.MaxFloat64, math.Inf(1)} {
		got, ok := ScalarValue(EncodeScalar(v))
		if !ok {
			t.Fatalf("value %v rejected", v)
		}
		if got != v {
			t.Errorf("expected %v, got %v", v, got)
		}
	}
}

func TestScalarValue_Rejections(t *testing.T) {
	if _, ok := ScalarValue(nil); ok {
		t.Error("nil payload accepted")
	}
	if _, ok := ScalarValue([]byte{1, 2, 3}); ok {
		t.Error("short payload accepted")
	}
	if _, ok := ScalarValue(append(EncodeScalar(1.0), 0)); ok {
		t.Error("long payload accepted")
	}
	if _, ok := ScalarValue(EncodeScalar(math.NaN())); ok {
		t.Error("NaN accepted")
	}
}

func TestAggregator_Stats(t *testing.T) {
	agg := NewAggregator("exp1", "train/loss", event.KindScalar, DefaultAccuracy)

	values := []float64{4.0, 1.0, 3.0, 2.0}
	for i, v := range values {
		agg.Add(v, int64(i*10))
	}

	s := agg.Result()
	if s.Run != "exp1" || s.Tag != "train/loss" || s.Kind != event.KindScalar {
		t.Errorf("identity fields wrong: %+v", s)
	}
	if s.Count != 4 {
		t.Errorf("expected count 4, got %d", s.Count)
	}
	if s.Sum != 10.0 {
		t.Errorf("expected sum 10, got %v", s.Sum)
	}
	if s.Min != 1.0 || s.Max != 4.0 {
		t.Errorf("expected min 1 max 4, got %v / %v", s.Min, s.Max)
	}
	if s.Avg != 2.5 {
		t.Errorf("expected avg 2.5, got %v", s.Avg)
	}
	if s.FirstStep != 0 || s.LastStep != 30 {
		t.Errorf("expected steps 0..30, got %d..%d", s.FirstStep, s.LastStep)
	}
}

func TestAggregator_Percentiles(t *testing.T) {
	agg := NewAggregator("exp1", "latency", event.KindScalar, 0.01)

	for i := 1; i <= 1000; i++ {
		agg.Add(float64(i), int64(i))
	}

	s := agg.Result()
	if s.P50 == nil || s.P99 == nil {
		t.Fatal("expected percentiles to be populated")
	}

	// DDSketch guarantees relative accuracy; allow a generous 5% here.
	if math.Abs(*s.P50-500) > 500*0.05 {
		t.Errorf("p50 = %v, expected about 500", *s.P50)
	}
	if math.Abs(*s.P99-990) > 990*0.05 {
		t.Errorf("p99 = %v, expected about 990", *s.P99)
	}
}

func TestAggregator_Empty(t *testing.T) {
	agg := NewAggregator("exp1", "loss", event.KindScalar, DefaultAccuracy)

	s := agg.Result()
	if s.Count != 0 {
		t.Errorf("expected count 0, got %d", s.Count)
	}
	if s.Min != 0 || s.Max != 0 || s.Avg != 0 {
		t.Errorf("empty summary must zero min/max/avg: %+v", s)
	}
	if s.P50 != nil {
		t.Error("empty summary must not report percentiles")
	}
}

func TestSummarize_SkipsUndecodable(t *testing.T) {
	records := []event.Record{
		{Step: 0, Kind: event.KindScalar, Tag: "loss", Payload: EncodeScalar(1.0)},
		{Step: 1, Kind: event.KindScalar, Tag: "loss", Payload: []byte("not a float")},
		{Step: 2, Kind: event.KindScalar, Tag: "loss", Payload: EncodeScalar(3.0)},
	}

	s := Summarize("exp1", "loss", event.KindScalar, records, nil)
	if s.Count != 2 {
		t.Fatalf("expected 2 decodable values, got %d", s.Count)
	}
	if s.Sum != 4.0 {
		t.Errorf("expected sum 4, got %v", s.Sum)
	}
	if s.FirstStep != 0 || s.LastStep != 2 {
		t.Errorf("expected steps 0..2, got %d..%d", s.FirstStep, s.LastStep)
	}
}

func TestSummarize_CustomDecoder(t *testing.T) {
	records := []event.Record{
		{Step: 0, Kind: event.KindMeta, Tag: "m", Payload: []byte{10}},
		{Step: 1, Kind: event.KindMeta, Tag: "m", Payload: []byte{20}},
	}

	decode := func(payload []byte) (float64, bool) {
		if len(payload) != 1 {
			return 0, false
		}
		return float64(payload[0]), true
	}

	s := Summarize("exp1", "m", event.KindMeta, records, decode)
	if s.Count != 2 || s.Sum != 30 {
		t.Fatalf("custom decoder not applied: %+v", s)
	}
}
