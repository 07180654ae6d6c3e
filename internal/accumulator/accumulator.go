// Package accumulator maintains the in-memory sampled view of one run.
//
// An Accumulator owns a directory watcher's cursor and one reservoir per
// (kind, tag) series. Reload pulls newly written records from disk and
// routes them into the reservoirs; queries read individual reservoirs and
// may run concurrently with a reload.
package accumulator

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/runboard/config"
	"github.com/xtxerr/runboard/internal/errors"
	"github.com/xtxerr/runboard/internal/event"
	"github.com/xtxerr/runboard/internal/eventlog"
	"github.com/xtxerr/runboard/internal/logging"
	"github.com/xtxerr/runboard/internal/reservoir"
	"github.com/xtxerr/runboard/internal/watcher"
)

// State is the accumulator lifecycle state.
type State int

const (
	// StateFresh means no reload has run yet.
	StateFresh State = iota
	// StateLoading means a reload is in flight.
	StateLoading
	// StateIdle means the accumulator is between reloads.
	StateIdle
	// StateClosed means the accumulator has been torn down.
	StateClosed
)

// String returns a human-readable representation of the State.
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateLoading:
		return "loading"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures an accumulator.
type Options struct {
	// Capacities maps each kind to its reservoir capacity. 0 = unbounded.
	// Kinds absent from the map use the built-in defaults.
	Capacities map[event.Kind]int

	// KeepLast marks kinds whose reservoirs always retain the most recently
	// offered item.
	KeepLast map[event.Kind]bool

	// DetectRestart enables the step-regression heuristic: a record whose
	// step is lower than the last seen step for its series purges the
	// series' items at or above the new step before being admitted.
	DetectRestart bool

	// MaxFrameSize limits the declared length of a single log frame.
	MaxFrameSize int

	// Seed seeds the reservoirs' sampling sources. Zero = time-derived.
	// Tests pass a fixed seed for reproducible samples.
	Seed int64
}

// DefaultOptions returns accumulator options with the documented defaults.
func DefaultOptions() Options {
	return Options{
		Capacities: map[event.Kind]int{
			event.KindScalar:    config.DefaultScalarCapacity,
			event.KindHistogram: config.DefaultHistogramCapacity,
			event.KindImage:     config.DefaultImageCapacity,
			event.KindAudio:     config.DefaultAudioCapacity,
			event.KindTensor:    config.DefaultTensorCapacity,
			event.KindGraph:     config.DefaultGraphCapacity,
			event.KindMeta:      config.DefaultMetaCapacity,
		},
		KeepLast:      map[event.Kind]bool{event.KindScalar: true},
		DetectRestart: true,
		MaxFrameSize:  config.DefaultMaxFrameSize,
	}
}

// ReloadStats describes what one reload did.
type ReloadStats struct {
	RecordsRouted int64
	SeriesCreated int64
	SeriesPurged  int64
	ItemsPurged   int64
	StartedAt     time.Time
	Duration      time.Duration
}

// Accumulator accumulates one run's records into per-series reservoirs.
type Accumulator struct {
	name string
	dir  string
	opts Options

	// reloadMu serializes reloads. Reload uses TryLock so a concurrent
	// caller is rejected immediately rather than queued; Close takes the
	// lock to drain an in-flight reload before tearing down.
	reloadMu sync.Mutex

	// stateMu protects state, the series maps and lastReload.
	stateMu  sync.RWMutex
	state    State
	series   map[event.SeriesKey]*reservoir.Reservoir[event.Record]
	lastStep map[event.SeriesKey]int64

	firstWallTime float64
	haveFirst     bool
	lastReload    ReloadStats

	watcher *watcher.Watcher
	log     *slog.Logger
}

// New creates an accumulator for a run directory. No I/O happens until the
// first Reload.
func New(name, dir string, opts Options) *Accumulator {
	defaults := DefaultOptions()
	if opts.Capacities == nil {
		opts.Capacities = defaults.Capacities
	} else {
		for kind, capacity := range defaults.Capacities {
			if _, ok := opts.Capacities[kind]; !ok {
				opts.Capacities[kind] = capacity
			}
		}
	}
	if opts.KeepLast == nil {
		opts.KeepLast = defaults.KeepLast
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaults.MaxFrameSize
	}

	return &Accumulator{
		name:     name,
		dir:      dir,
		opts:     opts,
		state:    StateFresh,
		series:   make(map[event.SeriesKey]*reservoir.Reservoir[event.Record]),
		lastStep: make(map[event.SeriesKey]int64),
		watcher:  watcher.New(dir, watcher.Options{MaxFrameSize: opts.MaxFrameSize}),
		log:      logging.Component("accumulator").With("run", name),
	}
}

// Name returns the run name.
func (a *Accumulator) Name() string {
	return a.name
}

// Dir returns the run directory.
func (a *Accumulator) Dir() string {
	return a.dir
}

// State returns the current lifecycle state.
func (a *Accumulator) State() State {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

// Reload drains all newly written records from the run directory into the
// reservoirs. It is incremental (resumes from the watcher's cursor) and
// idempotent: with no new bytes on disk it routes nothing.
//
// At most one reload per run may be in flight. A call arriving while one is
// running returns errors.ErrReloadInProgress immediately without altering
// state. After Close, Reload returns errors.ErrClosed.
func (a *Accumulator) Reload() error {
	if !a.reloadMu.TryLock() {
		return errors.ErrReloadInProgress
	}
	defer a.reloadMu.Unlock()

	a.stateMu.Lock()
	if a.state == StateClosed {
		a.stateMu.Unlock()
		return errors.ErrClosed
	}
	a.state = StateLoading
	a.stateMu.Unlock()

	stats := ReloadStats{StartedAt: time.Now()}
	err := a.watcher.Poll(func(rec event.Record) error {
		a.route(rec, &stats)
		return nil
	})
	stats.Duration = time.Since(stats.StartedAt)

	a.stateMu.Lock()
	a.lastReload = stats
	// Close may have run between the drain and here; don't resurrect.
	if a.state == StateLoading {
		a.state = StateIdle
	}
	a.stateMu.Unlock()

	if err != nil {
		a.log.Error("reload failed", "error", err)
		return err
	}

	a.log.Debug("reload done",
		"records", stats.RecordsRouted,
		"duration", stats.Duration)
	return nil
}

// route places one record into its series' reservoir, creating the series on
// first sight and applying restart detection.
//
// Reading a record from disk must not happen while holding a reservoir lock;
// route is called per decoded record, and only the series-map and the single
// target reservoir are locked here.
func (a *Accumulator) route(rec event.Record, stats *ReloadStats) {
	key := rec.Key()

	a.stateMu.Lock()
	res, ok := a.series[key]
	if !ok {
		res = reservoir.New[event.Record](reservoir.Options{
			Capacity: a.capacityFor(rec.Kind),
			Seed:     a.opts.Seed,
		})
		a.series[key] = res
		stats.SeriesCreated++
	}
	if !a.haveFirst {
		a.firstWallTime = rec.WallTime
		a.haveFirst = true
	}
	last, seenBefore := a.lastStep[key]
	a.lastStep[key] = rec.Step
	a.stateMu.Unlock()

	// A step regression means the producer restarted and is overwriting
	// history: the sampled items at or above the new step are stale.
	if a.opts.DetectRestart && seenBefore && rec.Step < last {
		purged := res.Filter(func(r event.Record) bool {
			return r.Step < rec.Step
		})
		if purged > 0 {
			stats.SeriesPurged++
			stats.ItemsPurged += int64(purged)
			a.log.Warn("step regression, purged stale sample",
				"kind", rec.Kind.String(),
				"tag", rec.Tag,
				"last_step", last,
				"new_step", rec.Step,
				"purged", purged)
		}
	}

	if a.opts.KeepLast[rec.Kind] {
		res.OfferKeepLast(rec)
	} else {
		res.Offer(rec)
	}
	stats.RecordsRouted++
}

func (a *Accumulator) capacityFor(kind event.Kind) int {
	if capacity, ok := a.opts.Capacities[kind]; ok {
		return capacity
	}
	return 0
}

// Close transitions the accumulator to Closed. An in-flight reload is
// allowed to finish first; new reloads and queries fail with
// errors.ErrClosed. Close is idempotent.
func (a *Accumulator) Close() error {
	// Wait for an in-flight reload to drain.
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if a.state == StateClosed {
		return nil
	}
	a.state = StateClosed
	a.series = nil
	a.lastStep = nil
	return nil
}

// Tags returns the sorted tag names with at least one record of the given
// kind.
func (a *Accumulator) Tags(kind event.Kind) ([]string, error) {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()

	if a.state == StateClosed {
		return nil, errors.ErrClosed
	}

	var tags []string
	for key := range a.series {
		if key.Kind == kind {
			tags = append(tags, key.Tag)
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// Series returns a snapshot of the sampled records for one series. The
// snapshot is consistent for the reservoir it reads, but a reload in flight
// may or may not be reflected.
func (a *Accumulator) Series(kind event.Kind, tag string) ([]event.Record, error) {
	a.stateMu.RLock()
	if a.state == StateClosed {
		a.stateMu.RUnlock()
		return nil, errors.ErrClosed
	}
	res, ok := a.series[event.SeriesKey{Kind: kind, Tag: tag}]
	a.stateMu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(errors.ErrTagNotFound, "%s %s/%s", kind, a.name, tag)
	}
	return res.Items(), nil
}

// SeriesSeen returns how many records have ever been offered to a series,
// including those sampled out.
func (a *Accumulator) SeriesSeen(kind event.Kind, tag string) (int64, error) {
	a.stateMu.RLock()
	if a.state == StateClosed {
		a.stateMu.RUnlock()
		return 0, errors.ErrClosed
	}
	res, ok := a.series[event.SeriesKey{Kind: kind, Tag: tag}]
	a.stateMu.RUnlock()

	if !ok {
		return 0, errors.Wrapf(errors.ErrTagNotFound, "%s %s/%s", kind, a.name, tag)
	}
	return res.Seen(), nil
}

// FirstWallTime returns the wall time of the earliest routed record.
// ok is false until the first record arrives.
func (a *Accumulator) FirstWallTime() (wallTime float64, ok bool) {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.firstWallTime, a.haveFirst
}

// LastReload returns statistics from the most recent reload.
func (a *Accumulator) LastReload() ReloadStats {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.lastReload
}

// WatcherStats returns the underlying watcher's statistics. It waits for an
// in-flight reload to finish, since the watcher itself is unsynchronized.
func (a *Accumulator) WatcherStats() watcher.Stats {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	return a.watcher.Stats()
}

// ReaderOptions returns the frame decoding options the run is read with.
func (a *Accumulator) ReaderOptions() eventlog.ReaderOptions {
	return eventlog.ReaderOptions{MaxFrameSize: a.opts.MaxFrameSize}
}
