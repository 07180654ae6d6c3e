// Package multiplexer aggregates accumulators for many runs behind one
// query surface.
package multiplexer

import (
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/runboard/internal/accumulator"
	"github.com/xtxerr/runboard/internal/errors"
	"github.com/xtxerr/runboard/internal/event"
	"github.com/xtxerr/runboard/internal/logging"
	"github.com/xtxerr/runboard/internal/validation"
)

// Multiplexer maps run names to accumulators. Runs can be added and removed
// at any time; removal tears the accumulator down. The run map has its own
// lock; the accumulators share no state, so reloads of different runs are
// independent.
type Multiplexer struct {
	mu   sync.RWMutex
	runs map[string]*accumulator.Accumulator

	opts accumulator.Options

	// MaxParallel bounds concurrent reloads in ReloadAll. 0 = unbounded.
	maxParallel int

	log *slog.Logger
}

// Options configures a multiplexer.
type Options struct {
	// Accumulator is applied to every run's accumulator.
	Accumulator accumulator.Options

	// MaxParallel bounds concurrent per-run reloads in ReloadAll.
	// 0 = one goroutine per run.
	MaxParallel int
}

// New creates an empty multiplexer.
func New(opts Options) *Multiplexer {
	return &Multiplexer{
		runs:        make(map[string]*accumulator.Accumulator),
		opts:        opts.Accumulator,
		maxParallel: opts.MaxParallel,
		log:         logging.Component("multiplexer"),
	}
}

// AddRun registers a run backed by the given directory.
// Returns errors.ErrRunAlreadyExists if the name is taken.
func (m *Multiplexer) AddRun(name, dir string) error {
	if err := validation.ValidateRunName(name); err != nil {
		return err
	}
	if err := validation.ValidateRunDir(dir); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[name]; ok {
		return errors.Wrapf(errors.ErrRunAlreadyExists, "run %q", name)
	}

	m.runs[name] = accumulator.New(name, dir, m.opts)
	m.log.Info("run added", "run", name, "dir", dir)
	return nil
}

// RemoveRun deregisters a run and closes its accumulator, releasing all its
// reservoirs. Returns errors.ErrRunNotFound for an unknown name.
func (m *Multiplexer) RemoveRun(name string) error {
	m.mu.Lock()
	acc, ok := m.runs[name]
	if ok {
		delete(m.runs, name)
	}
	m.mu.Unlock()

	if !ok {
		return errors.Wrapf(errors.ErrRunNotFound, "run %q", name)
	}

	// Close outside the map lock: it drains an in-flight reload.
	if err := acc.Close(); err != nil {
		return err
	}
	m.log.Info("run removed", "run", name)
	return nil
}

// Runs returns the sorted names of all registered runs.
func (m *Multiplexer) Runs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.runs))
	for name := range m.runs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// get returns the accumulator for a run name.
func (m *Multiplexer) get(name string) (*accumulator.Accumulator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.runs[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrRunNotFound, "run %q", name)
	}
	return acc, nil
}

// Reload reloads a single run.
func (m *Multiplexer) Reload(name string) error {
	acc, err := m.get(name)
	if err != nil {
		return err
	}
	return acc.Reload()
}

// ReloadError describes one run's reload failure.
type ReloadError struct {
	Run string
	Err error
}

// Error implements the error interface.
func (e *ReloadError) Error() string {
	return "reload " + e.Run + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ReloadError) Unwrap() error {
	return e.Err
}

// ReloadAll reloads every registered run. Runs are reloaded concurrently
// (bounded by MaxParallel) and independently: one run's failure does not
// abort the others. All failures are returned; a nil slice means every run
// reloaded cleanly.
func (m *Multiplexer) ReloadAll() []ReloadError {
	m.mu.RLock()
	accs := make([]*accumulator.Accumulator, 0, len(m.runs))
	for _, acc := range m.runs {
		accs = append(accs, acc)
	}
	m.mu.RUnlock()

	var (
		failMu sync.Mutex
		fails  []ReloadError
	)

	var g errgroup.Group
	if m.maxParallel > 0 {
		g.SetLimit(m.maxParallel)
	}
	for _, acc := range accs {
		g.Go(func() error {
			if err := acc.Reload(); err != nil {
				failMu.Lock()
				fails = append(fails, ReloadError{Run: acc.Name(), Err: err})
				failMu.Unlock()
			}
			// Failures are collected, not propagated: one run must not
			// cancel the rest.
			return nil
		})
	}
	g.Wait()

	sort.Slice(fails, func(i, j int) bool { return fails[i].Run < fails[j].Run })
	for _, f := range fails {
		m.log.Warn("run reload failed", "run", f.Run, "error", f.Err)
	}
	return fails
}

// Tags lists the tags of one run for a kind.
func (m *Multiplexer) Tags(run string, kind event.Kind) ([]string, error) {
	acc, err := m.get(run)
	if err != nil {
		return nil, err
	}
	return acc.Tags(kind)
}

// Series returns the sampled records of one series.
func (m *Multiplexer) Series(run string, kind event.Kind, tag string) ([]event.Record, error) {
	acc, err := m.get(run)
	if err != nil {
		return nil, err
	}
	return acc.Series(kind, tag)
}

// SeriesSeen returns the total number of records ever offered to a series.
func (m *Multiplexer) SeriesSeen(run string, kind event.Kind, tag string) (int64, error) {
	acc, err := m.get(run)
	if err != nil {
		return 0, err
	}
	return acc.SeriesSeen(kind, tag)
}

// AllTags maps every run to its tags for a kind.
func (m *Multiplexer) AllTags(kind event.Kind) map[string][]string {
	out := make(map[string][]string)
	for _, run := range m.Runs() {
		tags, err := m.Tags(run, kind)
		if err != nil {
			continue // removed or closed concurrently
		}
		out[run] = tags
	}
	return out
}

// Accumulator exposes a run's accumulator for callers needing run-level
// statistics.
func (m *Multiplexer) Accumulator(run string) (*accumulator.Accumulator, error) {
	return m.get(run)
}
