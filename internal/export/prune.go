package export

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/runboard/internal/logging"
)

// Pruner deletes snapshot files past their retention age.
type Pruner struct {
	mu        sync.Mutex
	dir       string
	retention time.Duration
	stats     PruneStats
}

// PruneStats holds pruner statistics.
type PruneStats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	Errors       int64
}

// PruneResult holds the result of one pruning pass.
type PruneResult struct {
	FilesDeleted int
	BytesFreed   int64
	Errors       []error
}

// NewPruner creates a pruner for the snapshot directory.
func NewPruner(dir string, retention time.Duration) *Pruner {
	return &Pruner{
		dir:       dir,
		retention: retention,
	}
}

// Run deletes snapshots older than the retention period.
func (p *Pruner) Run() PruneResult {
	return p.run(false)
}

// DryRun reports what Run would delete without deleting anything.
func (p *Pruner) DryRun() PruneResult {
	return p.run(true)
}

func (p *Pruner) run(dry bool) PruneResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result PruneResult
	p.stats.LastRunTime = time.Now()
	cutoff := time.Now().Add(-p.retention)
	log := logging.Component("export")

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, err)
			p.stats.Errors++
		}
		return result
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".parquet") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(p.dir, name)
		if dry {
			result.FilesDeleted++
			result.BytesFreed += info.Size()
			continue
		}

		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, err)
			p.stats.Errors++
			continue
		}

		result.FilesDeleted++
		result.BytesFreed += info.Size()
		p.stats.FilesDeleted++
		p.stats.BytesFreed += info.Size()
		log.Debug("snapshot pruned", "file", name, "size", info.Size())
	}

	return result
}

// Stats returns pruner statistics.
func (p *Pruner) Stats() PruneStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
