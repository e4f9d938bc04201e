// Package catalog implements the full-catalog reconciliation engine.
//
// The engine diffs the remote package set against local checkpoints,
// orders the stale entries oldest-first, and fans the per-package syncs
// out over a bounded worker pool. Checkpoint mutation happens only on
// the coordinating goroutine as results arrive, so the shared map never
// has concurrent writers.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorops/pkgmirror/internal/checkpoint"
	"github.com/mirrorops/pkgmirror/internal/record"
	"github.com/mirrorops/pkgmirror/internal/registry"
)

// DefaultLimit caps the work queue per run when the caller leaves the
// limit unset.
const DefaultLimit = 5_000

// Stats aggregates per-package outcomes across one run.
type Stats struct {
	NotFound int `json:"not_found"`
	Releases int `json:"releases"`
	Modified int `json:"modified"`
	New      int `json:"new"`
	Skipped  int `json:"skipped"`
}

func (s *Stats) observe(res record.ItemResult) {
	if res.NotFound {
		s.NotFound++
	}
	s.Releases += res.Releases
	if res.Modified {
		s.Modified++
	}
	if res.New {
		s.New++
	}
	if res.Skipped {
		s.Skipped++
	}
}

// Progress is delivered to the caller after every completed package.
// RunID correlates events (and log lines) from the same run.
type Progress struct {
	RunID string
	Done  int
	Total int
	Stats Stats
}

// Config holds the parameters for one catalog run.
type Config struct {
	// Dir is the mirror directory; it receives the checkpoint state
	// file and the sharded per-package records. Created if absent.
	Dir string

	// Limit truncates the work queue. Zero means DefaultLimit.
	Limit int

	// Concurrency bounds the worker pool. Zero means one worker per
	// available CPU; unbounded fan-out over the network is never the
	// default.
	Concurrency int

	// OnProgress, when set, receives an event per completed package.
	OnProgress func(Progress)
}

// workItem is one stale package: its remote marker differs from the
// stored checkpoint (or no checkpoint exists).
type workItem struct {
	name   string
	serial int64
}

// Engine drives a single catalog sync run.
type Engine struct {
	client registry.Client
	cfg    Config
}

// New creates a catalog engine with defaults applied.
func New(client registry.Client, cfg Config) *Engine {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	return &Engine{client: client, cfg: cfg}
}

// Run reconciles the remote catalog against local checkpoints.
//
// Per-package failures are isolated: a failed or skipped package only
// withholds its own checkpoint advance, the run itself still succeeds
// and persists every completed package. A run that finds nothing stale
// returns without touching disk at all.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return Stats{}, fmt.Errorf("create catalog directory: %w", err)
	}

	statePath := filepath.Join(e.cfg.Dir, checkpoint.StateFileName)
	checkpoints, err := checkpoint.LoadMap(statePath)
	if err != nil {
		return Stats{}, err
	}

	remote, err := e.client.ListItems(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch catalog snapshot: %w", err)
	}

	queue, stale := e.buildQueue(remote, checkpoints)

	runID := uuid.Must(uuid.NewV7()).String()
	slog.Info("catalog sync starting",
		"run_id", runID,
		"dir", e.cfg.Dir,
		"remote_packages", len(remote),
		"stale", stale,
		"processing", len(queue),
		"concurrency", e.cfg.Concurrency,
	)

	if len(queue) == 0 {
		return Stats{}, nil
	}

	results := make(chan record.ItemResult)

	pool := &errgroup.Group{}
	pool.SetLimit(e.cfg.Concurrency)
	go func() {
		for _, it := range queue {
			pool.Go(func() error {
				results <- record.SyncItem(ctx, e.client, e.cfg.Dir, it.name, it.serial)
				return nil
			})
		}
		_ = pool.Wait() // workers report failures through results, never as errors
		close(results)
	}()

	// Sole writer to the checkpoint map: results are folded in here,
	// never inside the workers.
	var stats Stats
	done := 0
	for res := range results {
		done++
		stats.observe(res)

		if res.Err != nil {
			slog.Warn("package sync failed",
				"run_id", runID,
				"package", res.Name,
				"error", res.Err,
			)
		}
		if !res.Skipped {
			checkpoints[res.Name] = res.Serial
		}

		if e.cfg.OnProgress != nil {
			e.cfg.OnProgress(Progress{RunID: runID, Done: done, Total: len(queue), Stats: stats})
		}
	}

	if err := checkpoint.SaveMap(statePath, checkpoints); err != nil {
		return stats, err
	}

	slog.Info("catalog sync complete",
		"run_id", runID,
		"processed", done,
		"not_found", stats.NotFound,
		"releases", stats.Releases,
		"modified", stats.Modified,
		"new", stats.New,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

// buildQueue computes the stale set and orders it by marker ascending
// (oldest updates first), name as the deterministic tie-break. Remote
// names are normalized first; collisions under normalization are
// last-write-wins, which is acceptable because the registry treats
// names case-insensitively.
func (e *Engine) buildQueue(remote map[string]int64, checkpoints checkpoint.Map) (queue []workItem, stale int) {
	normalized := make(map[string]int64, len(remote))
	for name, serial := range remote {
		normalized[record.NormalizeName(name)] = serial
	}

	changed := make([]workItem, 0, len(normalized))
	for name, serial := range normalized {
		if stored, ok := checkpoints[name]; !ok || stored != serial {
			changed = append(changed, workItem{name: name, serial: serial})
		}
	}

	sort.SliceStable(changed, func(i, j int) bool {
		if changed[i].serial != changed[j].serial {
			return changed[i].serial < changed[j].serial
		}
		return changed[i].name < changed[j].name
	})

	stale = len(changed)
	if stale > e.cfg.Limit {
		changed = changed[:e.cfg.Limit]
	}
	return changed, stale
}
