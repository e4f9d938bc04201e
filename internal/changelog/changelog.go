// Package changelog implements the incremental changelog feed sync.
//
// The feed is a single logical stream with a cursor dependency chain
// (each batch's position depends on the previous batch's highest
// serial), so the engine is strictly sequential. One successful run
// produces at most one immutable batch artifact plus an updated cursor.
package changelog

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mirrorops/pkgmirror/internal/checkpoint"
	"github.com/mirrorops/pkgmirror/internal/fsutil"
	"github.com/mirrorops/pkgmirror/internal/registry"
)

// DefaultLimit caps accumulated events per run when the caller leaves
// the limit unset.
const DefaultLimit = 500_000

// Config holds the parameters for one changelog run.
type Config struct {
	// Dir is the mirror directory; it receives the cursor state file
	// and the batch artifacts. Created if absent.
	Dir string

	// Limit stops fetching once at least this many events have been
	// accumulated. Zero means DefaultLimit.
	Limit int

	// MinEvents, when positive, fails the run with InsufficientDataError
	// unless at least this many events were fetched. Nothing is
	// persisted on that failure; the run is a no-op.
	MinEvents int
}

// Result summarizes a successful run.
type Result struct {
	Events   int
	Start    int64  // lowest serial in the artifact, 0 when no artifact
	End      int64  // highest serial in the artifact, 0 when no artifact
	Artifact string // artifact file name, "" when already caught up
	Cursor   checkpoint.Cursor
}

// InsufficientDataError is the business-rule failure for runs that
// fetched fewer events than the configured minimum.
type InsufficientDataError struct {
	Fetched int
	Min     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("only %d events fetched, need at least %d", e.Fetched, e.Min)
}

// Engine drives a single changelog sync run.
type Engine struct {
	client registry.Client
	cfg    Config
}

// New creates a changelog engine. The client is an injected capability
// so tests can substitute a double.
func New(client registry.Client, cfg Config) *Engine {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return &Engine{client: client, cfg: cfg}
}

// Run advances the feed cursor forward in batches and writes one batch
// artifact covering everything fetched.
//
// The cursor's Lowest only ever moves forward: after each batch it is
// set to the maximum serial seen in that batch, not incremented, since
// the remote may skip serials. A run that finds the cursor already
// caught up writes no artifact and is not an error (unless MinEvents
// says otherwise).
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create changelog directory: %w", err)
	}

	statePath := filepath.Join(e.cfg.Dir, checkpoint.StateFileName)
	cur, err := checkpoint.LoadCursor(statePath)
	if err != nil {
		return Result{}, err
	}

	highest, err := e.client.LatestSerial(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("query latest serial: %w", err)
	}
	cur.Highest = highest

	slog.Info("changelog sync starting",
		"dir", e.cfg.Dir,
		"lowest", cur.Lowest,
		"highest", cur.Highest,
		"limit", e.cfg.Limit,
	)

	var events []registry.ChangeEvent
	for cur.Lowest < cur.Highest && len(events) < e.cfg.Limit {
		batch, err := e.client.ChangesSince(ctx, cur.Lowest)
		if err != nil {
			return Result{}, fmt.Errorf("fetch changelog since %d: %w", cur.Lowest, err)
		}
		if len(batch) == 0 {
			break
		}

		events = append(events, batch...)
		cur.Lowest = maxSerial(batch)

		slog.Debug("fetched changelog batch",
			"batch_events", len(batch),
			"total_events", len(events),
			"lowest", cur.Lowest,
		)
	}

	if e.cfg.MinEvents > 0 && len(events) < e.cfg.MinEvents {
		// Atomic no-op: neither the artifact nor the in-memory cursor
		// mutations reach disk.
		return Result{}, &InsufficientDataError{Fetched: len(events), Min: e.cfg.MinEvents}
	}

	res := Result{Events: len(events), Cursor: cur}

	if len(events) > 0 {
		start, end := serialRange(events)
		name := ArtifactName(start, end)
		if err := writeArtifact(filepath.Join(e.cfg.Dir, name), events); err != nil {
			return Result{}, err
		}
		res.Start, res.End, res.Artifact = start, end, name
	}

	if err := checkpoint.SaveCursor(statePath, cur); err != nil {
		return Result{}, err
	}

	slog.Info("changelog sync complete",
		"events", res.Events,
		"artifact", res.Artifact,
		"lowest", cur.Lowest,
		"highest", cur.Highest,
	)
	return res, nil
}

// ArtifactName returns the file name for the batch covering the
// inclusive serial range [start, end]. Serials are zero-padded so
// lexical and numeric ordering agree.
func ArtifactName(start, end int64) string {
	return fmt.Sprintf("%010d-%010d.json.gz", start, end)
}

// writeArtifact persists the event batch as gzip-compressed indented
// JSON. The write goes through the atomic helper; artifacts are
// immutable once visible.
func writeArtifact(path string, events []registry.ChangeEvent) error {
	payload, err := json.MarshalIndent(events, "", "    ")
	if err != nil {
		return fmt.Errorf("encode changelog artifact: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return fmt.Errorf("compress changelog artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress changelog artifact: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write changelog artifact %s: %w", path, err)
	}
	return nil
}

func maxSerial(events []registry.ChangeEvent) int64 {
	max := events[0].Serial
	for _, ev := range events[1:] {
		if ev.Serial > max {
			max = ev.Serial
		}
	}
	return max
}

func serialRange(events []registry.ChangeEvent) (start, end int64) {
	start, end = events[0].Serial, events[0].Serial
	for _, ev := range events[1:] {
		if ev.Serial < start {
			start = ev.Serial
		}
		if ev.Serial > end {
			end = ev.Serial
		}
	}
	return start, end
}
