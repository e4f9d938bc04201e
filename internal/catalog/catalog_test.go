package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorops/pkgmirror/internal/checkpoint"
	"github.com/mirrorops/pkgmirror/internal/record"
	"github.com/mirrorops/pkgmirror/internal/testutil"
)

// orderedClient wraps testutil.Client to record the order packages are
// picked up by workers.
func orderedClient(base *testutil.Client) (*testutil.Client, *[]string) {
	var mu sync.Mutex
	var order []string
	inner := base.ItemVersionsFunc
	base.ItemVersionsFunc = func(ctx context.Context, name string) ([]string, error) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		if inner != nil {
			return inner(ctx, name)
		}
		if versions, ok := base.Versions[name]; ok {
			return versions, nil
		}
		return []string{}, nil
	}
	return base, &order
}

func TestRun_OnlyStalePackagesQueued(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, checkpoint.StateFileName)
	require.NoError(t, checkpoint.SaveMap(statePath, checkpoint.Map{"foo": 5}))

	client := &testutil.Client{
		Items: map[string]int64{"foo": 5, "bar": 3},
		Versions: map[string][]string{
			"bar": {"1.0"},
		},
		Details: map[string]map[string]any{
			"bar/1.0": testutil.Detail("1.0", "d"),
		},
	}

	stats, err := New(client, Config{Dir: dir, Limit: 10, Concurrency: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, client.Calls("ItemVersions"), "only bar is stale")
	assert.Equal(t, Stats{Releases: 1, New: 1}, stats)

	checkpoints, err := checkpoint.LoadMap(statePath)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Map{"foo": 5, "bar": 3}, checkpoints)
}

func TestRun_OldestMarkersFirst(t *testing.T) {
	dir := t.TempDir()

	client, order := orderedClient(&testutil.Client{
		Items: map[string]int64{"a": 10, "b": 2, "c": 5},
	})

	_, err := New(client, Config{Dir: dir, Concurrency: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "a"}, *order)
}

func TestRun_LimitTruncatesQueue(t *testing.T) {
	dir := t.TempDir()

	client, order := orderedClient(&testutil.Client{
		Items: map[string]int64{"a": 10, "b": 2, "c": 5},
	})

	_, err := New(client, Config{Dir: dir, Limit: 1, Concurrency: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, *order, "truncated to the single oldest marker")
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	dir := t.TempDir()

	client := &testutil.Client{
		Items: map[string]int64{"widget": 4},
		Versions: map[string][]string{
			"widget": {"1.0"},
		},
		Details: map[string]map[string]any{
			"widget/1.0": testutil.Detail("1.0", "d"),
		},
	}
	eng := New(client, Config{Dir: dir, Concurrency: 1})

	_, err := eng.Run(context.Background())
	require.NoError(t, err)
	firstDetailCalls := client.Calls("ItemVersions")

	statePath := filepath.Join(dir, checkpoint.StateFileName)
	stateBefore, err := os.ReadFile(statePath)
	require.NoError(t, err)
	info, err := os.Stat(statePath)
	require.NoError(t, err)
	mtimeBefore := info.ModTime()

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{}, stats)
	assert.Equal(t, firstDetailCalls, client.Calls("ItemVersions"), "no detail fetches on a caught-up run")

	stateAfter, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Equal(t, string(stateBefore), string(stateAfter))
	infoAfter, err := os.Stat(statePath)
	require.NoError(t, err)
	assert.Equal(t, mtimeBefore, infoAfter.ModTime(), "state file must not be rewritten")
}

func TestRun_SkippedPackageDoesNotAdvanceCheckpoint(t *testing.T) {
	dir := t.TempDir()

	// widget lists a release whose detail is not visible yet.
	client := &testutil.Client{
		Items: map[string]int64{"widget": 8, "stable": 2},
		Versions: map[string][]string{
			"widget": {"1.0", "2.0"},
			"stable": {"1.0"},
		},
		Details: map[string]map[string]any{
			"widget/1.0": testutil.Detail("1.0", "d"),
			"stable/1.0": testutil.Detail("1.0", "d"),
		},
	}

	stats, err := New(client, Config{Dir: dir, Concurrency: 2}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.New)

	checkpoints, err := checkpoint.LoadMap(filepath.Join(dir, checkpoint.StateFileName))
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Map{"stable": 2}, checkpoints,
		"the skipped package's checkpoint must not advance")
}

func TestRun_NotFoundAdvancesCheckpoint(t *testing.T) {
	dir := t.TempDir()

	client := &testutil.Client{
		Items: map[string]int64{"ghost": 6},
	}

	stats, err := New(client, Config{Dir: dir, Concurrency: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{NotFound: 1}, stats)

	checkpoints, err := checkpoint.LoadMap(filepath.Join(dir, checkpoint.StateFileName))
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Map{"ghost": 6}, checkpoints,
		"absence is itself a synced state")
}

func TestRun_NamesNormalized(t *testing.T) {
	dir := t.TempDir()

	client := &testutil.Client{
		Items: map[string]int64{"Widget": 4},
		ItemVersionsFunc: func(ctx context.Context, name string) ([]string, error) {
			return []string{}, nil
		},
	}

	_, err := New(client, Config{Dir: dir, Concurrency: 1}).Run(context.Background())
	require.NoError(t, err)

	checkpoints, err := checkpoint.LoadMap(filepath.Join(dir, checkpoint.StateFileName))
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Map{"widget": 4}, checkpoints)
}

func TestRun_StatsAggregation(t *testing.T) {
	dir := t.TempDir()

	client := &testutil.Client{
		Items: map[string]int64{"a": 1, "b": 2, "c": 3},
		Versions: map[string][]string{
			"a": {"1.0", "1.1"},
			// b is absent entirely (not found).
			"c": {"1.0"},
		},
		Details: map[string]map[string]any{
			"a/1.0": testutil.Detail("1.0", "d"),
			"a/1.1": testutil.Detail("1.1", "d"),
			"c/1.0": testutil.Detail("1.0", "d"),
		},
	}

	// c already has a record on disk, so it counts as modified.
	require.NoError(t, record.Write(dir, "c", record.Record{"0.9": {}}))

	stats, err := New(client, Config{Dir: dir, Concurrency: 3}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{NotFound: 1, Releases: 3, Modified: 1, New: 1}, stats)
}

func TestRun_ProgressEvents(t *testing.T) {
	dir := t.TempDir()

	client := &testutil.Client{
		Items: map[string]int64{"a": 1, "b": 2},
		ItemVersionsFunc: func(ctx context.Context, name string) ([]string, error) {
			return []string{}, nil
		},
	}

	var mu sync.Mutex
	var events []Progress
	cfg := Config{
		Dir:         dir,
		Concurrency: 1,
		OnProgress: func(p Progress) {
			mu.Lock()
			events = append(events, p)
			mu.Unlock()
		},
	}

	_, err := New(client, cfg).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Done)
	assert.Equal(t, 2, events[1].Done)
	assert.Equal(t, 2, events[0].Total)
	assert.NotEmpty(t, events[0].RunID)
	assert.Equal(t, events[0].RunID, events[1].RunID)
}

func TestRun_CorruptCheckpointIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpoint.StateFileName), []byte("[oops"), 0o644))

	client := &testutil.Client{Items: map[string]int64{"a": 1}}

	_, err := New(client, Config{Dir: dir}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, checkpoint.IsCorruptState(err))
	assert.Equal(t, 0, client.Calls("ListItems"))
}

func TestNew_Defaults(t *testing.T) {
	eng := New(&testutil.Client{}, Config{Dir: "x"})
	assert.Equal(t, DefaultLimit, eng.cfg.Limit)
	assert.Greater(t, eng.cfg.Concurrency, 0)
}
