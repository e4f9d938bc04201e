// Package checkpoint owns the persisted sync state: the changelog
// cursor and the per-package serial map.
//
// Both are stored as serials.json in their respective mirror
// directories. Loading an absent file yields the zero value; loading a
// present-but-unparsable file is a CorruptStateError, which callers
// treat as fatal - proceeding with a default would silently re-download
// or, worse, orphan history.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mirrorops/pkgmirror/internal/fsutil"
)

// StateFileName is the checkpoint file written into each mirror
// directory.
const StateFileName = "serials.json"

// Cursor tracks the changelog feed position.
//
// Lowest is the highest serial already folded into an artifact; it is
// monotonically non-decreasing across runs. Highest is the remote's
// last known serial as of the current run.
type Cursor struct {
	Lowest  int64 `json:"lowest"`
	Highest int64 `json:"highest"`
}

// Map records the last fully-synced serial per lowercase package name.
// The domain only ever grows; a value changes only when its package
// completed a sync.
type Map map[string]int64

// CorruptStateError reports a checkpoint file that exists but cannot be
// parsed. Fatal at startup.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt checkpoint state in %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// IsCorruptState reports whether err is (or wraps) a CorruptStateError.
func IsCorruptState(err error) bool {
	var ce *CorruptStateError
	return errors.As(err, &ce)
}

// LoadCursor reads a changelog cursor from path.
// An absent file yields the zero cursor.
func LoadCursor(path string) (Cursor, error) {
	var cur Cursor
	if err := load(path, &cur); err != nil {
		return Cursor{}, err
	}
	return cur, nil
}

// SaveCursor atomically persists the cursor to path.
func SaveCursor(path string, cur Cursor) error {
	return save(path, cur)
}

// LoadMap reads a package checkpoint map from path.
// An absent file yields an empty, non-nil map.
func LoadMap(path string) (Map, error) {
	m := make(Map)
	if err := load(path, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveMap atomically persists the map to path.
func SaveMap(path string, m Map) error {
	return save(path, m)
}

func load(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint state: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &CorruptStateError{Path: path, Err: err}
	}
	return nil
}

// save serializes deterministically (encoding/json emits map keys in
// sorted order) and writes through the atomic helper so a crash never
// leaves a torn state file.
func save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("persist checkpoint state to %s: %w", path, err)
	}
	return nil
}
