// Package record stores per-package release records and implements the
// merge policy applied when freshly fetched releases meet an existing
// on-disk record.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/mirrorops/pkgmirror/internal/fsutil"
)

// Record maps a version string to that release's detail blob.
type Record map[string]map[string]any

// NormalizeName canonicalizes a package name for local storage: NFC
// normalization followed by lowercasing. The registry treats names
// case-insensitively, so distinct remote spellings map to one record.
func NormalizeName(name string) string {
	return strings.ToLower(norm.NFC.String(name))
}

// ShardPath returns the directory components a record is filed under.
// Records shard by the first two characters of the normalized name to
// bound directory fan-out; single-character names get their own
// one-level directory.
func ShardPath(name string) []string {
	runes := []rune(name)
	if len(runes) <= 1 {
		return []string{name}
	}
	return []string{string(runes[0]), string(runes[1])}
}

// Path returns the record file location for a normalized package name.
func Path(dir, name string) string {
	parts := append([]string{dir}, ShardPath(name)...)
	parts = append(parts, name+".json")
	return filepath.Join(parts...)
}

// Merge folds freshly fetched releases into an existing record.
//
// Fetched versions overwrite same-named existing entries; versions not
// re-fetched this run are preserved untouched. Merging never drops a
// version key, which is what makes a re-run after a partial failure
// safe.
func Merge(existing, fetched Record) Record {
	merged := make(Record, len(existing)+len(fetched))
	for version, detail := range existing {
		merged[version] = detail
	}
	for version, detail := range fetched {
		merged[version] = detail
	}
	return merged
}

// StripDescriptions removes the free-text description field from every
// fetched release except the most recently iterated one. Descriptions
// are large and heavily repeated across releases; keeping only the
// latest bounds storage growth.
//
// order lists the fetched versions in upstream iteration order; the
// last entry keeps its description. Deterministic regardless of the
// order the details were actually fetched in.
func StripDescriptions(fetched Record, order []string) {
	for i, version := range order {
		if i == len(order)-1 {
			continue
		}
		detail := fetched[version]
		info, ok := detail["info"].(map[string]any)
		if !ok {
			continue
		}
		delete(info, "description")
	}
}

// Load reads the record for a normalized package name. Returns an empty
// record and existed=false when no file is present.
func Load(dir, name string) (rec Record, existed bool, err error) {
	data, err := os.ReadFile(Path(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return make(Record), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read record for %s: %w", name, err)
	}
	rec = make(Record)
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("parse record for %s: %w", name, err)
	}
	return rec, true, nil
}

// Write persists a record under its sharded path, creating shard
// directories as needed. Serialization is deterministic (sorted keys,
// indented) and the write is atomic, so concurrent runs and crashes
// never leave a torn record.
func Write(dir, name string, rec Record) error {
	path := Path(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard directory for %s: %w", name, err)
	}

	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("encode record for %s: %w", name, err)
	}
	data = append(data, '\n')

	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write record for %s: %w", name, err)
	}
	return nil
}
