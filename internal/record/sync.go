package record

import (
	"context"
	"log/slog"

	"github.com/mirrorops/pkgmirror/internal/registry"
)

// malformedVersion is a known-bad upstream artifact: at least one
// package has published a release whose version string is literally
// "..". It is never fetched and never appears in merged output.
const malformedVersion = ".."

// ItemResult is the outcome of one package's sync.
//
// Skipped means the fetch was incomplete and the caller must not
// advance the package's checkpoint; everything fetched this run is
// discarded. NotFound is not a failure: a package absent from the
// detail API still advances its checkpoint, since absence is itself
// the synced state.
type ItemResult struct {
	Name     string // normalized package name
	Serial   int64  // remote marker the sync was attempted against
	NotFound bool
	Releases int // versions listed upstream, including malformed ones
	Modified bool
	New      bool
	Skipped  bool
	Err      error // cause when Skipped was due to a failure
}

// SyncItem fetches every release of one package and merges the result
// into the on-disk record.
//
// If any single release returns not-found, the remote has data not yet
// visible at per-version granularity; the whole item is skipped so a
// future run retries it with a complete view. Versions already on disk
// from prior runs are left untouched in that case.
func SyncItem(ctx context.Context, client registry.Client, dir, name string, serial int64) ItemResult {
	res := ItemResult{Name: NormalizeName(name), Serial: serial}

	versions, err := client.ItemVersions(ctx, name)
	if registry.IsNotFound(err) {
		res.NotFound = true
		return res
	}
	if err != nil {
		res.Skipped = true
		res.Err = err
		return res
	}
	res.Releases = len(versions)

	fetched := make(Record, len(versions))
	order := make([]string, 0, len(versions))
	for _, version := range versions {
		if version == malformedVersion {
			continue
		}

		detail, err := client.ReleaseDetail(ctx, name, version)
		if registry.IsNotFound(err) {
			slog.Debug("release not yet visible, skipping package",
				"package", res.Name,
				"version", version,
			)
			res.Skipped = true
			return res
		}
		if err != nil {
			res.Skipped = true
			res.Err = err
			return res
		}

		fetched[version] = detail
		order = append(order, version)
	}

	StripDescriptions(fetched, order)

	existing, existed, err := Load(dir, res.Name)
	if err != nil {
		res.Skipped = true
		res.Err = err
		return res
	}
	res.Modified = existed

	if err := Write(dir, res.Name, Merge(existing, fetched)); err != nil {
		res.Modified = false
		res.Skipped = true
		res.Err = err
		return res
	}

	res.New = !existed
	return res
}
