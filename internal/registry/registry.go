// Package registry provides the client for the remote package registry.
//
// The registry exposes two operation groups: an append-only changelog feed
// (every mutation to the catalog is assigned a strictly increasing serial)
// and a package/release detail API. The Client interface is the capability
// injected into the sync engines; production code uses HTTPClient, tests
// use doubles from internal/testutil.
package registry

import (
	"context"
	"time"
)

// ChangeEvent is a single entry in the registry's changelog feed.
// Serial is assigned by the remote source and is immutable once emitted.
type ChangeEvent struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Serial    int64     `json:"serial"`
}

// Client is the capability over the remote registry used by the sync
// engines. Implementations must be safe for concurrent use; the catalog
// engine calls ItemVersions and ReleaseDetail from multiple workers.
type Client interface {
	// LatestSerial returns the highest changelog serial known to the
	// remote source.
	LatestSerial(ctx context.Context) (int64, error)

	// ChangesSince returns changelog events with serial > since, in feed
	// order. An empty slice means the feed is exhausted past that point.
	ChangesSince(ctx context.Context, since int64) ([]ChangeEvent, error)

	// ListItems returns the full catalog snapshot: package name to the
	// serial of its last change.
	ListItems(ctx context.Context) (map[string]int64, error)

	// ItemVersions returns the package's release versions in upstream
	// declaration order. Returns a NotFoundError if the package has no
	// detail record at all.
	ItemVersions(ctx context.Context, name string) ([]string, error)

	// ReleaseDetail returns the detail blob for a single release.
	// Returns a NotFoundError when the release is not (yet) visible.
	ReleaseDetail(ctx context.Context, name, version string) (map[string]any, error)
}
