// Package testutil provides test doubles shared by the sync engine
// test suites.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/mirrorops/pkgmirror/internal/registry"
)

// Client is a scriptable registry.Client double.
//
// Each method delegates to the corresponding func field when set;
// unset fields fall back to the canned data (Serial, Items, Versions,
// Details). Call counts are tracked per method and safe for concurrent
// use, so tests can assert on fetch traffic under the worker pool.
type Client struct {
	LatestSerialFunc  func(ctx context.Context) (int64, error)
	ChangesSinceFunc  func(ctx context.Context, since int64) ([]registry.ChangeEvent, error)
	ListItemsFunc     func(ctx context.Context) (map[string]int64, error)
	ItemVersionsFunc  func(ctx context.Context, name string) ([]string, error)
	ReleaseDetailFunc func(ctx context.Context, name, version string) (map[string]any, error)

	// Canned data used when the corresponding func field is nil.
	Serial   int64
	Items    map[string]int64
	Versions map[string][]string       // package -> versions in upstream order
	Details  map[string]map[string]any // package "/" version -> blob

	mu    sync.Mutex
	calls map[string]int
}

var _ registry.Client = (*Client)(nil)

func (c *Client) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[method]++
}

// Calls returns how many times the named method was invoked.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// LatestSerial implements registry.Client.
func (c *Client) LatestSerial(ctx context.Context) (int64, error) {
	c.record("LatestSerial")
	if c.LatestSerialFunc != nil {
		return c.LatestSerialFunc(ctx)
	}
	return c.Serial, nil
}

// ChangesSince implements registry.Client.
func (c *Client) ChangesSince(ctx context.Context, since int64) ([]registry.ChangeEvent, error) {
	c.record("ChangesSince")
	if c.ChangesSinceFunc != nil {
		return c.ChangesSinceFunc(ctx, since)
	}
	return nil, nil
}

// ListItems implements registry.Client.
func (c *Client) ListItems(ctx context.Context) (map[string]int64, error) {
	c.record("ListItems")
	if c.ListItemsFunc != nil {
		return c.ListItemsFunc(ctx)
	}
	return c.Items, nil
}

// ItemVersions implements registry.Client.
func (c *Client) ItemVersions(ctx context.Context, name string) ([]string, error) {
	c.record("ItemVersions")
	if c.ItemVersionsFunc != nil {
		return c.ItemVersionsFunc(ctx, name)
	}
	versions, ok := c.Versions[name]
	if !ok {
		return nil, &registry.NotFoundError{URL: "testutil://" + name}
	}
	return versions, nil
}

// ReleaseDetail implements registry.Client.
func (c *Client) ReleaseDetail(ctx context.Context, name, version string) (map[string]any, error) {
	c.record("ReleaseDetail")
	if c.ReleaseDetailFunc != nil {
		return c.ReleaseDetailFunc(ctx, name, version)
	}
	detail, ok := c.Details[name+"/"+version]
	if !ok {
		return nil, &registry.NotFoundError{URL: "testutil://" + name + "/" + version}
	}
	return detail, nil
}

// Event builds a ChangeEvent with a fixed timestamp derived from the
// serial, keeping test fixtures deterministic.
func Event(name, version, action string, serial int64) registry.ChangeEvent {
	return registry.ChangeEvent{
		Name:      name,
		Version:   version,
		Action:    action,
		Timestamp: time.Unix(1_700_000_000+serial, 0).UTC(),
		Serial:    serial,
	}
}

// Detail builds a release detail blob with an info block holding the
// given description.
func Detail(version, description string) map[string]any {
	return map[string]any{
		"info": map[string]any{
			"version":     version,
			"description": description,
		},
	}
}
