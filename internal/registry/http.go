package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mirrorops/pkgmirror/internal/httpcache"
)

// DefaultMaxAttempts is the total number of tries per request before a
// FetchFailedError is returned.
const DefaultMaxAttempts = 5

// DefaultUserAgent identifies pkgmirror to the remote registry.
const DefaultUserAgent = "pkgmirror (https://github.com/mirrorops/pkgmirror)"

// HTTPClient implements Client over the registry's JSON API.
//
// A single HTTPClient is shared by all catalog workers; the underlying
// http.Client transport pools connections, so concurrent use is cheap.
// Detail responses can optionally be served from a sqlite response cache
// (see internal/httpcache); changelog and catalog-snapshot requests
// always hit the network since their payloads change between runs.
type HTTPClient struct {
	baseURL       string
	userAgent     string
	http          *http.Client
	cache         *httpcache.Cache
	maxAttempts   int
	retryInterval time.Duration
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *HTTPClient) {
		c.userAgent = ua
	}
}

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.http = h
	}
}

// WithCache routes detail requests through a response cache. Only
// successful bodies are cached; 404s and transient failures never are.
func WithCache(cache *httpcache.Cache) ClientOption {
	return func(c *HTTPClient) {
		c.cache = cache
	}
}

// WithMaxAttempts changes the retry budget per request.
// Values below 1 are clamped to 1.
func WithMaxAttempts(n int) ClientOption {
	return func(c *HTTPClient) {
		if n < 1 {
			n = 1
		}
		c.maxAttempts = n
	}
}

// WithRetryInterval sets the initial backoff interval between retries.
// The default is 500ms; tests use a short interval.
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryInterval = d
	}
}

// NewHTTPClient creates a client for the registry rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		userAgent:     DefaultUserAgent,
		http:          &http.Client{Timeout: 60 * time.Second},
		maxAttempts:   DefaultMaxAttempts,
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LatestSerial implements Client.
func (c *HTTPClient) LatestSerial(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, c.endpoint("changelog", "last-serial"), false)
	if err != nil {
		return 0, err
	}
	var payload struct {
		LastSerial int64 `json:"last_serial"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode last-serial response: %w", err)
	}
	return payload.LastSerial, nil
}

// changeEventWire is the feed's wire form; timestamps arrive as Unix
// epoch seconds.
type changeEventWire struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
	Serial    int64  `json:"serial"`
}

// ChangesSince implements Client.
func (c *HTTPClient) ChangesSince(ctx context.Context, since int64) ([]ChangeEvent, error) {
	body, err := c.get(ctx, c.endpoint("changelog", "since", fmt.Sprintf("%d", since)), false)
	if err != nil {
		return nil, err
	}
	var wire []changeEventWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode changelog response: %w", err)
	}
	events := make([]ChangeEvent, len(wire))
	for i, w := range wire {
		events[i] = ChangeEvent{
			Name:      w.Name,
			Version:   w.Version,
			Action:    w.Action,
			Timestamp: time.Unix(w.Timestamp, 0).UTC(),
			Serial:    w.Serial,
		}
	}
	return events, nil
}

// ListItems implements Client.
func (c *HTTPClient) ListItems(ctx context.Context) (map[string]int64, error) {
	body, err := c.get(ctx, c.endpoint("packages", "serials"), false)
	if err != nil {
		return nil, err
	}
	items := make(map[string]int64)
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode package serials response: %w", err)
	}
	return items, nil
}

// ItemVersions implements Client.
//
// The registry publishes the version set as a JSON object; its key order
// follows upstream declaration order and is load-bearing for the merger's
// description-stripping rule, so the keys are read in document order
// instead of decoding into a Go map.
func (c *HTTPClient) ItemVersions(ctx context.Context, name string) ([]string, error) {
	body, err := c.get(ctx, c.endpoint("packages", name, "json"), true)
	if err != nil {
		return nil, err
	}
	versions, err := versionsInOrder(body)
	if err != nil {
		return nil, fmt.Errorf("decode detail for %s: %w", name, err)
	}
	return versions, nil
}

// ReleaseDetail implements Client.
func (c *HTTPClient) ReleaseDetail(ctx context.Context, name, version string) (map[string]any, error) {
	body, err := c.get(ctx, c.endpoint("packages", name, version, "json"), true)
	if err != nil {
		return nil, err
	}
	detail := make(map[string]any)
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("decode release detail for %s %s: %w", name, version, err)
	}
	return detail, nil
}

// endpoint joins path segments onto the base URL with escaping.
func (c *HTTPClient) endpoint(segments ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// get fetches a URL with retry/backoff, consulting the response cache
// first when cacheable is set.
func (c *HTTPClient) get(ctx context.Context, u string, cacheable bool) ([]byte, error) {
	if cacheable && c.cache != nil {
		body, ok, err := c.cache.Get(ctx, u)
		if err != nil {
			// Cache faults degrade to the network, never abort a fetch.
			slog.Warn("response cache read failed", "url", u, "error", err)
		} else if ok {
			return body, nil
		}
	}

	var body []byte
	op := func() error {
		b, err := c.fetchOnce(ctx, u)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		body = b
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInterval
	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(c.maxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if IsTransient(err) {
			return nil, &FetchFailedError{URL: u, Attempts: c.maxAttempts, Err: err}
		}
		return nil, err
	}

	if cacheable && c.cache != nil {
		if err := c.cache.Put(ctx, u, body); err != nil {
			slog.Warn("response cache write failed", "url", u, "error", err)
		}
	}
	return body, nil
}

// fetchOnce performs a single GET and classifies the outcome into the
// client's error taxonomy.
func (c *HTTPClient) fetchOnce(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", u, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, &NotFoundError{URL: u}
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, &TransientError{URL: u, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, u)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{URL: u, Err: err}
	}
	return body, nil
}

// versionsInOrder extracts the keys of the top-level "releases" object
// in document order.
func versionsInOrder(body []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("detail payload is not a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)

		if key != "releases" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}

		open, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if d, ok := open.(json.Delim); !ok || d != '{' {
			return nil, fmt.Errorf("releases is not a JSON object")
		}

		var versions []string
		for dec.More() {
			vTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			version, _ := vTok.(string)
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			versions = append(versions, version)
		}
		return versions, nil
	}

	return nil, fmt.Errorf("detail payload has no releases object")
}
