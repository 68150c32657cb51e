// Package apiclient fetches formula metadata from the Homebrew formulae
// JSON API, with conditional-GET caching, single-flight deduplication, and
// bounded retry on transient failure.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zb-pm/zb/internal/log"
	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/zberrors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/singleflight"
)

// maxResponseSize bounds a single formula document; Homebrew's are
// typically a few KB each.
const maxResponseSize = 1 * 1024 * 1024

// retryAttempts is the number of requests issued (including the first) for
// a 5xx response or connection error before giving up.
const retryAttempts = 3

// CacheStore persists conditional-GET metadata so repeat requests can send
// If-None-Match / If-Modified-Since and skip re-downloading unchanged
// formula documents.
type CacheStore interface {
	Get(ctx context.Context, url string) (model.HttpCacheEntry, bool, error)
	Put(ctx context.Context, entry model.HttpCacheEntry) error
}

// Client fetches and parses Homebrew formula documents.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      CacheStore
	group      singleflight.Group
	logger     log.Logger
}

// New returns a Client that queries baseURL (e.g. "https://formulae.brew.sh")
// for formula documents, using httpClient for transport and cache for
// conditional-GET state.
func New(httpClient *http.Client, baseURL string, cache CacheStore, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/"), cache: cache, logger: logger}
}

// formulaDoc mirrors the subset of formulae.brew.sh's per-formula JSON
// document zb needs: version, revision, dependency list, and the bottle
// map keyed by platform tag.
type formulaDoc struct {
	Name         string   `json:"name"`
	Dependencies []string `json:"dependencies"`
	Revision     int      `json:"revision"`
	Versions     struct {
		Stable string `json:"stable"`
	} `json:"versions"`
	Bottle struct {
		Stable struct {
			Rebuild int `json:"rebuild"`
			Files   map[string]struct {
				URL    string `json:"url"`
				SHA256 string `json:"sha256"`
			} `json:"files"`
		} `json:"stable"`
	} `json:"bottle"`
}

func (d formulaDoc) toModel() model.Formula {
	bottles := make(map[string]model.BottleFile, len(d.Bottle.Stable.Files))
	for tag, f := range d.Bottle.Stable.Files {
		bottles[tag] = model.BottleFile{URL: f.URL, SHA256: f.SHA256, Rebuild: d.Bottle.Stable.Rebuild}
	}
	return model.Formula{
		Name:         d.Name,
		Version:      d.Versions.Stable,
		Revision:     d.Revision,
		Dependencies: d.Dependencies,
		Bottles:      bottles,
	}
}

// isValidFormulaName rejects names that could escape the API path:
// lowercase letters, digits, hyphen, underscore, @, dot only, no ".." or
// path separators, no leading hyphen, capped length.
func isValidFormulaName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	if strings.Contains(name, "..") || strings.Contains(name, "/") ||
		strings.Contains(name, "\\") || strings.HasPrefix(name, "-") {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '@' || c == '.') {
			return false
		}
	}
	return true
}

// GetFormula fetches and parses a formula's metadata. Before paying for a
// full json.Decode into formulaDoc, it checks the two fields the response
// must have with a cheap gjson lookup, so a malformed or unexpected body
// (an HTML error page behind a misconfigured proxy, say) fails fast with a
// clear message instead of a generic unmarshal error.
func (c *Client) GetFormula(ctx context.Context, name string) (model.Formula, error) {
	body, err := c.GetFormulaRaw(ctx, name)
	if err != nil {
		return model.Formula{}, err
	}

	if !gjson.GetBytes(body, "name").Exists() || !gjson.GetBytes(body, "bottle.stable").Exists() {
		return model.Formula{}, fmt.Errorf("parsing formula %s: response missing name or bottle.stable", name)
	}

	limited := io.LimitReader(strings.NewReader(string(body)), maxResponseSize)
	var doc formulaDoc
	if err := json.NewDecoder(limited).Decode(&doc); err != nil {
		return model.Formula{}, fmt.Errorf("parsing formula %s: %w", name, err)
	}
	return doc.toModel(), nil
}

// GetFormulaRaw fetches a formula document's raw bytes, using the cache and
// single-flight deduplication keyed by URL. Concurrent callers requesting
// the same name converge on one in-flight request.
func (c *Client) GetFormulaRaw(ctx context.Context, name string) ([]byte, error) {
	if !isValidFormulaName(name) {
		return nil, &zberrors.InvalidIdentifier{Name: name, Reason: "contains disallowed characters"}
	}

	apiURL := c.baseURL + "/api/formula/" + url.PathEscape(name) + ".json"

	v, err, _ := c.group.Do(apiURL, func() (any, error) {
		return c.fetch(ctx, name, apiURL)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) fetch(ctx context.Context, name, apiURL string) ([]byte, error) {
	var cached model.HttpCacheEntry
	var haveCached bool
	if c.cache != nil {
		entry, ok, err := c.cache.Get(ctx, apiURL)
		if err == nil && ok {
			cached, haveCached = entry, true
		}
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		body, status, err := c.doRequest(ctx, apiURL, cached, haveCached)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case status == http.StatusNotFound:
			return nil, &zberrors.FormulaNotFound{Name: name}
		case status == http.StatusNotModified && haveCached:
			c.refreshCacheTimestamp(ctx, apiURL, cached)
			return cached.Body, nil
		case status >= 200 && status < 300:
			return body, nil
		case status >= 500:
			lastErr = &zberrors.ApiHttpError{URL: apiURL, StatusCode: status}
			continue
		default:
			return nil, &zberrors.ApiHttpError{URL: apiURL, StatusCode: status}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("exhausted retries fetching %s", apiURL)
	}
	return nil, &zberrors.NetworkError{URL: apiURL, Err: lastErr}
}

// refreshCacheTimestamp bumps a 304 response's cache entry forward in time
// without decoding and re-encoding its body: it patches a sidecar
// "_zb_cached_at" field into the stored JSON via sjson and writes that back,
// a cheaper round trip than json.Unmarshal into formulaDoc followed by
// json.Marshal just to touch one unrelated timestamp. The extra field is
// invisible to GetFormula's decode, since encoding/json ignores unknown
// keys.
func (c *Client) refreshCacheTimestamp(ctx context.Context, apiURL string, cached model.HttpCacheEntry) {
	if c.cache == nil {
		return
	}
	refreshed, err := sjson.SetBytes(cached.Body, "_zb_cached_at", time.Now().Unix())
	if err != nil {
		c.logger.Warn("apiclient: failed to refresh cache timestamp", "url", apiURL, "error", err)
		return
	}
	cached.Body = refreshed
	cached.CachedAt = time.Now()
	if err := c.cache.Put(ctx, cached); err != nil {
		c.logger.Warn("apiclient: failed to persist refreshed cache entry", "url", apiURL, "error", err)
	}
}

// doRequest issues one conditional GET and returns the response body and
// the status code. On 2xx it writes a fresh cache entry carrying the
// response's etag/last-modified; on 304 it leaves the existing entry alone.
func (c *Client) doRequest(ctx context.Context, apiURL string, cached model.HttpCacheEntry, haveCached bool) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if haveCached {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && c.cache != nil {
		entry := model.HttpCacheEntry{
			URL:          apiURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			CachedAt:     time.Now(),
		}
		if err := c.cache.Put(ctx, entry); err != nil {
			c.logger.Warn("apiclient: failed to persist cache entry", "url", apiURL, "error", err)
		}
	}

	return body, resp.StatusCode, nil
}
