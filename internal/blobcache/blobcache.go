// Package blobcache downloads bottle archives into a content-addressable
// local cache keyed by sha256, deduplicating concurrent fetches of the same
// digest and verifying content before it becomes visible to callers.
package blobcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zb-pm/zb/internal/filelock"
	"github.com/zb-pm/zb/internal/log"
	"github.com/zb-pm/zb/internal/zberrors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// defaultMaxInFlight bounds how many blobs may download concurrently by default,
// matching the install pipeline's download pool size.
const defaultMaxInFlight = 20

// downloadAttempts is the number of requests issued (including the first)
// for a transient network error before giving up on one download. A
// checksum mismatch is retried only once; a second mismatch is terminal.
const downloadAttempts = 3

// Cache fetches bottle archives into <dir>/blobs/<sha256>.tar.gz, locking
// per-digest and deduplicating concurrent requests for the same content.
type Cache struct {
	dir        string
	httpClient *http.Client
	logger     log.Logger
	group      singleflight.Group
	sem        *semaphore.Weighted
}

// New returns a Cache rooted at dir, which must contain (or will have
// created under it) blobs/ and tmp/ subdirectories. maxInFlight caps
// concurrent downloads; 0 uses the default of 20.
func New(dir string, httpClient *http.Client, maxInFlight int, logger log.Logger) *Cache {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		dir:        dir,
		httpClient: httpClient,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(maxInFlight)),
	}
}

func (c *Cache) blobPath(sha256Hex string) string {
	return filepath.Join(c.dir, "blobs", sha256Hex+".tar.gz")
}

func (c *Cache) lockPath(sha256Hex string) string {
	return filepath.Join(c.dir, "tmp", sha256Hex+".lock")
}

// Fetch downloads url if needed and returns the local path to a file whose
// contents hash to expectedSHA256. Idempotent: if the blob already exists
// it is returned without a network request. Deduplicates concurrent
// requests for the same sha256 within this process; a per-digest file lock
// provides best-effort deduplication across processes.
func (c *Cache) Fetch(ctx context.Context, url, expectedSHA256 string) (string, error) {
	v, err, _ := c.group.Do(expectedSHA256, func() (any, error) {
		return c.fetchLocked(ctx, url, expectedSHA256)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) fetchLocked(ctx context.Context, url, expectedSHA256 string) (string, error) {
	dest := c.blobPath(expectedSHA256)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	lock, err := filelock.Acquire(c.lockPath(expectedSHA256))
	if err != nil {
		return "", &zberrors.IoError{Op: "lock", Path: c.lockPath(expectedSHA256), Err: err}
	}
	defer lock.Unlock()

	// Re-check now that we hold the lock: another process may have
	// finished the download while we waited.
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	var lastErr error
	mismatches := 0
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < downloadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}

		err := c.download(ctx, url, expectedSHA256, dest)
		if err == nil {
			return dest, nil
		}
		lastErr = err

		switch {
		case isChecksumMismatch(err):
			mismatches++
			if mismatches > 1 {
				return "", err
			}
			c.logger.Warn("blobcache: checksum mismatch, retrying", "url", url, "attempt", attempt)
		case isNetworkError(err):
			c.logger.Warn("blobcache: network error, retrying", "url", url, "attempt", attempt, "error", err)
		default:
			return "", err
		}
	}
	return "", lastErr
}

func isChecksumMismatch(err error) bool {
	_, ok := err.(*zberrors.ChecksumMismatch)
	return ok
}

func isNetworkError(err error) bool {
	_, ok := err.(*zberrors.NetworkError)
	return ok
}

func (c *Cache) download(ctx context.Context, url, expectedSHA256, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &zberrors.NetworkError{URL: url, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &zberrors.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &zberrors.ApiHttpError{URL: url, StatusCode: resp.StatusCode}
	}

	tmpPath := filepath.Join(c.dir, "tmp", expectedSHA256+"-"+uuid.NewString())
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &zberrors.IoError{Op: "create", Path: tmpPath, Err: err}
	}
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	writer := io.MultiWriter(tmpFile, hasher)
	if _, err := io.Copy(writer, resp.Body); err != nil {
		tmpFile.Close()
		return &zberrors.IoError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		return &zberrors.IoError{Op: "close", Path: tmpPath, Err: err}
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expectedSHA256 {
		return &zberrors.ChecksumMismatch{URL: url, Expected: expectedSHA256, Actual: actual}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return &zberrors.IoError{Op: "rename", Path: dest, Err: err}
	}
	return nil
}

// FetchMany fetches a set of (url, sha256) pairs, bounded by the cache's
// in-flight semaphore, and returns local paths in input order. The first
// error encountered is returned once all in-flight fetches have settled.
func (c *Cache) FetchMany(ctx context.Context, items []FetchItem) ([]string, error) {
	paths := make([]string, len(items))
	errs := make([]error, len(items))

	done := make(chan int, len(items))
	for i, item := range items {
		i, item := i, item
		go func() {
			p, err := c.Fetch(ctx, item.URL, item.SHA256)
			paths[i] = p
			errs[i] = err
			done <- i
		}()
	}
	for range items {
		<-done
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// FetchItem is one (url, expected digest) pair for FetchMany.
type FetchItem struct {
	URL    string
	SHA256 string
}

// EnsureDirs creates the blobs/ and tmp/ subdirectories under dir.
func EnsureDirs(dir string) error {
	for _, sub := range []string{"blobs", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}
	return nil
}
