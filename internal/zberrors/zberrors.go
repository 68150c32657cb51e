// Package zberrors defines the typed error taxonomy shared across zb's
// pipeline stages. Each error is a distinct struct rather than a sentinel so
// that callers can recover structured context (a formula name, a path, an
// expected checksum) via errors.As.
package zberrors

import "fmt"

// FormulaNotFound is returned when a formula name has no entry in the
// Homebrew API, or a dependency name does not resolve during DFS.
type FormulaNotFound struct {
	Name string
}

func (e *FormulaNotFound) Error() string {
	return fmt.Sprintf("formula not found: %s", e.Name)
}

// CyclicDependency is returned when the dependency resolver's DFS finds a
// back edge. Path records the cycle in traversal order, starting and ending
// at the repeated name.
type CyclicDependency struct {
	Path []string
}

func (e *CyclicDependency) Error() string {
	return fmt.Sprintf("cyclic dependency: %v", e.Path)
}

// InvalidIdentifier is returned when a formula name fails validation before
// any network call is attempted.
type InvalidIdentifier struct {
	Name   string
	Reason string
}

func (e *InvalidIdentifier) Error() string {
	return fmt.Sprintf("invalid formula name %q: %s", e.Name, e.Reason)
}

// UnsupportedBottle is returned when no bottle entry matches any platform
// tag the host accepts.
type UnsupportedBottle struct {
	Name     string
	Platform string
}

func (e *UnsupportedBottle) Error() string {
	return fmt.Sprintf("%s: no bottle for platform %s", e.Name, e.Platform)
}

// NetworkError wraps a transport-level failure (dial, timeout, connection
// reset) after retries are exhausted.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ApiHttpError is returned for a non-2xx/304/404 response from the formula
// API after retries are exhausted.
type ApiHttpError struct {
	URL        string
	StatusCode int
}

func (e *ApiHttpError) Error() string {
	return fmt.Sprintf("api request to %s failed: status %d", e.URL, e.StatusCode)
}

// ChecksumMismatch is returned when a downloaded blob's sha256 does not
// match the formula's expected digest, after the one permitted retry.
type ChecksumMismatch struct {
	URL      string
	Expected string
	Actual   string
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// UnsafeArchive is returned when an archive entry would escape the
// extraction destination: an absolute path, a ".." component, or a
// symlink/hardlink target that resolves outside the destination.
type UnsafeArchive struct {
	Entry  string
	Reason string
}

func (e *UnsafeArchive) Error() string {
	return fmt.Sprintf("unsafe archive entry %q: %s", e.Entry, e.Reason)
}

// IoError wraps a filesystem operation failure (permission, disk full,
// unexpected entry type) encountered outside the archive-safety checks.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// LinkConflict is returned when the linker finds something at the
// destination path that isn't a symlink it manages: a real file, a
// directory, or a symlink pointing outside the store.
type LinkConflict struct {
	Path     string
	Existing string
}

func (e *LinkConflict) Error() string {
	return fmt.Sprintf("link conflict at %s: existing target %s", e.Path, e.Existing)
}

// PermissionDenied wraps an access-denied filesystem failure where the
// caller benefits from knowing which path and operation failed.
type PermissionDenied struct {
	Op   string
	Path string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: %s %s", e.Op, e.Path)
}

// StorageCorrupt is returned when the metadata store's on-disk state fails
// a consistency check the schema did not anticipate.
type StorageCorrupt struct {
	Detail string
}

func (e *StorageCorrupt) Error() string {
	return fmt.Sprintf("metadata store corrupt: %s", e.Detail)
}

// BusyTimeout is returned when a writer could not obtain the metadata
// store's exclusive lock within the configured timeout.
type BusyTimeout struct {
	Op string
}

func (e *BusyTimeout) Error() string {
	return fmt.Sprintf("timed out waiting for metadata store lock: %s", e.Op)
}

// MigrationFailed is returned when a forward-only schema migration fails
// partway through.
type MigrationFailed struct {
	FromVersion int
	ToVersion   int
	Err         error
}

func (e *MigrationFailed) Error() string {
	return fmt.Sprintf("migration %d -> %d failed: %v", e.FromVersion, e.ToVersion, e.Err)
}

func (e *MigrationFailed) Unwrap() error { return e.Err }

// PartialInstall is returned by Doctor when an InstalledKeg row references
// a store entry that no longer exists, has no link records, or has a
// recorded link that is missing or repointed.
type PartialInstall struct {
	Name   string
	Detail string
}

func (e *PartialInstall) Error() string {
	return fmt.Sprintf("partial install of %s: %s", e.Name, e.Detail)
}
