// Package errmsg provides enhanced error message formatting with actionable
// suggestions, dispatching on zb's own typed error taxonomy.
package errmsg

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/zb-pm/zb/internal/zberrors"
)

// ErrorContext provides additional context for error formatting.
type ErrorContext struct {
	FormulaName string // the formula being operated on, for suggestions
}

// Format returns a formatted error message with possible causes and
// suggestions. ctx is optional - pass nil for generic formatting.
func Format(err error, ctx *ErrorContext) string {
	if err == nil {
		return ""
	}

	var formulaNotFound *zberrors.FormulaNotFound
	if errors.As(err, &formulaNotFound) {
		return formatFormulaNotFound(formulaNotFound, ctx)
	}

	var cyclic *zberrors.CyclicDependency
	if errors.As(err, &cyclic) {
		return formatCyclicDependency(cyclic)
	}

	var invalid *zberrors.InvalidIdentifier
	if errors.As(err, &invalid) {
		return formatInvalidIdentifier(invalid)
	}

	var unsupported *zberrors.UnsupportedBottle
	if errors.As(err, &unsupported) {
		return formatUnsupportedBottle(unsupported)
	}

	var netErr *zberrors.NetworkError
	if errors.As(err, &netErr) {
		return formatNetworkError(netErr)
	}

	var apiErr *zberrors.ApiHttpError
	if errors.As(err, &apiErr) {
		return formatApiHttpError(apiErr)
	}

	var checksum *zberrors.ChecksumMismatch
	if errors.As(err, &checksum) {
		return formatChecksumMismatch(checksum)
	}

	var unsafe *zberrors.UnsafeArchive
	if errors.As(err, &unsafe) {
		return formatUnsafeArchive(unsafe)
	}

	var linkConflict *zberrors.LinkConflict
	if errors.As(err, &linkConflict) {
		return formatLinkConflict(linkConflict)
	}

	var permDenied *zberrors.PermissionDenied
	if errors.As(err, &permDenied) {
		return formatPermissionDenied(permDenied)
	}

	var corrupt *zberrors.StorageCorrupt
	if errors.As(err, &corrupt) {
		return formatStorageCorrupt(corrupt)
	}

	var busy *zberrors.BusyTimeout
	if errors.As(err, &busy) {
		return formatBusyTimeout(busy)
	}

	var migration *zberrors.MigrationFailed
	if errors.As(err, &migration) {
		return formatMigrationFailed(migration)
	}

	var partial *zberrors.PartialInstall
	if errors.As(err, &partial) {
		return formatPartialInstall(partial)
	}

	// Fall back to a plain net.Error check for anything that escaped
	// apiclient/blobcache without being wrapped in NetworkError.
	var genericNet net.Error
	if errors.As(err, &genericNet) {
		return formatGenericNetworkError(genericNet)
	}

	return err.Error()
}

func formatFormulaNotFound(err *zberrors.FormulaNotFound, ctx *ErrorContext) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - Typo in the formula name\n")
	sb.WriteString("  - Formula has been removed or renamed upstream\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check the spelling of the formula name\n")
	sb.WriteString("  - Run 'zb search " + err.Name + "' to find similar formulae\n")
	return sb.String()
}

func formatCyclicDependency(err *zberrors.CyclicDependency) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - The formula's dependency metadata contains a cycle\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Report the cycle to the formula's maintainers\n")
	return sb.String()
}

func formatInvalidIdentifier(err *zberrors.InvalidIdentifier) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nSuggestions:\n")
	sb.WriteString("  - Formula names are lowercase letters, digits, '-', '_', '.', and '@' only\n")
	return sb.String()
}

func formatUnsupportedBottle(err *zberrors.UnsupportedBottle) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - No prebuilt bottle is published for this platform\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check whether a newer formula revision adds this platform\n")
	return sb.String()
}

func formatNetworkError(err *zberrors.NetworkError) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - Network connectivity issue\n")
	sb.WriteString("  - DNS resolution failure\n")
	sb.WriteString("  - Service temporarily unavailable\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check your internet connection\n")
	sb.WriteString("  - Try again in a few minutes\n")
	return sb.String()
}

func formatGenericNetworkError(err net.Error) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	if err.Timeout() {
		sb.WriteString("  - Request timed out\n")
	} else {
		sb.WriteString("  - Network connectivity issue\n")
	}
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check your internet connection\n")
	sb.WriteString("  - Try again in a few minutes\n")
	return sb.String()
}

func formatApiHttpError(err *zberrors.ApiHttpError) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	if err.StatusCode == 429 {
		sb.WriteString("  - Too many requests to the formulae API\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Wait a few minutes before retrying\n")
	} else {
		sb.WriteString("  - formulae.brew.sh returned an unexpected status\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Try again in a few minutes\n")
	}
	return sb.String()
}

func formatChecksumMismatch(err *zberrors.ChecksumMismatch) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - The download was corrupted in transit\n")
	sb.WriteString("  - The bottle was served from a stale CDN edge\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Retry the install; zb does not cache a failed download\n")
	return sb.String()
}

func formatUnsafeArchive(err *zberrors.UnsafeArchive) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - The bottle archive is malformed or has been tampered with\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Report this to zb's issue tracker with the formula name\n")
	return sb.String()
}

func formatLinkConflict(err *zberrors.LinkConflict) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - A file not managed by zb already exists at this path\n")
	sb.WriteString("  - Another package provides the same file\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Move or remove the conflicting file and reinstall\n")
	return sb.String()
}

func formatPermissionDenied(err *zberrors.PermissionDenied) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - Insufficient permissions on the zb prefix\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check ownership of $ZB_PREFIX: ls -la $ZB_PREFIX\n")
	return sb.String()
}

func formatStorageCorrupt(err *zberrors.StorageCorrupt) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - The metadata database was modified outside of zb\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Run 'zb doctor' to see which installs are affected\n")
	return sb.String()
}

func formatBusyTimeout(err *zberrors.BusyTimeout) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - Another zb process is currently writing to the metadata store\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Wait for the other zb invocation to finish and retry\n")
	return sb.String()
}

func formatMigrationFailed(err *zberrors.MigrationFailed) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - The metadata database was created by an incompatible zb version\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString(fmt.Sprintf("  - Back up and remove the database to start fresh: version %d could not reach %d\n", err.FromVersion, err.ToVersion))
	return sb.String()
}

func formatPartialInstall(err *zberrors.PartialInstall) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - Files under the zb prefix were modified or deleted outside of zb\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString(fmt.Sprintf("  - Run 'zb reinstall %s' to repair it\n", err.Name))
	return sb.String()
}
