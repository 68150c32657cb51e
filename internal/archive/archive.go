// Package archive extracts bottle archives into a destination directory,
// rejecting any entry that would place a file outside of it. Bottles are
// ordinarily tar.gz, but the extractor accepts the full set of compressed
// tar formats Homebrew bottles and casks have used historically, plus zip.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	lzip "github.com/sorairolake/lzip-go"
	"github.com/ulikunitz/xz"
	"github.com/zb-pm/zb/internal/zberrors"
)

// Format identifies an archive's container and compression.
type Format int

const (
	FormatUnknown Format = iota
	FormatTarGz
	FormatTarXz
	FormatTarBz2
	FormatTarZst
	FormatTarLz
	FormatTar
	FormatZip
)

// DetectFormat infers a Format from an archive's filename.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"), strings.HasSuffix(lower, ".tbz"):
		return FormatTarBz2
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst
	case strings.HasSuffix(lower, ".tar.lz"), strings.HasSuffix(lower, ".tlz"):
		return FormatTarLz
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	default:
		return FormatUnknown
	}
}

// Extract streams archivePath into destPath, which must already exist.
// Every entry is checked for path/symlink escape before being written;
// the first unsafe entry aborts extraction with UnsafeArchive, leaving
// whatever was already written (the caller owns cleanup of a failed
// extraction directory, per the store's tmp-dir-then-rename discipline).
func Extract(archivePath, destPath string, format Format) error {
	if format == FormatUnknown {
		format = DetectFormat(archivePath)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return &zberrors.IoError{Op: "open", Path: archivePath, Err: err}
	}
	defer file.Close()

	switch format {
	case FormatTarGz:
		gzr, err := gzip.NewReader(file)
		if err != nil {
			return &zberrors.IoError{Op: "gzip", Path: archivePath, Err: err}
		}
		defer gzr.Close()
		return extractTar(tar.NewReader(gzr), destPath)

	case FormatTarXz:
		xzr, err := xz.NewReader(file)
		if err != nil {
			return &zberrors.IoError{Op: "xz", Path: archivePath, Err: err}
		}
		return extractTar(tar.NewReader(xzr), destPath)

	case FormatTarBz2:
		return extractTar(tar.NewReader(bzip2.NewReader(file)), destPath)

	case FormatTarZst:
		zr, err := zstd.NewReader(file)
		if err != nil {
			return &zberrors.IoError{Op: "zstd", Path: archivePath, Err: err}
		}
		defer zr.Close()
		return extractTar(tar.NewReader(zr), destPath)

	case FormatTarLz:
		lr, err := lzip.NewReader(file)
		if err != nil {
			return &zberrors.IoError{Op: "lzip", Path: archivePath, Err: err}
		}
		return extractTar(tar.NewReader(lr), destPath)

	case FormatTar:
		return extractTar(tar.NewReader(file), destPath)

	case FormatZip:
		return extractZip(archivePath, destPath)

	default:
		return fmt.Errorf("unrecognized archive format for %s", archivePath)
	}
}

// isPathWithinDirectory reports whether targetPath is basePath or a
// descendant of it, after resolving both to absolute form.
func isPathWithinDirectory(targetPath, basePath string) bool {
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}

// validateSymlinkTarget accepts an absolute symlink target as an opaque
// string resolved at run time rather than extraction time (Homebrew
// bottles legitimately contain absolute symlinks into the Cellar), but
// rejects any relative target whose resolution would land outside destPath.
func validateSymlinkTarget(linkTarget, linkLocation, destPath string) error {
	if filepath.IsAbs(linkTarget) {
		return nil
	}
	resolvedTarget := filepath.Join(filepath.Dir(linkLocation), linkTarget)
	if !isPathWithinDirectory(resolvedTarget, destPath) {
		return &zberrors.UnsafeArchive{
			Entry:  linkLocation,
			Reason: fmt.Sprintf("symlink target %q escapes destination", linkTarget),
		}
	}
	return nil
}

func extractTar(tr *tar.Reader, destPath string) error {
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &zberrors.IoError{Op: "read tar header", Path: destPath, Err: err}
		}

		cleanPath := strings.TrimPrefix(header.Name, "./")
		if cleanPath == "" || cleanPath == "." {
			continue
		}
		if filepath.IsAbs(cleanPath) || strings.Contains(cleanPath, "..") {
			return &zberrors.UnsafeArchive{Entry: header.Name, Reason: "absolute path or \"..\" component"}
		}

		target := filepath.Join(destPath, cleanPath)
		if !isPathWithinDirectory(target, destPath) {
			return &zberrors.UnsafeArchive{Entry: header.Name, Reason: "entry escapes destination directory"}
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &zberrors.IoError{Op: "mkdir", Path: target, Err: err}
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &zberrors.IoError{Op: "mkdir", Path: target, Err: err}
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return &zberrors.IoError{Op: "create", Path: target, Err: err}
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return &zberrors.IoError{Op: "write", Path: target, Err: err}
			}
			f.Close()

		case tar.TypeSymlink, tar.TypeLink:
			if err := validateSymlinkTarget(header.Linkname, target, destPath); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &zberrors.IoError{Op: "mkdir", Path: target, Err: err}
			}
			if err := atomicSymlink(header.Linkname, target); err != nil {
				return &zberrors.IoError{Op: "symlink", Path: target, Err: err}
			}

		default:
			// Devices, fifos, etc. have no place in a bottle archive; skip
			// rather than fail, matching Homebrew's own lenient unpacker.
		}
	}
}

// atomicSymlink creates a symlink via a temporary name plus rename, so a
// concurrent reader of target never observes a half-created link.
func atomicSymlink(target, linkPath string) error {
	tmpLink := linkPath + ".tmp"
	os.Remove(tmpLink)

	if err := os.Symlink(target, tmpLink); err != nil {
		return err
	}
	if err := os.Rename(tmpLink, linkPath); err != nil {
		os.Remove(tmpLink)
		return err
	}
	return nil
}

func extractZip(archivePath, destPath string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return &zberrors.IoError{Op: "open zip", Path: archivePath, Err: err}
	}
	defer r.Close()

	for _, f := range r.File {
		cleanPath := strings.TrimPrefix(f.Name, "./")
		if filepath.IsAbs(cleanPath) || strings.Contains(cleanPath, "..") {
			return &zberrors.UnsafeArchive{Entry: f.Name, Reason: "absolute path or \"..\" component"}
		}

		target := filepath.Join(destPath, cleanPath)
		if !isPathWithinDirectory(target, destPath) {
			return &zberrors.UnsafeArchive{Entry: f.Name, Reason: "entry escapes destination directory"}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &zberrors.IoError{Op: "mkdir", Path: target, Err: err}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return &zberrors.IoError{Op: "mkdir", Path: target, Err: err}
		}

		rc, err := f.Open()
		if err != nil {
			return &zberrors.IoError{Op: "open entry", Path: f.Name, Err: err}
		}

		outFile, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return &zberrors.IoError{Op: "create", Path: target, Err: err}
		}

		if _, err := io.Copy(outFile, rc); err != nil {
			outFile.Close()
			rc.Close()
			return &zberrors.IoError{Op: "write", Path: target, Err: err}
		}
		outFile.Close()
		rc.Close()
	}

	return nil
}
