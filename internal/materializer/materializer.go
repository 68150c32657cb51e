// Package materializer copies a store entry into a keg directory, trying
// copy-on-write reflink/clonefile first, then a hardlink, then falling back
// to a byte copy, chosen independently per file.
package materializer

import (
	"io"
	"os"
	"path/filepath"

	"github.com/zb-pm/zb/internal/zberrors"
)

// Materialize walks storePath and reproduces it at kegPath: directories are
// created up front, symlinks are reproduced literally, and each regular
// file is placed via the fastest method the filesystem supports. One
// file's method falling back to a plain copy does not disqualify its
// siblings from reflink or hardlink.
func Materialize(storePath, kegPath string) error {
	return filepath.Walk(storePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(storePath, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(kegPath, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return &zberrors.IoError{Op: "readlink", Path: path, Err: err}
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return &zberrors.IoError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
			}
			if err := os.Symlink(target, dest); err != nil {
				return &zberrors.IoError{Op: "symlink", Path: dest, Err: err}
			}

		case info.IsDir():
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return &zberrors.IoError{Op: "mkdir", Path: dest, Err: err}
			}

		default:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return &zberrors.IoError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
			}
			if err := materializeFile(path, dest, info.Mode()); err != nil {
				return err
			}
		}
		return nil
	})
}

// materializeFile places one regular file at dest, trying reflink, then
// hardlink, then a byte copy. Any reflink or hardlink error falls through
// to the next method; only copyFile's error is returned.
func materializeFile(src, dest string, mode os.FileMode) error {
	if err := reflinkFile(src, dest); err == nil {
		return nil
	}

	if err := os.Link(src, dest); err == nil {
		return nil
	}

	return copyFile(src, dest, mode)
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return &zberrors.IoError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return &zberrors.IoError{Op: "create", Path: dest, Err: err}
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &zberrors.IoError{Op: "copy", Path: dest, Err: err}
	}
	return out.Close()
}
