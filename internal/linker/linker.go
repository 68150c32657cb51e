// Package linker projects a keg's bin/sbin/lib/include/share trees and its
// opt/<name> pointer into a prefix as symlinks, and removes exactly the
// symlinks a keg created when it's uninstalled.
package linker

import (
	"os"
	"path/filepath"

	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/zberrors"
)

// linkedDirs are the keg subdirectories projected into the prefix.
// opt/<name> is handled separately since it points at the keg itself
// rather than mirroring a subdirectory.
var linkedDirs = []string{"bin", "sbin", "lib", "include", "share"}

// LinkKeg walks keg's linked subdirectories and symlinks every file found
// into the corresponding path under prefix, plus a prefix/opt/<name>
// symlink pointing at the keg directory itself. Every successful symlink
// is appended to the returned slice so the caller can record it as part of
// the same install transaction.
//
// A destination that is already a symlink into this keg is treated as a
// no-op (repeat installs of an unchanged keg are idempotent). Anything
// else at the destination — a real file, a directory, a symlink pointing
// elsewhere — is a LinkConflict; the caller decides whether to unwind.
func LinkKeg(keg model.Keg, prefix string) ([]model.LinkRecord, error) {
	var records []model.LinkRecord

	optLink := filepath.Join(prefix, "opt", keg.Name)
	rec, err := linkOne(optLink, keg.Path, keg)
	if err != nil {
		return records, err
	}
	records = append(records, rec)

	for _, sub := range linkedDirs {
		srcDir := filepath.Join(keg.Path, sub)
		info, err := os.Stat(srcDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return records, &zberrors.IoError{Op: "stat", Path: srcDir, Err: err}
		}
		if !info.IsDir() {
			continue
		}

		err = filepath.Walk(srcDir, func(path string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if fi.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(srcDir, path)
			if err != nil {
				return err
			}
			dest := filepath.Join(prefix, sub, rel)
			rec, err := linkOne(dest, path, keg)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
		if err != nil {
			return records, err
		}
	}

	return records, nil
}

// linkOne symlinks dest -> target, returning the LinkRecord on success. The
// symlink is created relative to dest's directory, matching Homebrew's own
// links and the data model's TargetPath field, which is documented as
// relative to LinkPath's directory. A pre-existing symlink already pointing
// at target is left alone and still reported so the caller's record set is
// complete.
func linkOne(dest, target string, keg model.Keg) (model.LinkRecord, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return model.LinkRecord{}, &zberrors.IoError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}

	relTarget, err := filepath.Rel(filepath.Dir(dest), target)
	if err != nil {
		return model.LinkRecord{}, &zberrors.IoError{Op: "relpath", Path: dest, Err: err}
	}

	if existing, err := os.Lstat(dest); err == nil {
		if existing.Mode()&os.ModeSymlink == 0 {
			return model.LinkRecord{}, &zberrors.LinkConflict{Path: dest, Existing: "non-symlink file"}
		}
		currentTarget, err := os.Readlink(dest)
		if err != nil {
			return model.LinkRecord{}, &zberrors.IoError{Op: "readlink", Path: dest, Err: err}
		}
		if currentTarget == relTarget {
			return model.LinkRecord{Name: keg.Name, Version: keg.Version, LinkPath: dest, TargetPath: relTarget}, nil
		}
		return model.LinkRecord{}, &zberrors.LinkConflict{Path: dest, Existing: currentTarget}
	}

	if err := os.Symlink(relTarget, dest); err != nil {
		return model.LinkRecord{}, &zberrors.IoError{Op: "symlink", Path: dest, Err: err}
	}

	return model.LinkRecord{Name: keg.Name, Version: keg.Version, LinkPath: dest, TargetPath: relTarget}, nil
}

// UnlinkKeg removes every symlink in records whose on-disk target still
// matches what was recorded, leaving alone anything a later install has
// since repointed.
func UnlinkKeg(records []model.LinkRecord) error {
	for _, rec := range records {
		current, err := os.Readlink(rec.LinkPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &zberrors.IoError{Op: "readlink", Path: rec.LinkPath, Err: err}
		}
		if current != rec.TargetPath {
			continue
		}
		if err := os.Remove(rec.LinkPath); err != nil && !os.IsNotExist(err) {
			return &zberrors.IoError{Op: "remove", Path: rec.LinkPath, Err: err}
		}
	}
	return nil
}
