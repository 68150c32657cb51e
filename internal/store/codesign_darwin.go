package store

import (
	"debug/macho"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/zb-pm/zb/internal/zberrors"
)

// postProcess ad-hoc code-signs every Mach-O binary under dir. Bottles
// built on one macOS machine carry signatures invalidated by extraction
// (mtimes and xattrs don't survive tar); binaries must be re-signed before
// Gatekeeper and the dynamic linker will run them on another.
func postProcess(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if info.Mode()&0o111 == 0 {
			return nil
		}
		if !isMachO(path) {
			return nil
		}
		cmd := exec.Command("codesign", "--force", "--sign", "-", path)
		if out, err := cmd.CombinedOutput(); err != nil {
			return &zberrors.IoError{Op: "codesign: " + string(out), Path: path, Err: err}
		}
		return nil
	})
}

func isMachO(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var magic [4]byte
	if _, err := f.Read(magic[:]); err != nil {
		return false
	}

	m := be32(magic)
	return m == macho.Magic32 || m == macho.Magic64 || m == macho.MagicFat
}

func be32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
