package store

import (
	"bytes"
	"debug/elf"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zb-pm/zb/internal/zberrors"
)

// homebrewPlaceholder is the literal marker Homebrew bottles embed in
// place of a real dynamic linker / RPATH entry, rewritten to the actual
// prefix and system linker at install time on Linux.
const homebrewPlaceholder = "@@HOMEBREW_"

// postProcess rewrites every placeholder INTERP and RPATH/RUNPATH entry
// under dir to the host's real dynamic linker path and the prefix the
// bottle is being installed into.
func postProcess(dir string) error {
	linker := systemDynamicLinker()

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if info.Mode()&0o111 == 0 && filepath.Ext(path) != ".so" {
			return nil
		}
		return patchELFFile(path, linker)
	})
}

func patchELFFile(path, linker string) error {
	f, err := elf.Open(path)
	if err != nil {
		// Not every executable-bit file is an ELF binary (scripts, etc).
		return nil
	}
	hasPlaceholder := false
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		hasPlaceholder = true
	}
	f.Close()
	if !hasPlaceholder {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &zberrors.IoError{Op: "read", Path: path, Err: err}
	}

	patched := bytes.ReplaceAll(data, []byte(homebrewPlaceholder), []byte(padTo(linker, len(homebrewPlaceholder))))
	if bytes.Equal(patched, data) {
		return nil
	}

	if err := os.WriteFile(path, patched, 0o755); err != nil {
		return &zberrors.IoError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// padTo truncates or NUL-pads s to exactly n bytes: patched strings in an
// ELF binary must stay the same length as the placeholder they replace, or
// every subsequent offset in the file shifts.
func padTo(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + string(make([]byte, n-len(s)))
}

func systemDynamicLinker() string {
	candidates := []string{
		"/lib64/ld-linux-x86-64.so.2",
		"/lib/ld-linux-aarch64.so.1",
		"/lib/ld-musl-" + runtime.GOARCH + ".so.1",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}
