package linker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/zberrors"
)

func makeKeg(t *testing.T, name, version string) model.Keg {
	t.Helper()
	kegPath := filepath.Join(t.TempDir(), "Cellar", name, version)
	require.NoError(t, os.MkdirAll(filepath.Join(kegPath, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(kegPath, "bin", name), []byte("binary"), 0o755))
	return model.Keg{Name: name, Version: version, Path: kegPath}
}

func TestLinkKeg_CreatesBinAndOptSymlinks(t *testing.T) {
	prefix := t.TempDir()
	keg := makeKeg(t, "jq", "1.7.1")

	records, err := LinkKeg(keg, prefix)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	binLink := filepath.Join(prefix, "bin", "jq")
	target, err := os.Readlink(binLink)
	require.NoError(t, err)
	require.False(t, filepath.IsAbs(target), "link target should be relative, got %q", target)
	require.Equal(t, filepath.Join(keg.Path, "bin", "jq"), filepath.Join(filepath.Dir(binLink), target))

	optLink := filepath.Join(prefix, "opt", "jq")
	optTarget, err := os.Readlink(optLink)
	require.NoError(t, err)
	require.False(t, filepath.IsAbs(optTarget), "link target should be relative, got %q", optTarget)
	require.Equal(t, keg.Path, filepath.Join(filepath.Dir(optLink), optTarget))
}

func TestLinkKeg_IdempotentOnRepeatInstall(t *testing.T) {
	prefix := t.TempDir()
	keg := makeKeg(t, "jq", "1.7.1")

	_, err := LinkKeg(keg, prefix)
	require.NoError(t, err)

	records, err := LinkKeg(keg, prefix)
	require.NoError(t, err)
	require.NotEmpty(t, records)
}

func TestLinkKeg_ConflictOnForeignFile(t *testing.T) {
	prefix := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(prefix, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "bin", "jq"), []byte("unrelated"), 0o644))

	keg := makeKeg(t, "jq", "1.7.1")

	_, err := LinkKeg(keg, prefix)
	require.Error(t, err)

	var conflict *zberrors.LinkConflict
	require.ErrorAs(t, err, &conflict)
}

func TestUnlinkKeg_RemovesMatchingSymlinksOnly(t *testing.T) {
	prefix := t.TempDir()
	keg := makeKeg(t, "jq", "1.7.1")

	records, err := LinkKeg(keg, prefix)
	require.NoError(t, err)

	require.NoError(t, UnlinkKeg(records))

	_, err = os.Lstat(filepath.Join(prefix, "bin", "jq"))
	require.True(t, os.IsNotExist(err))
}

func TestUnlinkKeg_LeavesRepointedSymlinkAlone(t *testing.T) {
	prefix := t.TempDir()
	keg := makeKeg(t, "jq", "1.7.1")

	records, err := LinkKeg(keg, prefix)
	require.NoError(t, err)

	newKeg := makeKeg(t, "jq", "1.8.0")
	require.NoError(t, os.Remove(filepath.Join(prefix, "bin", "jq")))
	require.NoError(t, os.Symlink(filepath.Join(newKeg.Path, "bin", "jq"), filepath.Join(prefix, "bin", "jq")))

	require.NoError(t, UnlinkKeg(records))

	target, err := os.Readlink(filepath.Join(prefix, "bin", "jq"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(newKeg.Path, "bin", "jq"), target)
}
