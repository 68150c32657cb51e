package filelock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireExclusiveExcludesSecondExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l1, err := TryAcquire(path)
	require.NoError(t, err)
	defer l1.Unlock()

	_, err = TryAcquire(path)
	require.ErrorIs(t, err, ErrBusy)
}

func TestSharedLocksCoexist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l1, err := TryAcquireShared(path)
	require.NoError(t, err)
	defer l1.Unlock()

	l2, err := TryAcquireShared(path)
	require.NoError(t, err)
	defer l2.Unlock()
}

func TestSharedExcludesExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l1, err := TryAcquireShared(path)
	require.NoError(t, err)
	defer l1.Unlock()

	_, err = TryAcquire(path)
	require.ErrorIs(t, err, ErrBusy)
}

func TestUnlockAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l1, err := TryAcquire(path)
	require.NoError(t, err)
	require.NoError(t, l1.Unlock())

	l2, err := TryAcquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Unlock())
}
