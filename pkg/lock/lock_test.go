package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	l, err := Acquire(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data, "lock file records the holder pid")

	require.NoError(t, l.Release())
	require.NoError(t, l.Release(), "double release is safe")

	// Lock is reacquirable after release
	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	defer l.Release()

	// flock is per open file description, so a second descriptor in
	// the same process contends just like a second process would
	_, err = Acquire(path)
	assert.ErrorIs(t, err, ErrHeld)
}

func TestAcquireCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "run.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}
