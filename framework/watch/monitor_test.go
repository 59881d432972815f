package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/statlight/harness/framework/helpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangesAreDebounced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Tests.xap")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0600))

	m, err := New(path, Debounce(50*time.Millisecond))
	require.NoError(t, err)
	defer m.Close() //nolint:errcheck

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v2"), 0600))
	}
	helpers.RequireValue(t, m.Changes(), time.Second*2)
	helpers.RequireNoMoreValues(t, m.Changes(), time.Millisecond*200)
}

func TestCreatedFileIsAChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Tests.xap")

	m, err := New(path, Debounce(10*time.Millisecond))
	require.NoError(t, err)
	defer m.Close() //nolint:errcheck

	require.NoError(t, os.WriteFile(path, []byte("v1"), 0600))
	helpers.RequireValue(t, m.Changes(), time.Second*2)
}

func TestOtherFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	m, err := New(filepath.Join(dir, "Tests.xap"), Debounce(10*time.Millisecond))
	require.NoError(t, err)
	defer m.Close() //nolint:errcheck

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Other.dll"), []byte("x"), 0600))
	helpers.RequireNoMoreValues(t, m.Changes(), time.Millisecond*200)
}

func TestCloseEndsChanges(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "Tests.xap"))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, ok := <-m.Changes()
	assert.False(t, ok)
}

func TestNewRequiresDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "Tests.xap"))
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "Tests.xap"), Debounce(-1))
	assert.Error(t, err)
}
