package localfs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pangea.dev/signkit/storage"
	"pangea.dev/signkit/storage/testkit"
)

func TestLocalFSConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		t.Helper()
		cas, err := New(t.TempDir())
		require.NoError(t, err)
		return cas
	})
}

func TestLocalFSRejectsOverwrite(t *testing.T) {
	cas, err := New(t.TempDir())
	require.NoError(t, err)

	orig := []byte("first artifact")
	id, err := cas.Put(orig)
	require.NoError(t, err)

	path := cas.pathFor(id)
	require.NoError(t, os.Chmod(path, 0o600))
	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o600))

	_, err = cas.Get(id)
	assert.ErrorIs(t, err, storage.ErrCIDMismatch)

	_, err = cas.Put(orig)
	assert.ErrorIs(t, err, storage.ErrImmutable, "Put must not repair a corrupted object")
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
