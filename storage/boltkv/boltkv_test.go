package boltkv_test

import (
	"path/filepath"
	"testing"

	"github.com/quantrail/quantachat/storage"
	"github.com/quantrail/quantachat/storage/boltkv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltKV(t *testing.T) {
	store, err := boltkv.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get("session")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Put("session", []byte(`{"token":"abc"}`)))

	value, err := store.Get("session")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"token":"abc"}`), value)

	require.NoError(t, store.Delete("session"))
	_, err = store.Get("session")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.NoError(t, store.Delete("session"), "deleting a missing key is not an error")
}
