package frontchat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storageBackends(t *testing.T) map[string]Storage {
	t.Helper()
	pebbleStore, err := OpenMemPebbleStorage()
	require.NoError(t, err)
	t.Cleanup(func() { pebbleStore.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"file":   NewFileStorage(filepath.Join(t.TempDir(), "nested", "session.toml")),
		"pebble": pebbleStore,
	}
}

func TestStorageBackends(t *testing.T) {
	for name, st := range storageBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := st.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.Set(keyAccessToken, "a1"))
			require.NoError(t, st.Set(keyAccessToken, "a2"))
			v, ok, err := st.Get(keyAccessToken)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "a2", v)

			require.NoError(t, st.Set(keyUser, `{"id":1,"username":"alice"}`))
			require.NoError(t, st.Delete(keyAccessToken))
			require.NoError(t, st.Delete(keyAccessToken))

			_, ok, err = st.Get(keyAccessToken)
			require.NoError(t, err)
			assert.False(t, ok)
			v, _, err = st.Get(keyUser)
			require.NoError(t, err)
			assert.Equal(t, `{"id":1,"username":"alice"}`, v)
		})
	}
}

func TestFileStoragePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	require.NoError(t, NewFileStorage(path).Set(keyRefreshToken, "r1"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	v, ok, err := NewFileStorage(path).Get(keyRefreshToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "r1", v)
}

func TestFileStorageCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	require.NoError(t, os.WriteFile(path, []byte("values = [[["), 0o600))

	_, _, err := NewFileStorage(path).Get(keyUser)
	assert.Error(t, err)
}

func TestPebbleStorageReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session.db")

	st, err := OpenPebbleStorage(dir)
	require.NoError(t, err)
	require.NoError(t, st.Set(keyAccessToken, "persisted"))
	require.NoError(t, st.Close())

	st, err = OpenPebbleStorage(dir)
	require.NoError(t, err)
	defer st.Close()
	v, ok, err := st.Get(keyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", v)
}
