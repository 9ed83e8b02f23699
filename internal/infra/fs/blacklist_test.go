package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBlacklist_MissingFileIsEmpty(t *testing.T) {
	wallets, err := LoadBlacklist(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, wallets)
}

func TestBlacklist_AddRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.json")

	require.NoError(t, AddToBlacklist(path, "walletA"))
	require.NoError(t, AddToBlacklist(path, "walletB"))
	require.NoError(t, AddToBlacklist(path, "walletA"))

	wallets, err := LoadBlacklist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"walletA", "walletB"}, wallets)

	require.NoError(t, RemoveFromBlacklist(path, "walletA"))
	wallets, err = LoadBlacklist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"walletB"}, wallets)

	assert.Error(t, RemoveFromBlacklist(path, "walletA"))
}

func TestWriteFileAtomic_LeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`)))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
