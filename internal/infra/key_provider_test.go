package infra

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreKeyFile_CreatesOnFirstUse(t *testing.T) {
	k := NewStoreKeyFile(filepath.Join(t.TempDir(), "nested", ".key"))

	key, err := k.StoreKey()
	require.NoError(t, err)
	assert.Len(t, key, storeKeyLen)

	info, err := os.Stat(k.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(k.Path())
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(key)+"\n", string(data))

	again, err := k.StoreKey()
	require.NoError(t, err)
	assert.Equal(t, key, again, "second call reads the same key")
}

func TestStoreKeyFile_SharedBetweenProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".key")

	agent, err := NewStoreKeyFile(path).StoreKey()
	require.NoError(t, err)
	cli, err := NewStoreKeyFile(path).StoreKey()
	require.NoError(t, err)
	assert.Equal(t, agent, cli)
}

func TestStoreKeyFile_LosesCreateRace(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".key")
	winner := strings.Repeat("ab", storeKeyLen)

	k := NewStoreKeyFile(path)
	k.rand = func(b []byte) (int, error) {
		// the other process writes its key between our read and create
		require.NoError(t, os.WriteFile(path, []byte(winner+"\n"), 0o600))
		return len(b), nil
	}

	key, err := k.StoreKey()
	require.NoError(t, err)
	assert.Equal(t, winner, hex.EncodeToString(key))
}

func TestStoreKeyFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		perm    os.FileMode
		wantErr string
	}{
		{"readable by group", strings.Repeat("00", storeKeyLen), 0o640, "chmod 600"},
		{"not hex", "not-a-key", 0o600, "corrupt"},
		{"short key", "abcd", 0o600, "holds 2 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ".key")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), tt.perm))
			require.NoError(t, os.Chmod(path, tt.perm))

			_, err := NewStoreKeyFile(path).StoreKey()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestStoreKeyFile_RandomFailure(t *testing.T) {
	k := NewStoreKeyFile(filepath.Join(t.TempDir(), ".key"))
	k.rand = func([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

	_, err := k.StoreKey()
	assert.ErrorContains(t, err, "entropy exhausted")
	_, statErr := os.Stat(k.Path())
	assert.True(t, os.IsNotExist(statErr))
}
