package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// storeKeyLen is the SQLCipher raw key length.
const storeKeyLen = 32

// StoreKeyFile keeps the secret store key as a hex line in a file only
// the agent's user may read. The agent and the CLI share one key file,
// so whichever starts first creates it.
type StoreKeyFile struct {
	path string
	rand func([]byte) (int, error)
}

// NewStoreKeyFile returns the key file at path.
func NewStoreKeyFile(path string) *StoreKeyFile {
	return &StoreKeyFile{path: path, rand: rand.Read}
}

// Path returns the key file location.
func (k *StoreKeyFile) Path() string {
	return k.path
}

// StoreKey reads the key, creating the file when it does not exist.
func (k *StoreKeyFile) StoreKey() ([]byte, error) {
	key, err := k.read()
	if !errors.Is(err, fs.ErrNotExist) {
		return key, err
	}

	key, err = k.create()
	if errors.Is(err, fs.ErrExist) {
		// another rcagent process won the race
		return k.read()
	}
	return key, err
}

func (k *StoreKeyFile) read() ([]byte, error) {
	info, err := os.Stat(k.path)
	if err != nil {
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("key file %s is accessible by other users (mode %04o), run chmod 600", k.path, perm)
	}

	data, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s is corrupt: %w", k.path, err)
	}
	if len(key) != storeKeyLen {
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d", k.path, len(key), storeKeyLen)
	}
	return key, nil
}

// create writes a fresh key with O_EXCL so a concurrent creator is
// detected instead of overwritten.
func (k *StoreKeyFile) create() ([]byte, error) {
	key := make([]byte, storeKeyLen)
	if _, err := k.rand(key); err != nil {
		return nil, fmt.Errorf("generating store key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(k.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		f.Close()
		os.Remove(k.path)
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(k.path)
		return nil, err
	}
	return key, nil
}

var _ domain.KeyProvider = (*StoreKeyFile)(nil)
