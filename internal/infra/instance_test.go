package infra

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

func newTestLock(t *testing.T) *InstanceLock {
	t.Helper()
	dir := t.TempDir()
	l := NewInstanceLock(filepath.Join(dir, "rcagent.lock"), filepath.Join(dir, "status.json"))
	t.Cleanup(func() { _ = l.Release() })
	return l
}

func TestInstanceLock_AcquireWritesPID(t *testing.T) {
	l := newTestLock(t)
	require.NoError(t, l.Acquire())

	data, err := os.ReadFile(l.lockPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	// re-acquiring through the same handle is a no-op
	require.NoError(t, l.Acquire())
}

func TestInstanceLock_SecondInstanceFails(t *testing.T) {
	first := newTestLock(t)
	require.NoError(t, first.Acquire())

	second := NewInstanceLock(first.lockPath, first.statusPath)
	err := second.Acquire()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, first.Release())
	require.NoError(t, second.Acquire(), "lock is free after release")
	require.NoError(t, second.Release())
}

func TestInstanceLock_Status(t *testing.T) {
	l := newTestLock(t)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	got, err := l.ReadStatus()
	require.NoError(t, err)
	assert.Nil(t, got, "no status before the first write")

	require.NoError(t, l.Acquire())
	require.NoError(t, l.WriteStatus(domain.InstanceStatus{
		PID:       os.Getpid(),
		ClientID:  "rcagent-test",
		Broker:    "tcp://localhost:1883",
		StartedAt: now.Unix(),
		Bindings:  4,
	}))

	got, err = l.ReadStatus()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, statusVersion, got.Version)
	assert.Equal(t, "rcagent-test", got.ClientID)
	assert.Equal(t, now.Unix(), got.LastHeartbeat)

	now = now.Add(30 * time.Second)
	require.NoError(t, l.UpdateHeartbeat())
	got, err = l.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), got.LastHeartbeat)
	assert.Equal(t, 4, got.Bindings)

	info, err := os.Stat(l.GetStatusPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestInstanceLock_HeartbeatBeforeStatus(t *testing.T) {
	l := newTestLock(t)
	assert.Error(t, l.UpdateHeartbeat())
}

func TestInstanceLock_ReleaseRemovesStatus(t *testing.T) {
	l := newTestLock(t)
	require.NoError(t, l.Acquire())
	require.NoError(t, l.WriteStatus(domain.InstanceStatus{PID: 1}))
	require.FileExists(t, l.GetStatusPath())

	require.NoError(t, l.Release())
	assert.NoFileExists(t, l.GetStatusPath())
	require.NoError(t, l.Release(), "double release is harmless")
}

func TestInstanceLock_CorruptStatus(t *testing.T) {
	l := newTestLock(t)
	require.NoError(t, os.WriteFile(l.GetStatusPath(), []byte("{not json"), 0600))

	_, err := l.ReadStatus()
	assert.ErrorContains(t, err, "parse status file")
}
