package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// statusVersion is the on-disk status file format version.
const statusVersion = 1

// ErrAlreadyRunning is returned when another agent holds the lock.
var ErrAlreadyRunning = errors.New("another rcagent instance is running")

// InstanceLock implements domain.InstanceRegistry with an flock'd PID
// file plus a JSON status file. The lock lives as long as the fd is open.
type InstanceLock struct {
	mu         sync.Mutex
	lockPath   string
	statusPath string
	f          *os.File
	status     *domain.InstanceStatus
	now        func() time.Time
}

// NewInstanceLock creates a lock for the given paths.
func NewInstanceLock(lockPath, statusPath string) *InstanceLock {
	return &InstanceLock{
		lockPath:   lockPath,
		statusPath: statusPath,
		now:        time.Now,
	}
}

// Acquire takes an exclusive non-blocking lock and writes our PID into it.
func (l *InstanceLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, l.lockPath)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	if err := writePID(f); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return err
	}
	l.f = f
	return nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	return f.Sync()
}

// Release drops the lock and removes the status file.
func (l *InstanceLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	l.status = nil

	if rmErr := os.Remove(l.statusPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// WriteStatus replaces the status file.
func (l *InstanceLock) WriteStatus(status domain.InstanceStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	status.Version = statusVersion
	if status.LastHeartbeat == 0 {
		status.LastHeartbeat = l.now().Unix()
	}
	if err := l.atomicWrite(&status); err != nil {
		return err
	}
	l.status = &status
	return nil
}

// UpdateHeartbeat refreshes the heartbeat timestamp.
func (l *InstanceLock) UpdateHeartbeat() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status == nil {
		return errors.New("status not written yet")
	}
	l.status.LastHeartbeat = l.now().Unix()
	return l.atomicWrite(l.status)
}

// ReadStatus returns the last written status, or nil if none.
func (l *InstanceLock) ReadStatus() (*domain.InstanceStatus, error) {
	data, err := os.ReadFile(l.statusPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var status domain.InstanceStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("parse status file: %w", err)
	}
	return &status, nil
}

// GetStatusPath returns the status file path.
func (l *InstanceLock) GetStatusPath() string {
	return l.statusPath
}

func (l *InstanceLock) atomicWrite(status *domain.InstanceStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(l.statusPath, data, 0600)
}

// Ensure InstanceLock implements domain.InstanceRegistry.
var _ domain.InstanceRegistry = (*InstanceLock)(nil)
