// Package infra implements the capability ports on top of the host OS.
package infra

import (
	"errors"
	"os"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() *ProcessManagerImpl {
	return &ProcessManagerImpl{}
}

// IsRunning checks if a PID exists and is not a zombie.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// signal 0 only checks existence
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// Interrupt sends SIGINT to the process group led by pid, and to pid
// itself when it does not lead a group.
func (pm *ProcessManagerImpl) Interrupt(pid int) error {
	return signalGroup(pid, unix.SIGINT)
}

// Terminate sends SIGTERM to the process group led by pid.
func (pm *ProcessManagerImpl) Terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err == nil {
		return nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// Children returns the PIDs of direct children of pid.
func (pm *ProcessManagerImpl) Children(pid int) ([]int, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	children, err := p.Children()
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) {
			return nil, nil
		}
		return nil, err
	}
	pids := make([]int, 0, len(children))
	for _, c := range children {
		pids = append(pids, int(c.Pid))
	}
	return pids, nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
