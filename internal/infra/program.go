package infra

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// ProgramTerminatorImpl stops every process started from a program target.
type ProgramTerminatorImpl struct {
	pm     domain.ProcessManager
	runner CommandRunner
	paths  *PathResolver
	grace  time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewProgramTerminator creates a terminator that gives matched processes
// grace to exit after SIGTERM before killing them.
func NewProgramTerminator(pm domain.ProcessManager, runner CommandRunner, paths *PathResolver, grace time.Duration, logger *zap.Logger) *ProgramTerminatorImpl {
	return &ProgramTerminatorImpl{
		pm:     pm,
		runner: runner,
		paths:  paths,
		grace:  grace,
		poll:   100 * time.Millisecond,
		logger: logger,
	}
}

// TerminateTarget terminates children then parent for every process whose
// executable or command line names target. Survivors are killed after the
// grace period. With no match it falls back to pkill by image name.
func (t *ProgramTerminatorImpl) TerminateTarget(target string) ([]int, error) {
	target = t.paths.ExpandHome(target)

	pids, err := t.match(target)
	if err != nil {
		return nil, err
	}
	if len(pids) == 0 {
		return nil, t.killByName(filepath.Base(target))
	}

	var stopped []int
	for _, pid := range pids {
		for _, child := range t.descendants(pid) {
			if err := t.pm.Terminate(child); err == nil {
				stopped = append(stopped, child)
			}
		}
		if err := t.pm.Terminate(pid); err != nil {
			t.logger.Warn("failed to terminate program process",
				zap.Int("pid", pid),
				zap.Error(err))
		}
		stopped = append(stopped, pid)
	}

	t.waitAll(stopped)
	for _, pid := range stopped {
		if !t.pm.IsRunning(pid) {
			continue
		}
		t.logger.Info("program process ignored terminate, killing", zap.Int("pid", pid))
		if err := t.pm.Kill(pid); err != nil && t.pm.IsRunning(pid) {
			t.logger.Warn("failed to kill program process",
				zap.Int("pid", pid),
				zap.Error(err))
		}
	}
	return stopped, nil
}

func (t *ProgramTerminatorImpl) match(target string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())

	var found []int
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		if exe, err := p.Exe(); err == nil && exe == target {
			found = append(found, int(p.Pid))
			continue
		}
		args, err := p.CmdlineSlice()
		if err != nil {
			continue // process may have exited
		}
		for _, a := range args {
			if a == target {
				found = append(found, int(p.Pid))
				break
			}
		}
	}
	return found, nil
}

// descendants returns every child of pid, deepest first.
func (t *ProgramTerminatorImpl) descendants(pid int) []int {
	children, err := t.pm.Children(pid)
	if err != nil {
		return nil
	}
	var out []int
	for _, c := range children {
		out = append(out, t.descendants(c)...)
		out = append(out, c)
	}
	return out
}

func (t *ProgramTerminatorImpl) waitAll(pids []int) {
	deadline := time.Now().Add(t.grace)
	for time.Now().Before(deadline) {
		alive := false
		for _, pid := range pids {
			if t.pm.IsRunning(pid) {
				alive = true
				break
			}
		}
		if !alive {
			return
		}
		time.Sleep(t.poll)
	}
}

// killByName is the coarse fallback. pkill exits 1 when nothing matched,
// which is not an error here.
func (t *ProgramTerminatorImpl) killByName(image string) error {
	t.logger.Info("no process matched target, killing by image name", zap.String("image", image))
	err := t.runner.Run("pkill", "-x", image)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	return err
}

// Ensure ProgramTerminatorImpl implements domain.ProgramTerminator.
var _ domain.ProgramTerminator = (*ProgramTerminatorImpl)(nil)
