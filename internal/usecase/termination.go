package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// StepExited is reported when the process was gone before a step ran.
const StepExited = "exited"

// ErrChainExhausted is returned when no escalation step stopped the process.
var ErrChainExhausted = errors.New("process survived every termination step")

// Terminator stops tracked processes.
type Terminator struct {
	pm       domain.ProcessManager
	steps    []domain.TerminationStep
	fallback domain.TerminationStep
	grace    time.Duration
	poll     time.Duration
	logger   *zap.Logger
}

// NewTerminator creates a terminator. steps run in order for Escalate;
// fallback is used by ForceKill when a direct kill fails.
func NewTerminator(
	pm domain.ProcessManager,
	steps []domain.TerminationStep,
	fallback domain.TerminationStep,
	grace time.Duration,
	logger *zap.Logger,
) *Terminator {
	return &Terminator{
		pm:       pm,
		steps:    steps,
		fallback: fallback,
		grace:    grace,
		poll:     100 * time.Millisecond,
		logger:   logger,
	}
}

// Escalate tries each step until the process is confirmed gone and
// returns the name of that step. A step that errors or whose grace
// window expires hands over to the next one.
func (t *Terminator) Escalate(ctx context.Context, pid int) (string, error) {
	for _, step := range t.steps {
		if !t.pm.IsRunning(pid) {
			return StepExited, nil
		}
		if err := step.Stop(pid); err != nil {
			t.logger.Warn("termination step failed",
				zap.String("step", step.Name()),
				zap.Int("pid", pid),
				zap.Error(err))
			continue
		}
		if t.waitExit(ctx, pid) {
			t.logger.Info("process stopped",
				zap.String("step", step.Name()),
				zap.Int("pid", pid))
			return step.Name(), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Info("process still running after grace period, escalating",
			zap.String("step", step.Name()),
			zap.Int("pid", pid),
			zap.Duration("grace", t.grace))
	}
	return "", fmt.Errorf("pid %d: %w", pid, ErrChainExhausted)
}

// ForceKill kills pid immediately, falling back to the kill utility.
func (t *Terminator) ForceKill(pid int) error {
	err := t.pm.Kill(pid)
	if err == nil {
		return nil
	}
	if !t.pm.IsRunning(pid) {
		return nil
	}
	t.logger.Warn("direct kill failed, trying fallback",
		zap.Int("pid", pid),
		zap.Error(err))
	if t.fallback == nil {
		return err
	}
	if ferr := t.fallback.Stop(pid); ferr != nil {
		return fmt.Errorf("kill pid %d: %w (fallback: %v)", pid, err, ferr)
	}
	return nil
}

// waitExit polls until pid is gone, the grace window ends, or ctx is done.
func (t *Terminator) waitExit(ctx context.Context, pid int) bool {
	deadline := time.NewTimer(t.grace)
	defer deadline.Stop()
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		if !t.pm.IsRunning(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !t.pm.IsRunning(pid)
		case <-ticker.C:
		}
	}
}
