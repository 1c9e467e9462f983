package infra

import (
	"strconv"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// InterruptStep delivers a console interrupt to the process group.
type InterruptStep struct {
	pm domain.ProcessManager
}

func (s *InterruptStep) Name() string { return "interrupt" }

func (s *InterruptStep) Stop(pid int) error {
	return s.pm.Interrupt(pid)
}

// TerminateStep asks the process group to exit with SIGTERM.
type TerminateStep struct {
	pm domain.ProcessManager
}

func (s *TerminateStep) Name() string { return "terminate" }

func (s *TerminateStep) Stop(pid int) error {
	return s.pm.Terminate(pid)
}

// KillUtilityStep force-kills through the external kill(1) utility. It
// targets the process group first and falls back to the single pid when
// the pid does not lead a group.
type KillUtilityStep struct {
	runner CommandRunner
}

// NewKillUtilityStep creates the kill-utility step.
func NewKillUtilityStep(runner CommandRunner) *KillUtilityStep {
	return &KillUtilityStep{runner: runner}
}

func (s *KillUtilityStep) Name() string { return "kill-utility" }

func (s *KillUtilityStep) Stop(pid int) error {
	id := strconv.Itoa(pid)
	if err := s.runner.Run("kill", "-9", "--", "-"+id); err == nil {
		return nil
	}
	return s.runner.Run("kill", "-9", id)
}

// NewEscalationSteps returns the interrupt chain in order:
// interrupt, terminate, then the kill utility.
func NewEscalationSteps(pm domain.ProcessManager, runner CommandRunner) []domain.TerminationStep {
	return []domain.TerminationStep{
		&InterruptStep{pm: pm},
		&TerminateStep{pm: pm},
		NewKillUtilityStep(runner),
	}
}

// Ensure implementations satisfy interfaces
var (
	_ domain.TerminationStep = (*InterruptStep)(nil)
	_ domain.TerminationStep = (*TerminateStep)(nil)
	_ domain.TerminationStep = (*KillUtilityStep)(nil)
)
