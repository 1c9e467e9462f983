package infra

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// SpawnerImpl implements domain.CommandSpawner with sh -c.
// Each child leads its own process group so the interrupt chain can
// signal the whole pipeline.
type SpawnerImpl struct {
	shell  string
	dir    string
	output io.Writer // where visible commands write
	logger *zap.Logger
}

// NewSpawner creates a spawner that runs snippets in dir.
func NewSpawner(dir string, logger *zap.Logger) *SpawnerImpl {
	return &SpawnerImpl{
		shell:  "/bin/sh",
		dir:    dir,
		output: os.Stderr,
		logger: logger,
	}
}

// SpawnCommand starts snippet without waiting and returns its pid.
// Hidden commands get no stdio; shown commands share the agent's console.
func (s *SpawnerImpl) SpawnCommand(snippet string, window domain.WindowMode) (int, error) {
	cmd := exec.Command(s.shell, "-c", snippet)
	cmd.Dir = s.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // own group, target of SIGINT escalation
	}
	cmd.Stdin = nil
	if window == domain.WindowShow {
		cmd.Stdout = s.output
		cmd.Stderr = s.output
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %q: %w", snippet, err)
	}
	pid := cmd.Process.Pid

	s.logger.Info("spawned command",
		zap.Int("pid", pid),
		zap.String("window", string(window)))

	go s.reap(cmd)
	return pid, nil
}

// reap waits on the child so it does not linger as a zombie.
func (s *SpawnerImpl) reap(cmd *exec.Cmd) {
	err := cmd.Wait()
	fields := []zap.Field{zap.Int("pid", cmd.Process.Pid)}
	if cmd.ProcessState != nil {
		fields = append(fields, zap.Int("exitCode", cmd.ProcessState.ExitCode()))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Debug("command exited", fields...)
}

// Ensure SpawnerImpl implements domain.CommandSpawner.
var _ domain.CommandSpawner = (*SpawnerImpl)(nil)
