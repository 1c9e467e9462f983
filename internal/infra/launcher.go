package infra

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// interpreters maps script extensions to the program that runs them.
var interpreters = map[string][]string{
	".sh":   {"/bin/sh"},
	".bash": {"bash"},
	".py":   {"python3"},
	".pl":   {"perl"},
	".rb":   {"ruby"},
	".jar":  {"java", "-jar"},
}

// LauncherImpl implements domain.Launcher.
type LauncherImpl struct {
	paths  *PathResolver
	opener string
	start  func(name string, args ...string) (int, error)
	logger *zap.Logger
}

// NewLauncher creates a launcher using the desktop opener for this OS.
func NewLauncher(paths *PathResolver, logger *zap.Logger) *LauncherImpl {
	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	return &LauncherImpl{
		paths:  paths,
		opener: opener,
		start:  startDetached,
		logger: logger,
	}
}

// LaunchTarget starts path by category: executables run directly, known
// scripts run under their interpreter, everything else goes to the opener.
func (l *LauncherImpl) LaunchTarget(path string) (int, error) {
	target := l.paths.ExpandHome(path)
	if !l.paths.Exists(target) {
		return 0, fmt.Errorf("launch target %s does not exist", target)
	}

	name, args := l.commandFor(target)
	pid, err := l.start(name, args...)
	if err != nil {
		return 0, fmt.Errorf("launch %s: %w", target, err)
	}
	l.logger.Info("launched program",
		zap.String("target", target),
		zap.String("via", name),
		zap.Int("pid", pid))
	return pid, nil
}

func (l *LauncherImpl) commandFor(target string) (string, []string) {
	ext := strings.ToLower(filepath.Ext(target))
	if interp, ok := interpreters[ext]; ok {
		return interp[0], append(append([]string{}, interp[1:]...), target)
	}
	if ext == ".app" && runtime.GOOS == "darwin" {
		return "open", []string{"-a", target}
	}
	if l.paths.IsExecutable(target) {
		return target, nil
	}
	return l.opener, []string{target}
}

// startDetached starts name in a new session and reaps it in the background.
func startDetached(name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // detach from the agent's terminal
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}

// Ensure LauncherImpl implements domain.Launcher.
var _ domain.Launcher = (*LauncherImpl)(nil)
