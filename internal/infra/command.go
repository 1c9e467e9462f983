package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

// Run executes a command and waits for it to complete.
// Stderr is folded into the error so capability failures are readable.
func (r *RealCommandRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = nil
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Output executes a command and returns its stdout
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// FileChecker abstracts file system checks for testing
type FileChecker interface {
	Exists(path string) bool
}

// RealFileChecker checks real filesystem
type RealFileChecker struct{}

// Exists checks if a file/directory exists
func (r *RealFileChecker) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
