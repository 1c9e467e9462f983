package infra

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
)

// mockProcessManager is a test double for domain.ProcessManager.
type mockProcessManager struct {
	mu          sync.Mutex
	runningPIDs map[int]bool
	children    map[int][]int
	terminated  []int
	killedPIDs  []int
	killErr     error
	// ignoreTerm leaves a pid running after Terminate
	ignoreTerm map[int]bool
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
		children:    make(map[int][]int),
		ignoreTerm:  make(map[int]bool),
	}
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) Interrupt(pid int) error {
	return nil
}

func (m *mockProcessManager) Terminate(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = append(m.terminated, pid)
	if !m.ignoreTerm[pid] {
		delete(m.runningPIDs, pid)
	}
	return nil
}

func (m *mockProcessManager) Kill(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killErr != nil {
		return m.killErr
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	delete(m.runningPIDs, pid)
	return nil
}

func (m *mockProcessManager) Children(pid int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.children[pid], nil
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runningPIDs[pid] = running
}

// mockCommandRunner records invocations and returns canned results.
type mockCommandRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func newMockCommandRunner() *mockCommandRunner {
	return &mockCommandRunner{
		outputs: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (m *mockCommandRunner) record(name string, args []string) string {
	line := strings.TrimSpace(fmt.Sprintf("%s %s", name, strings.Join(args, " ")))
	m.mu.Lock()
	m.calls = append(m.calls, line)
	m.mu.Unlock()
	return line
}

func (m *mockCommandRunner) Run(name string, args ...string) error {
	line := m.record(name, args)
	return m.errs[line]
}

func (m *mockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	line := m.record(name, args)
	return []byte(m.outputs[line]), m.errs[line]
}

func (m *mockCommandRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// safeBuffer is a bytes.Buffer shared with a child process writer.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
