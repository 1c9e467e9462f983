package usecase

import (
	"fmt"
	"os"
	"sync"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// fakeProcesses implements domain.ProcessManager for testing.
// A pid dies when it receives the signal named in stopOn.
type fakeProcesses struct {
	mu      sync.Mutex
	running map[int]bool
	stopOn  map[int]string
	calls   []string
	killErr error
}

func newFakeProcesses() *fakeProcesses {
	return &fakeProcesses{
		running: make(map[int]bool),
		stopOn:  make(map[int]string),
	}
}

func (f *fakeProcesses) start(pid int, diesOn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[pid] = true
	f.stopOn[pid] = diesOn
}

func (f *fakeProcesses) exit(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[pid] = false
}

func (f *fakeProcesses) signal(name string, pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", name, pid))
	if f.stopOn[pid] == name {
		f.running[pid] = false
	}
}

func (f *fakeProcesses) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeProcesses) IsRunning(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[pid]
}

func (f *fakeProcesses) Interrupt(pid int) error {
	f.signal("interrupt", pid)
	return nil
}

func (f *fakeProcesses) Terminate(pid int) error {
	f.signal("terminate", pid)
	return nil
}

func (f *fakeProcesses) Kill(pid int) error {
	if f.killErr != nil {
		f.mu.Lock()
		f.calls = append(f.calls, fmt.Sprintf("kill:%d", pid))
		f.mu.Unlock()
		return f.killErr
	}
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("kill:%d", pid))
	f.running[pid] = false
	f.mu.Unlock()
	return nil
}

// utilityKill stands in for the external kill utility; it always works.
func (f *fakeProcesses) utilityKill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("kill-utility:%d", pid))
	f.running[pid] = false
	return nil
}

func (f *fakeProcesses) Children(pid int) ([]int, error) {
	return nil, nil
}

func (f *fakeProcesses) GetCurrentPID() int {
	return os.Getpid()
}

// funcStep adapts a function to domain.TerminationStep.
type funcStep struct {
	name string
	fn   func(pid int) error
}

func (s funcStep) Name() string       { return s.name }
func (s funcStep) Stop(pid int) error { return s.fn(pid) }

func escalationSteps(pm *fakeProcesses) []domain.TerminationStep {
	return []domain.TerminationStep{
		funcStep{name: "interrupt", fn: pm.Interrupt},
		funcStep{name: "terminate", fn: pm.Terminate},
		funcStep{name: "kill-utility", fn: pm.utilityKill},
	}
}

// mockSpawner implements domain.CommandSpawner for testing.
type mockSpawner struct {
	mu       sync.Mutex
	pm       *fakeProcesses
	nextPID  int
	diesOn   string
	err      error
	snippets []string
	windows  []domain.WindowMode
}

func (m *mockSpawner) SpawnCommand(snippet string, window domain.WindowMode) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.nextPID++
	m.snippets = append(m.snippets, snippet)
	m.windows = append(m.windows, window)
	if m.pm != nil {
		m.pm.start(m.nextPID, m.diesOn)
	}
	return m.nextPID, nil
}

type mockPower struct {
	locks   int
	actions []domain.ActionKind
	err     error
}

func (m *mockPower) Lock() error {
	if m.err != nil {
		return m.err
	}
	m.locks++
	return nil
}

func (m *mockPower) PowerAction(action domain.ActionKind) error {
	if m.err != nil {
		return m.err
	}
	m.actions = append(m.actions, action)
	return nil
}

type mockLevels struct {
	brightness []int
	volume     []int
	err        error
}

func (m *mockLevels) SetBrightness(level int) error {
	if m.err != nil {
		return m.err
	}
	m.brightness = append(m.brightness, level)
	return nil
}

func (m *mockLevels) SetVolume(level int) error {
	if m.err != nil {
		return m.err
	}
	m.volume = append(m.volume, level)
	return nil
}

type mockMedia struct {
	keys []domain.MediaKey
}

func (m *mockMedia) SendMediaKey(key domain.MediaKey) error {
	m.keys = append(m.keys, key)
	return nil
}

type mockKeys struct {
	events []string
	panics bool
}

func (m *mockKeys) InjectKey(name string, op domain.KeyOp) error {
	if m.panics {
		panic("keyboard exploded")
	}
	m.events = append(m.events, domain.HotkeyToken{Key: name, Op: op}.String())
	return nil
}

type mockLauncher struct {
	paths []string
	err   error
}

func (m *mockLauncher) LaunchTarget(path string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.paths = append(m.paths, path)
	return 4242, nil
}

type mockServices struct {
	status  map[string]domain.ServiceStatus
	started []string
	stopped []string
}

func (m *mockServices) Start(name string) error {
	m.started = append(m.started, name)
	return nil
}

func (m *mockServices) Stop(name string) error {
	m.stopped = append(m.stopped, name)
	return nil
}

func (m *mockServices) Status(name string) domain.ServiceStatus {
	if s, ok := m.status[name]; ok {
		return s
	}
	return domain.ServiceUnknown
}

type mockPrograms struct {
	targets []string
	pids    []int
}

func (m *mockPrograms) TerminateTarget(target string) ([]int, error) {
	m.targets = append(m.targets, target)
	return m.pids, nil
}

type notification struct {
	message string
	level   domain.NotifyLevel
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (m *mockNotifier) Notify(message string, level domain.NotifyLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notification{message: message, level: level})
}

func (m *mockNotifier) last() notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return notification{}
	}
	return m.sent[len(m.sent)-1]
}

type mockMetrics struct {
	results   []domain.DispatchResult
	tracked   int
	scheduled []domain.Kind
}

func (m *mockMetrics) ObserveDispatch(r domain.DispatchResult) { m.results = append(m.results, r) }
func (m *mockMetrics) SetTrackedProcesses(n int)              { m.tracked = n }
func (m *mockMetrics) TaskScheduled(kind domain.Kind)         { m.scheduled = append(m.scheduled, kind) }

type mockJournal struct {
	entries []domain.JournalEntry
}

func (m *mockJournal) Record(e domain.JournalEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockJournal) Recent(limit int) ([]domain.JournalEntry, error) {
	if limit > len(m.entries) {
		limit = len(m.entries)
	}
	return m.entries[len(m.entries)-limit:], nil
}

// mapStore implements domain.BindingStore for testing.
type mapStore map[string]domain.Binding

func (s mapStore) Resolve(topic string) (*domain.Binding, bool) {
	b, ok := s[topic]
	if !ok {
		return nil, false
	}
	return &b, true
}

func (s mapStore) All() []domain.Binding {
	out := make([]domain.Binding, 0, len(s))
	for _, b := range s {
		out = append(out, b)
	}
	return out
}

// harness wires a dispatcher to fakes.
type harness struct {
	pm       *fakeProcesses
	spawner  *mockSpawner
	power    *mockPower
	levels   *mockLevels
	media    *mockMedia
	keys     *mockKeys
	launcher *mockLauncher
	services *mockServices
	programs *mockPrograms
	notifier *mockNotifier
	metrics  *mockMetrics
	journal  *mockJournal
	fired    []func()
}

func (h *harness) ports() Ports {
	return Ports{
		Power:     h.power,
		Display:   h.levels,
		Audio:     h.levels,
		Media:     h.media,
		Keys:      h.keys,
		Launcher:  h.launcher,
		Services:  h.services,
		Spawner:   h.spawner,
		Processes: h.pm,
		Programs:  h.programs,
		Notifier:  h.notifier,
	}
}

func newHarness() *harness {
	pm := newFakeProcesses()
	return &harness{
		pm:       pm,
		spawner:  &mockSpawner{pm: pm, nextPID: 1000, diesOn: "interrupt"},
		power:    &mockPower{},
		levels:   &mockLevels{},
		media:    &mockMedia{},
		keys:     &mockKeys{},
		launcher: &mockLauncher{},
		services: &mockServices{status: map[string]domain.ServiceStatus{}},
		programs: &mockPrograms{},
		notifier: &mockNotifier{},
		metrics:  &mockMetrics{},
		journal:  &mockJournal{},
	}
}

// runScheduled fires every captured delayed action.
func (h *harness) runScheduled() {
	for _, fn := range h.fired {
		fn()
	}
	h.fired = nil
}
