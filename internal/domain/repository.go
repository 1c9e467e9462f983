package domain

import "context"

// Dispatcher is the engine entry point. It never returns an error;
// failures are reported in the result, logged and notified.
type Dispatcher interface {
	Dispatch(ctx context.Context, topic string, payload []byte) DispatchResult
}

// BindingStore resolves topics to bindings.
// Implementation: in-memory snapshot built once from the bindings file.
type BindingStore interface {
	// Resolve returns the binding that owns topic.
	Resolve(topic string) (*Binding, bool)

	// All returns every binding in resolution order.
	All() []Binding
}

// PowerController performs session and power actions.
type PowerController interface {
	// Lock locks the current session.
	Lock() error

	// PowerAction runs shutdown, restart, logoff, sleep, hibernate
	// or display on/off immediately. Delays are owned by the caller.
	PowerAction(action ActionKind) error
}

// DisplayController sets screen brightness.
type DisplayController interface {
	SetBrightness(level int) error
}

// AudioController sets the output volume. Level 0 mutes.
type AudioController interface {
	SetVolume(level int) error
}

// MediaController sends transport keys to the active player.
type MediaController interface {
	SendMediaKey(key MediaKey) error
}

// KeyInjector sends a single synthetic key event.
// Key names are lowercase ASCII (e.g. "ctrl", "f4", "a").
type KeyInjector interface {
	InjectKey(name string, op KeyOp) error
}

// Launcher opens a file or executable with the launcher for its category.
type Launcher interface {
	// LaunchTarget starts path and returns the pid, or 0 if the launcher hands off.
	LaunchTarget(path string) (int, error)
}

// ServiceController manages named system services.
type ServiceController interface {
	Start(name string) error
	Stop(name string) error
	Status(name string) ServiceStatus
}

// CommandSpawner runs shell snippets in the background.
type CommandSpawner interface {
	// SpawnCommand starts snippet without waiting and returns its pid.
	// The process leads its own process group.
	SpawnCommand(snippet string, window WindowMode) (int, error)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Interrupt sends SIGINT to the process group led by pid.
	Interrupt(pid int) error

	// Terminate asks the process to exit (SIGTERM).
	Terminate(pid int) error

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// Children returns the PIDs of direct children of pid.
	Children(pid int) ([]int, error)

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// TerminationStep is one rung of the stop escalation chain.
type TerminationStep interface {
	// Name returns the step name (e.g., "interrupt", "terminate", "kill")
	Name() string

	// Stop asks pid to stop. A nil error means the request was delivered,
	// not that the process has exited.
	Stop(pid int) error
}

// ProgramTerminator stops every process started from a program target.
type ProgramTerminator interface {
	// TerminateTarget returns the PIDs it stopped. When no PID matched it
	// falls back to a kill by image name and returns an empty slice.
	TerminateTarget(target string) ([]int, error)
}

// Notifier delivers user-facing notifications.
type Notifier interface {
	Notify(message string, level NotifyLevel)
}

// MetricsRecorder receives engine observations.
type MetricsRecorder interface {
	ObserveDispatch(result DispatchResult)
	SetTrackedProcesses(n int)
	TaskScheduled(kind Kind)
}

// Journal persists a bounded history of dispatches.
type Journal interface {
	Record(entry JournalEntry) error
	Recent(limit int) ([]JournalEntry, error)
}

// InstanceRegistry guarantees a single running agent and publishes its status.
// Implementation: flock'd lock file plus a JSON status file.
type InstanceRegistry interface {
	// Acquire takes the single-instance lock. Fails if another agent holds it.
	Acquire() error

	// Release drops the lock and removes the status file.
	Release() error

	// WriteStatus replaces the status file.
	WriteStatus(status InstanceStatus) error

	// UpdateHeartbeat refreshes the heartbeat timestamp.
	UpdateHeartbeat() error

	// ReadStatus returns the last written status, or nil if none.
	ReadStatus() (*InstanceStatus, error)

	// GetStatusPath returns the status file path (for tests).
	GetStatusPath() string
}

// ClientIDGenerator creates transport client identifiers.
type ClientIDGenerator interface {
	// GenerateName creates a unique client id.
	// Example: "rcagent-host-3f9a1c"
	GenerateName() string
}

// KeyProvider supplies the key that unlocks the secret store.
type KeyProvider interface {
	// StoreKey returns the key, creating it on first use.
	StoreKey() ([]byte, error)
}

// SecretStore provides encrypted persistent storage for secrets
// such as the broker password.
type SecretStore interface {
	// GetSecret retrieves a secret by key.
	GetSecret(key string) (string, error)

	// SetSecret stores a secret.
	SetSecret(key, value string) error

	// GetAllSecrets returns all stored secrets.
	GetAllSecrets() (map[string]string, error)

	// Close releases resources (e.g., database connection).
	Close() error
}
