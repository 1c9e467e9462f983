// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// Kind identifies what a topic binding controls.
type Kind string

const (
	KindComputer Kind = "computer"
	KindScreen   Kind = "screen"
	KindVolume   Kind = "volume"
	KindSleep    Kind = "sleep"
	KindMedia    Kind = "media"
	KindProgram  Kind = "program"
	KindService  Kind = "service"
	KindCommand  Kind = "command"
	KindHotkey   Kind = "hotkey"
)

// ResolutionOrder is the order in which binding kinds claim a topic.
// The first kind that owns a topic wins.
var ResolutionOrder = []Kind{
	KindProgram,
	KindCommand,
	KindService,
	KindComputer,
	KindScreen,
	KindVolume,
	KindSleep,
	KindMedia,
	KindHotkey,
}

// IsBuiltin reports whether the kind is one of the fixed built-in controls.
func (k Kind) IsBuiltin() bool {
	switch k {
	case KindComputer, KindScreen, KindVolume, KindSleep, KindMedia:
		return true
	}
	return false
}

// Rank returns the position of the kind in ResolutionOrder, or -1.
func (k Kind) Rank() int {
	for i, kind := range ResolutionOrder {
		if kind == k {
			return i
		}
	}
	return -1
}

// ActionKind is the tag of an ActionSpec.
type ActionKind string

const (
	ActionNone       ActionKind = "none"
	ActionLock       ActionKind = "lock"
	ActionShutdown   ActionKind = "shutdown"
	ActionRestart    ActionKind = "restart"
	ActionLogOff     ActionKind = "logoff"
	ActionSleep      ActionKind = "sleep"
	ActionHibernate  ActionKind = "hibernate"
	ActionDisplayOff ActionKind = "display_off"
	ActionDisplayOn  ActionKind = "display_on"
	ActionKeyCombo   ActionKind = "keycombo"

	// ActionRun is the "on" side of Program, Service and Command bindings:
	// launch the target, start the service, spawn the snippet.
	ActionRun ActionKind = "run"

	ActionIgnore      ActionKind = "ignore"
	ActionInterrupt   ActionKind = "interrupt"
	ActionForceKill   ActionKind = "force_kill"
	ActionStopService ActionKind = "stop_service"
	ActionCustom      ActionKind = "custom"
)

// ActionSpec describes one side (on or off) of a binding.
type ActionSpec struct {
	Action ActionKind
	Delay  time.Duration // Computer and Sleep only
	Value  string        // key combo or custom snippet
}

// PercentRange bounds the n accepted by an "on#n" payload.
type PercentRange struct {
	Min int
	Max int
}

// DefaultRange is used when a binding does not configure one.
var DefaultRange = PercentRange{Min: 0, Max: 100}

// Contains reports whether n lies inside the inclusive range.
func (r PercentRange) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// WindowMode controls whether a spawned command gets a visible console.
type WindowMode string

const (
	WindowShow WindowMode = "show"
	WindowHide WindowMode = "hide"
)

// ProgramParams configures a Program binding.
type ProgramParams struct {
	Target string // file or executable to launch
}

// ServiceParams configures a Service binding.
type ServiceParams struct {
	Name string
}

// CommandParams configures a Command binding.
type CommandParams struct {
	Snippet string // may contain {value}
	Window  WindowMode
}

// HotkeyParams configures a Hotkey binding.
type HotkeyParams struct {
	CharDelay time.Duration
}

// Binding maps a topic to a kind and its on/off behavior.
// Exactly one of the params pointers is set for Program, Service, Command and Hotkey kinds.
type Binding struct {
	Topic   string
	Name    string // display name used in notifications
	Kind    Kind
	Enabled bool
	On      ActionSpec
	Off     ActionSpec
	Range   PercentRange

	Program *ProgramParams
	Service *ServiceParams
	Command *CommandParams
	Hotkey  *HotkeyParams
}

// DisplayName returns the name shown to the user.
func (b Binding) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.Topic
}

// allowedActions lists which action tags each kind accepts on either side.
var allowedActions = map[Kind][]ActionKind{
	KindComputer: {ActionNone, ActionLock, ActionShutdown, ActionRestart, ActionLogOff, ActionSleep, ActionHibernate},
	KindSleep:    {ActionNone, ActionSleep, ActionHibernate, ActionDisplayOff, ActionDisplayOn, ActionLock},
	KindScreen:   {ActionNone},
	KindVolume:   {ActionNone},
	KindMedia:    {ActionNone},
	KindProgram:  {ActionRun, ActionIgnore, ActionForceKill, ActionCustom},
	KindService:  {ActionRun, ActionIgnore, ActionStopService, ActionCustom},
	KindCommand:  {ActionRun, ActionIgnore, ActionInterrupt, ActionForceKill, ActionCustom},
	KindHotkey:   {ActionNone, ActionKeyCombo},
}

// Validate checks the binding is internally consistent for its kind.
func (b Binding) Validate() error {
	if b.Topic == "" {
		return fmt.Errorf("binding of kind %s has empty topic", b.Kind)
	}
	allowed, ok := allowedActions[b.Kind]
	if !ok {
		return fmt.Errorf("topic %q: unknown kind %q", b.Topic, b.Kind)
	}
	for side, spec := range map[string]ActionSpec{"on": b.On, "off": b.Off} {
		if !containsAction(allowed, spec.Action) {
			return fmt.Errorf("topic %q: action %q not allowed on %s side of %s binding",
				b.Topic, spec.Action, side, b.Kind)
		}
		if spec.Action == ActionCustom && spec.Value == "" {
			return fmt.Errorf("topic %q: custom %s action has empty snippet", b.Topic, side)
		}
		if spec.Delay < 0 {
			return fmt.Errorf("topic %q: negative %s delay", b.Topic, side)
		}
	}
	if b.Range.Min > b.Range.Max {
		return fmt.Errorf("topic %q: range min %d greater than max %d", b.Topic, b.Range.Min, b.Range.Max)
	}

	switch b.Kind {
	case KindProgram:
		if b.Program == nil || b.Program.Target == "" {
			return fmt.Errorf("topic %q: program binding has no target", b.Topic)
		}
	case KindService:
		if b.Service == nil || b.Service.Name == "" {
			return fmt.Errorf("topic %q: service binding has no service name", b.Topic)
		}
	case KindCommand:
		if b.Command == nil || b.Command.Snippet == "" {
			return fmt.Errorf("topic %q: command binding has no snippet", b.Topic)
		}
		if b.On.Action != ActionRun {
			return fmt.Errorf("topic %q: command on side must run the snippet", b.Topic)
		}
	case KindHotkey:
		if b.Hotkey == nil {
			return fmt.Errorf("topic %q: hotkey binding has no params", b.Topic)
		}
	}
	return nil
}

func containsAction(list []ActionKind, a ActionKind) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

// PayloadKind is the parsed shape of a raw command payload.
type PayloadKind string

const (
	PayloadOn        PayloadKind = "on"
	PayloadOff       PayloadKind = "off"
	PayloadPause     PayloadKind = "pause"
	PayloadOnPercent PayloadKind = "on_percent"
)

// Payload is a parsed command. Percent and Range are set only for PayloadOnPercent.
type Payload struct {
	Kind    PayloadKind
	Percent int
	Range   PercentRange
}

// ProcessRecord tracks a process spawned by a Command binding.
type ProcessRecord struct {
	Topic     string
	PID       int
	SpawnedAt time.Time
}

// KeyOp is a primitive key-injection operation.
type KeyOp string

const (
	KeyPress KeyOp = "press"
	KeyDown  KeyOp = "down"
	KeyUp    KeyOp = "up"
)

// HotkeyToken is one primitive key event in a synthesized sequence.
type HotkeyToken struct {
	Key string
	Op  KeyOp
}

func (t HotkeyToken) String() string {
	return t.Key + ":" + string(t.Op)
}

// MediaKey is a transport control key.
type MediaKey string

const (
	MediaNext      MediaKey = "next"
	MediaPrevious  MediaKey = "previous"
	MediaPlayPause MediaKey = "play_pause"
)

// ServiceStatus is what a service controller reports about a named service.
type ServiceStatus string

const (
	ServiceRunning ServiceStatus = "running"
	ServiceStopped ServiceStatus = "stopped"
	ServiceUnknown ServiceStatus = "unknown"
)

// NotifyLevel is the severity of a user-facing notification.
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

// DispatchResult captures what happened for one (topic, payload) message.
type DispatchResult struct {
	ID         string
	Topic      string
	Payload    string
	Kind       Kind   // empty when the topic is unknown
	Action     string // handler-level description, e.g. "interrupt"
	Message    string // notification text that was sent
	SpawnedPID int
	Err        error
	ErrorKind  string // empty on success
	StartedAt  time.Time
	Duration   time.Duration
}

// OK reports whether the dispatch completed without error.
func (r DispatchResult) OK() bool {
	return r.Err == nil
}

// JournalEntry is a persisted summary of a DispatchResult.
type JournalEntry struct {
	ID        string
	Topic     string
	Payload   string
	Kind      string
	Action    string
	Outcome   string // "ok" or "error"
	ErrorKind string
	Message   string
	At        time.Time
}

// InstanceStatus is written by the running agent for the status command.
// Persisted as JSON next to the instance lock.
type InstanceStatus struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	ClientID      string `json:"client_id"`
	Broker        string `json:"broker"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	Bindings      int    `json:"bindings"`
	Mode          string `json:"mode,omitempty"`        // "user" or "system"
	AppVersion    string `json:"app_version,omitempty"` // version of the running agent
}
