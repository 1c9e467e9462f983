package infra

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// ErrUnsupported is returned for operations this platform cannot perform.
var ErrUnsupported = errors.New("operation not supported on this platform")

// powerCommands maps power actions to argv per OS.
var powerCommands = map[string]map[domain.ActionKind][]string{
	"linux": {
		domain.ActionLock:       {"loginctl", "lock-session"},
		domain.ActionShutdown:   {"systemctl", "poweroff"},
		domain.ActionRestart:    {"systemctl", "reboot"},
		domain.ActionLogOff:     {"loginctl", "terminate-user", "$USER"},
		domain.ActionSleep:      {"systemctl", "suspend"},
		domain.ActionHibernate:  {"systemctl", "hibernate"},
		domain.ActionDisplayOff: {"xset", "dpms", "force", "off"},
		domain.ActionDisplayOn:  {"xset", "dpms", "force", "on"},
	},
	"darwin": {
		domain.ActionLock:       {"pmset", "displaysleepnow"},
		domain.ActionShutdown:   {"osascript", "-e", `tell application "System Events" to shut down`},
		domain.ActionRestart:    {"osascript", "-e", `tell application "System Events" to restart`},
		domain.ActionLogOff:     {"osascript", "-e", `tell application "System Events" to log out`},
		domain.ActionSleep:      {"pmset", "sleepnow"},
		domain.ActionHibernate:  {"pmset", "sleepnow"},
		domain.ActionDisplayOff: {"pmset", "displaysleepnow"},
		domain.ActionDisplayOn:  {"caffeinate", "-u", "-t", "1"},
	},
}

var mediaCommands = map[string]map[domain.MediaKey][]string{
	"linux": {
		domain.MediaNext:      {"playerctl", "next"},
		domain.MediaPrevious:  {"playerctl", "previous"},
		domain.MediaPlayPause: {"playerctl", "play-pause"},
	},
	"darwin": {
		domain.MediaNext:      {"osascript", "-e", `tell application "Music" to next track`},
		domain.MediaPrevious:  {"osascript", "-e", `tell application "Music" to previous track`},
		domain.MediaPlayPause: {"osascript", "-e", `tell application "Music" to playpause`},
	},
}

// xKeysyms maps normalized key names to X keysyms for xdotool.
var xKeysyms = map[string]string{
	"ctrl": "ctrl", "alt": "alt", "shift": "shift", "win": "super",
	"enter": "Return", "esc": "Escape", "tab": "Tab", "space": "space",
	"backspace": "BackSpace", "delete": "Delete", "insert": "Insert",
	"home": "Home", "end": "End", "up": "Up", "down": "Down",
	"left": "Left", "right": "Right", "pageup": "Page_Up", "pagedown": "Page_Down",
	"capslock": "Caps_Lock", "numlock": "Num_Lock", "scrolllock": "Scroll_Lock",
	"printscreen": "Print", "pause": "Pause", "menu": "Menu",
	",": "comma", ".": "period", "/": "slash", ";": "semicolon", "'": "apostrophe",
	"[": "bracketleft", "]": "bracketright", "\\": "backslash", "-": "minus",
	"=": "equal", "`": "grave",
}

// macModifiers and macKeyCodes serve System Events on darwin.
var macModifiers = map[string]string{
	"ctrl": "control", "alt": "option", "shift": "shift", "win": "command",
}

var macKeyCodes = map[string]int{
	"enter": 36, "tab": 48, "space": 49, "backspace": 51, "esc": 53,
	"delete": 117, "home": 115, "end": 119, "pageup": 116, "pagedown": 121,
	"left": 123, "right": 124, "down": 125, "up": 126,
	"f1": 122, "f2": 120, "f3": 99, "f4": 118, "f5": 96, "f6": 97,
	"f7": 98, "f8": 100, "f9": 101, "f10": 109, "f11": 103, "f12": 111,
}

// Desktop implements the session, display, audio, media, keyboard and
// service ports by running platform utilities.
type Desktop struct {
	runner CommandRunner
	goos   string
	user   string
	logger *zap.Logger
}

// NewDesktop creates the port set for the running OS.
func NewDesktop(runner CommandRunner, logger *zap.Logger) *Desktop {
	return NewDesktopFor(runtime.GOOS, runner, logger)
}

// NewDesktopFor creates the port set for goos (for testing).
func NewDesktopFor(goos string, runner CommandRunner, logger *zap.Logger) *Desktop {
	return &Desktop{
		runner: runner,
		goos:   goos,
		user:   os.Getenv("USER"),
		logger: logger,
	}
}

func (d *Desktop) run(argv []string) error {
	d.logger.Debug("running platform command", zap.Strings("argv", argv))
	return d.runner.Run(argv[0], argv[1:]...)
}

// Lock locks the current session.
func (d *Desktop) Lock() error {
	return d.PowerAction(domain.ActionLock)
}

// PowerAction runs a power or session action immediately.
func (d *Desktop) PowerAction(action domain.ActionKind) error {
	argv, ok := powerCommands[d.goos][action]
	if !ok {
		return fmt.Errorf("%s: %w", action, ErrUnsupported)
	}
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, "$USER", d.user)
	}
	return d.run(out)
}

// SetBrightness sets the display brightness in percent.
func (d *Desktop) SetBrightness(level int) error {
	switch d.goos {
	case "linux":
		return d.run([]string{"brightnessctl", "set", fmt.Sprintf("%d%%", level)})
	case "darwin":
		return d.run([]string{"brightness", strconv.FormatFloat(float64(level)/100, 'f', 2, 64)})
	}
	return ErrUnsupported
}

// SetVolume sets the output volume in percent. Zero mutes.
func (d *Desktop) SetVolume(level int) error {
	switch d.goos {
	case "linux":
		mute := "0"
		if level == 0 {
			mute = "1"
		}
		if err := d.run([]string{"pactl", "set-sink-mute", "@DEFAULT_SINK@", mute}); err != nil {
			return err
		}
		return d.run([]string{"pactl", "set-sink-volume", "@DEFAULT_SINK@", fmt.Sprintf("%d%%", level)})
	case "darwin":
		return d.run([]string{"osascript", "-e", fmt.Sprintf("set volume output volume %d", level)})
	}
	return ErrUnsupported
}

// SendMediaKey sends a transport key to the active player.
func (d *Desktop) SendMediaKey(key domain.MediaKey) error {
	argv, ok := mediaCommands[d.goos][key]
	if !ok {
		return fmt.Errorf("media %s: %w", key, ErrUnsupported)
	}
	return d.run(argv)
}

// InjectKey sends a single synthetic key event.
func (d *Desktop) InjectKey(name string, op domain.KeyOp) error {
	switch d.goos {
	case "linux":
		return d.injectX(name, op)
	case "darwin":
		return d.injectMac(name, op)
	}
	return ErrUnsupported
}

func (d *Desktop) injectX(name string, op domain.KeyOp) error {
	sym := name
	if s, ok := xKeysyms[name]; ok {
		sym = s
	} else if isFunctionKey(name) {
		sym = strings.ToUpper(name) // f4 -> F4
	}
	verb := "key"
	switch op {
	case domain.KeyDown:
		verb = "keydown"
	case domain.KeyUp:
		verb = "keyup"
	}
	return d.run([]string{"xdotool", verb, sym})
}

// isFunctionKey reports whether name is f followed only by digits.
func isFunctionKey(name string) bool {
	if len(name) < 2 || name[0] != 'f' {
		return false
	}
	for _, r := range name[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (d *Desktop) injectMac(name string, op domain.KeyOp) error {
	var script string
	if mod, ok := macModifiers[name]; ok {
		switch op {
		case domain.KeyDown:
			script = "key down " + mod
		case domain.KeyUp:
			script = "key up " + mod
		default:
			return nil // a lone modifier press has no effect
		}
	} else {
		if op != domain.KeyPress {
			return fmt.Errorf("key %s %s: %w", name, op, ErrUnsupported)
		}
		if code, ok := macKeyCodes[name]; ok {
			script = "key code " + strconv.Itoa(code)
		} else if len([]rune(name)) == 1 {
			script = "keystroke " + strconv.Quote(name)
		} else {
			return fmt.Errorf("key %s: %w", name, ErrUnsupported)
		}
	}
	return d.run([]string{"osascript", "-e", `tell application "System Events" to ` + script})
}

// Start starts a system service.
func (d *Desktop) Start(name string) error {
	switch d.goos {
	case "linux":
		return d.run([]string{"systemctl", "start", name})
	case "darwin":
		return d.run([]string{"launchctl", "start", name})
	}
	return ErrUnsupported
}

// Stop stops a system service.
func (d *Desktop) Stop(name string) error {
	switch d.goos {
	case "linux":
		return d.run([]string{"systemctl", "stop", name})
	case "darwin":
		return d.run([]string{"launchctl", "stop", name})
	}
	return ErrUnsupported
}

// Status reports whether a system service is running.
func (d *Desktop) Status(name string) domain.ServiceStatus {
	switch d.goos {
	case "linux":
		// is-active exits non-zero for inactive units but still prints the state
		out, _ := d.runner.Output("systemctl", "is-active", name)
		switch strings.TrimSpace(string(out)) {
		case "active", "activating", "reloading":
			return domain.ServiceRunning
		case "inactive", "failed", "deactivating":
			return domain.ServiceStopped
		}
	case "darwin":
		out, err := d.runner.Output("launchctl", "list", name)
		if err != nil {
			return domain.ServiceUnknown
		}
		if strings.Contains(string(out), `"PID" =`) {
			return domain.ServiceRunning
		}
		return domain.ServiceStopped
	}
	return domain.ServiceUnknown
}

// Ensure Desktop implements the capability ports.
var (
	_ domain.PowerController   = (*Desktop)(nil)
	_ domain.DisplayController = (*Desktop)(nil)
	_ domain.AudioController   = (*Desktop)(nil)
	_ domain.MediaController   = (*Desktop)(nil)
	_ domain.KeyInjector       = (*Desktop)(nil)
	_ domain.ServiceController = (*Desktop)(nil)
)
