// Package hotkey parses hotkey strings into key events and plays them
// through a domain.KeyInjector.
package hotkey

import "strings"

// Modifier names in hold priority order.
const (
	ModCtrl  = "ctrl"
	ModAlt   = "alt"
	ModShift = "shift"
	ModWin   = "win"
)

var modifierPriority = map[string]int{
	ModCtrl:  0,
	ModAlt:   1,
	ModShift: 2,
	ModWin:   3,
}

// aliases maps accepted spellings to canonical key names.
// Left/right variants collapse to the generic modifier.
var aliases = map[string]string{
	"control":  ModCtrl,
	"ctl":      ModCtrl,
	"lctrl":    ModCtrl,
	"rctrl":    ModCtrl,
	"lcontrol": ModCtrl,
	"rcontrol": ModCtrl,

	"option": ModAlt,
	"opt":    ModAlt,
	"lalt":   ModAlt,
	"ralt":   ModAlt,
	"altgr":  ModAlt,

	"lshift": ModShift,
	"rshift": ModShift,

	"super":    ModWin,
	"meta":     ModWin,
	"cmd":      ModWin,
	"command":  ModWin,
	"windows":  ModWin,
	"lwin":     ModWin,
	"rwin":     ModWin,
	"winleft":  ModWin,
	"winright": ModWin,

	"return":   "enter",
	"escape":   "esc",
	"pgup":     "pageup",
	"pgdn":     "pagedown",
	"del":      "delete",
	"ins":      "insert",
	"spacebar": "space",
	"bksp":     "backspace",
	"prtsc":    "printscreen",
}

// Normalize lowercases name and resolves aliases.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := aliases[n]; ok {
		return canon
	}
	return n
}

// IsModifier reports whether a normalized key name is a modifier.
func IsModifier(name string) bool {
	_, ok := modifierPriority[name]
	return ok
}
