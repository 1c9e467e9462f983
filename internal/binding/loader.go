package binding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
	"github.com/eliteGoblin/focusd/rc_agent/internal/hotkey"
)

// maxIndex bounds the numbered keys (application1..application49, ...).
const maxIndex = 49

// Settings are the connection options that live in the bindings file.
type Settings struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	AuthMode string
	Notify   *bool // nil when the file does not say
}

// Snapshot is the parsed bindings file.
type Snapshot struct {
	Bindings []domain.Binding // includes disabled bindings
	Settings Settings
	Warnings []string // non-fatal findings, e.g. non-ASCII hotkeys or skipped bindings
}

// LoadFile reads a .json, .jsonc, .yaml or .yml bindings file.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	snap, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// Parse decodes bindings file content. format is "json", "jsonc", "yaml" or "yml".
func Parse(data []byte, format string) (*Snapshot, error) {
	raw := make(map[string]any)
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	case "json", "jsonc", "":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported bindings format %q", format)
	}

	l := &loader{raw: raw}
	snap := &Snapshot{Settings: l.settings()}
	snap.Bindings = append(snap.Bindings, l.programs()...)
	snap.Bindings = append(snap.Bindings, l.commands()...)
	snap.Bindings = append(snap.Bindings, l.services()...)
	snap.Bindings = append(snap.Bindings, l.builtins()...)
	snap.Bindings = append(snap.Bindings, l.hotkeys()...)
	snap.Warnings = l.warnings

	if l.err != nil {
		return nil, l.err
	}
	return snap, nil
}

type loader struct {
	raw      map[string]any
	warnings []string
	err      error
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// skip drops one binding and keeps loading the rest.
func (l *loader) skip(key string, err error) {
	l.warnings = append(l.warnings, fmt.Sprintf("skipping %s: %v", key, err))
}

func (l *loader) str(key string) string {
	v, ok := l.raw[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func (l *loader) integer(key string, def int) int {
	v, ok := l.raw[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case string:
		if t == "" {
			return def
		}
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	l.fail(fmt.Errorf("key %q: expected integer, got %v", key, v))
	return def
}

func (l *loader) boolean(key string) bool {
	v, ok := l.raw[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case float64:
		return t != 0
	case json.Number:
		return t.String() != "0"
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

func (l *loader) has(key string) bool {
	_, ok := l.raw[key]
	return ok
}

func (l *loader) percentRange(prefix string) domain.PercentRange {
	return domain.PercentRange{
		Min: l.integer(prefix+"_range_min", domain.DefaultRange.Min),
		Max: l.integer(prefix+"_range_max", domain.DefaultRange.Max),
	}
}

func (l *loader) settings() Settings {
	s := Settings{
		Broker:   l.str("broker"),
		Port:     l.integer("port", 0),
		ClientID: l.str("client_id"),
		Username: l.str("mqtt_username"),
		Password: l.str("mqtt_password"),
		AuthMode: l.str("auth_mode"),
	}
	if l.has("notify") {
		n := l.boolean("notify")
		s.Notify = &n
	}
	return s
}

// offPreset turns a preset name and optional custom value into an ActionSpec.
// A non-empty value upgrades kill/none presets to custom.
func offPreset(preset, value string, allowed map[string]domain.ActionKind, def string) (domain.ActionSpec, error) {
	preset = strings.ToLower(strings.TrimSpace(preset))
	if preset == "" {
		preset = def
	}
	if preset == "custom" || (value != "" && (preset == "kill" || preset == "none")) {
		return domain.ActionSpec{Action: domain.ActionCustom, Value: value}, nil
	}
	action, ok := allowed[preset]
	if !ok {
		return domain.ActionSpec{}, fmt.Errorf("unknown off preset %q", preset)
	}
	return domain.ActionSpec{Action: action}, nil
}

var programPresets = map[string]domain.ActionKind{
	"kill": domain.ActionForceKill,
	"none": domain.ActionIgnore,
}

var commandPresets = map[string]domain.ActionKind{
	"kill":      domain.ActionForceKill,
	"interrupt": domain.ActionInterrupt,
	"none":      domain.ActionIgnore,
}

var servicePresets = map[string]domain.ActionKind{
	"stop": domain.ActionStopService,
	"none": domain.ActionIgnore,
}

func (l *loader) programs() []domain.Binding {
	var out []domain.Binding
	for i := 1; i <= maxIndex; i++ {
		key := fmt.Sprintf("application%d", i)
		topic := l.str(key)
		if topic == "" {
			continue
		}
		target := l.str(key + "_on_value")
		if target == "" {
			target = l.str(fmt.Sprintf("%s_directory%d", key, i))
		}
		off, err := offPreset(l.str(key+"_off_preset"), l.str(key+"_off_value"), programPresets, "kill")
		if err != nil {
			l.skip(key, err)
			continue
		}
		out = append(out, domain.Binding{
			Topic:   topic,
			Name:    l.str(key + "_name"),
			Kind:    domain.KindProgram,
			Enabled: l.boolean(key + "_checked"),
			On:      domain.ActionSpec{Action: domain.ActionRun},
			Off:     off,
			Range:   l.percentRange(key),
			Program: &domain.ProgramParams{Target: target},
		})
	}
	return out
}

func (l *loader) commands() []domain.Binding {
	var out []domain.Binding
	for i := 1; i <= maxIndex; i++ {
		key := fmt.Sprintf("command%d", i)
		topic := l.str(key)
		if topic == "" {
			continue
		}
		snippet := l.str(key + "_on_value")
		if snippet == "" {
			snippet = l.str(key + "_value")
		}
		off, err := offPreset(l.str(key+"_off_preset"), l.str(key+"_off_value"), commandPresets, "kill")
		if err != nil {
			l.skip(key, err)
			continue
		}
		window := domain.WindowShow
		switch strings.ToLower(l.str(key + "_window")) {
		case "", "show":
		case "hide":
			window = domain.WindowHide
		default:
			l.skip(key, fmt.Errorf("unknown window mode %q", l.str(key+"_window")))
			continue
		}
		out = append(out, domain.Binding{
			Topic:   topic,
			Name:    l.str(key + "_name"),
			Kind:    domain.KindCommand,
			Enabled: l.boolean(key + "_checked"),
			On:      domain.ActionSpec{Action: domain.ActionRun},
			Off:     off,
			Range:   l.percentRange(key),
			Command: &domain.CommandParams{Snippet: snippet, Window: window},
		})
	}
	return out
}

func (l *loader) services() []domain.Binding {
	var out []domain.Binding
	for i := 1; i <= maxIndex; i++ {
		key := fmt.Sprintf("serve%d", i)
		topic := l.str(key)
		if topic == "" {
			continue
		}
		preset := strings.ToLower(l.str(key + "_off_preset"))
		value := l.str(key + "_off_value")
		var off domain.ActionSpec
		if preset == "custom" {
			off = domain.ActionSpec{Action: domain.ActionCustom, Value: value}
		} else {
			var err error
			off, err = offPreset(preset, "", servicePresets, "stop")
			if err != nil {
				l.skip(key, err)
				continue
			}
		}
		out = append(out, domain.Binding{
			Topic:   topic,
			Name:    l.str(key + "_name"),
			Kind:    domain.KindService,
			Enabled: l.boolean(key + "_checked"),
			On:      domain.ActionSpec{Action: domain.ActionRun},
			Off:     off,
			Range:   l.percentRange(key),
			Service: &domain.ServiceParams{Name: l.str(key + "_value")},
		})
	}
	return out
}

func (l *loader) action(key, def string) domain.ActionKind {
	v := strings.ToLower(l.str(key))
	if v == "" {
		v = def
	}
	return domain.ActionKind(v)
}

func (l *loader) seconds(key string, def int) time.Duration {
	return time.Duration(l.integer(key, def)) * time.Second
}

func (l *loader) builtins() []domain.Binding {
	var out []domain.Binding
	add := func(key string, kind domain.Kind, on, off domain.ActionSpec) {
		topic := l.str(key)
		if topic == "" {
			return
		}
		out = append(out, domain.Binding{
			Topic:   topic,
			Kind:    kind,
			Enabled: l.boolean(key + "_checked"),
			On:      on,
			Off:     off,
			Range:   l.percentRange(strings.ToLower(key)),
		})
	}

	add("Computer", domain.KindComputer,
		domain.ActionSpec{Action: l.action("computer_on_action", "lock"), Delay: l.seconds("computer_on_delay", 0)},
		domain.ActionSpec{Action: l.action("computer_off_action", "none"), Delay: l.seconds("computer_off_delay", 60)})
	add("screen", domain.KindScreen,
		domain.ActionSpec{Action: domain.ActionNone}, domain.ActionSpec{Action: domain.ActionNone})
	add("volume", domain.KindVolume,
		domain.ActionSpec{Action: domain.ActionNone}, domain.ActionSpec{Action: domain.ActionNone})
	add("sleep", domain.KindSleep,
		domain.ActionSpec{Action: l.action("sleep_on_action", "sleep"), Delay: l.seconds("sleep_on_delay", 0)},
		domain.ActionSpec{Action: l.action("sleep_off_action", "none"), Delay: l.seconds("sleep_off_delay", 0)})
	add("media", domain.KindMedia,
		domain.ActionSpec{Action: domain.ActionNone}, domain.ActionSpec{Action: domain.ActionNone})
	return out
}

func (l *loader) hotkeySide(typeKey, valueKey, defType string) domain.ActionSpec {
	t := strings.ToLower(l.str(typeKey))
	if t == "" {
		t = defType
	}
	value := l.str(valueKey)
	if t == "none" || value == "" {
		return domain.ActionSpec{Action: domain.ActionNone}
	}
	if t != "keyboard" {
		l.warnings = append(l.warnings, fmt.Sprintf("%s: unknown hotkey type %q, treated as none", typeKey, t))
		return domain.ActionSpec{Action: domain.ActionNone}
	}
	for _, bad := range hotkey.ValidateASCII(value) {
		l.warnings = append(l.warnings, fmt.Sprintf("%s: non-ASCII character %s", valueKey, bad))
	}
	return domain.ActionSpec{Action: domain.ActionKeyCombo, Value: value}
}

func (l *loader) hotkey(key string) (domain.Binding, bool) {
	topic := l.str(key)
	if topic == "" {
		return domain.Binding{}, false
	}
	delayMs := l.integer(key+"_char_delay_ms", 0)
	if delayMs < 0 {
		delayMs = 0
	}
	return domain.Binding{
		Topic:   topic,
		Name:    l.str(key + "_name"),
		Kind:    domain.KindHotkey,
		Enabled: l.boolean(key + "_checked"),
		On:      l.hotkeySide(key+"_on_type", key+"_on_value", "keyboard"),
		Off:     l.hotkeySide(key+"_off_type", key+"_off_value", "none"),
		Range:   l.percentRange(key),
		Hotkey:  &domain.HotkeyParams{CharDelay: time.Duration(delayMs) * time.Millisecond},
	}, true
}

func (l *loader) hotkeys() []domain.Binding {
	var out []domain.Binding
	for i := 1; i <= maxIndex; i++ {
		if b, ok := l.hotkey(fmt.Sprintf("hotkey%d", i)); ok {
			out = append(out, b)
		}
	}
	// legacy single hotkey topic
	if b, ok := l.hotkey("hotkey"); ok {
		out = append(out, b)
	}
	return out
}
