package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// outcome is what a handler reports back to Dispatch.
type outcome struct {
	action  string
	message string
	pid     int
}

var ignored = outcome{action: "ignored"}

func (d *DispatcherImpl) handle(ctx context.Context, b domain.Binding, p domain.Payload) (outcome, error) {
	switch b.Kind {
	case domain.KindComputer:
		return d.handleComputer(b, p)
	case domain.KindSleep:
		return d.handleSleep(b, p)
	case domain.KindScreen:
		return d.handleScreen(b, p)
	case domain.KindVolume:
		return d.handleVolume(b, p)
	case domain.KindMedia:
		return d.handleMedia(b, p)
	case domain.KindProgram:
		return d.handleProgram(b, p)
	case domain.KindService:
		return d.handleService(b, p)
	case domain.KindCommand:
		return d.handleCommand(ctx, b, p)
	case domain.KindHotkey:
		return d.handleHotkey(ctx, b, p)
	default:
		return outcome{}, fmt.Errorf("unhandled binding kind %q", b.Kind)
	}
}

// side picks the on or off spec. Pause has no side.
func side(b domain.Binding, p domain.Payload) (domain.ActionSpec, bool) {
	switch p.Kind {
	case domain.PayloadOn, domain.PayloadOnPercent:
		return b.On, true
	case domain.PayloadOff:
		return b.Off, true
	}
	return domain.ActionSpec{}, false
}

func (d *DispatcherImpl) logIgnored(b domain.Binding, p domain.Payload) {
	d.logger.Info("command has no effect for this binding",
		zap.String("topic", b.Topic),
		zap.String("kind", string(b.Kind)),
		zap.String("payload", string(p.Kind)))
}

// runDelayed schedules fn when delay is positive, otherwise runs it now.
// Errors from a delayed run are logged and notified by the timer.
func (d *DispatcherImpl) runDelayed(b domain.Binding, spec domain.ActionSpec, fn func() error) error {
	if spec.Delay <= 0 {
		return fn()
	}
	d.scheduler.Schedule(b.Kind, spec.Action, spec.Delay, func() {
		if err := fn(); err != nil {
			d.logger.Warn("delayed action failed",
				zap.String("topic", b.Topic),
				zap.String("action", string(spec.Action)),
				zap.String("errorKind", domain.ErrorKind(err)),
				zap.Error(err))
			d.notify(failureMessage(err), domain.NotifyError)
		}
	})
	if d.metrics != nil {
		d.metrics.TaskScheduled(b.Kind)
	}
	return nil
}

func (d *DispatcherImpl) powerAction(action domain.ActionKind) func() error {
	return func() error {
		if action == domain.ActionLock {
			return domain.NewCapabilityError("power", "lock", d.ports.Power.Lock())
		}
		return domain.NewCapabilityError("power", string(action), d.ports.Power.PowerAction(action))
	}
}

var powerMessages = map[domain.ActionKind]string{
	domain.ActionLock:       "Computer locked",
	domain.ActionShutdown:   "Shutting down",
	domain.ActionRestart:    "Restarting",
	domain.ActionLogOff:     "Logging off",
	domain.ActionSleep:      "Going to sleep",
	domain.ActionHibernate:  "Hibernating",
	domain.ActionDisplayOff: "Display off",
	domain.ActionDisplayOn:  "Display on",
}

func (d *DispatcherImpl) handleComputer(b domain.Binding, p domain.Payload) (outcome, error) {
	spec, ok := side(b, p)
	if !ok {
		d.logIgnored(b, p)
		return ignored, nil
	}
	out := outcome{action: string(spec.Action)}

	switch spec.Action {
	case domain.ActionNone:
		return out, nil
	case domain.ActionShutdown, domain.ActionRestart:
		if err := d.runDelayed(b, spec, d.powerAction(spec.Action)); err != nil {
			return out, err
		}
		if spec.Delay > 0 {
			out.message = fmt.Sprintf("%s in %d seconds", powerMessages[spec.Action], int(spec.Delay/time.Second))
		} else {
			out.message = powerMessages[spec.Action]
		}
		return out, nil
	default:
		// delay applies to shutdown and restart only
		if err := d.powerAction(spec.Action)(); err != nil {
			return out, err
		}
		out.message = powerMessages[spec.Action]
		return out, nil
	}
}

func (d *DispatcherImpl) handleSleep(b domain.Binding, p domain.Payload) (outcome, error) {
	spec, ok := side(b, p)
	if !ok {
		d.logIgnored(b, p)
		return ignored, nil
	}
	out := outcome{action: string(spec.Action)}
	if spec.Action == domain.ActionNone {
		return out, nil
	}

	if err := d.runDelayed(b, spec, d.powerAction(spec.Action)); err != nil {
		return out, err
	}
	if spec.Delay > 0 {
		out.message = fmt.Sprintf("%s in %d seconds", powerMessages[spec.Action], int(spec.Delay/time.Second))
	} else {
		out.message = powerMessages[spec.Action]
	}
	return out, nil
}

// level maps On/Off/OnPercent to a 0..100 level.
func level(p domain.Payload) int {
	switch p.Kind {
	case domain.PayloadOn:
		return 100
	case domain.PayloadOnPercent:
		return clamp(p.Percent, 0, 100)
	}
	return 0
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func (d *DispatcherImpl) handleScreen(b domain.Binding, p domain.Payload) (outcome, error) {
	if p.Kind == domain.PayloadPause {
		d.logIgnored(b, p)
		return ignored, nil
	}
	lvl := level(p)
	out := outcome{action: "set_brightness"}
	if err := d.ports.Display.SetBrightness(lvl); err != nil {
		return out, domain.NewCapabilityError("display", "set_brightness", err)
	}
	out.message = fmt.Sprintf("Screen brightness set to %d%%", lvl)
	return out, nil
}

func (d *DispatcherImpl) handleVolume(_ domain.Binding, p domain.Payload) (outcome, error) {
	lvl := level(p) // pause mutes
	out := outcome{action: "set_volume"}
	if err := d.ports.Audio.SetVolume(lvl); err != nil {
		return out, domain.NewCapabilityError("audio", "set_volume", err)
	}
	if lvl == 0 {
		out.message = "Volume muted"
	} else {
		out.message = fmt.Sprintf("Volume set to %d%%", lvl)
	}
	return out, nil
}

// mediaKey maps a payload to a transport key.
// on#n: n<=33 next, 34..66 play/pause, 67+ previous.
func mediaKey(p domain.Payload) domain.MediaKey {
	switch p.Kind {
	case domain.PayloadOn:
		return domain.MediaPrevious
	case domain.PayloadOff:
		return domain.MediaNext
	case domain.PayloadPause:
		return domain.MediaPlayPause
	}
	switch {
	case p.Percent <= 33:
		return domain.MediaNext
	case p.Percent <= 66:
		return domain.MediaPlayPause
	default:
		return domain.MediaPrevious
	}
}

var mediaMessages = map[domain.MediaKey]string{
	domain.MediaNext:      "Next track",
	domain.MediaPrevious:  "Previous track",
	domain.MediaPlayPause: "Play/pause",
}

func (d *DispatcherImpl) handleMedia(_ domain.Binding, p domain.Payload) (outcome, error) {
	key := mediaKey(p)
	out := outcome{action: string(key)}
	if err := d.ports.Media.SendMediaKey(key); err != nil {
		return out, domain.NewCapabilityError("media", string(key), err)
	}
	out.message = mediaMessages[key]
	return out, nil
}

// substitute fills {value} with the on#n value, or empty.
func substitute(snippet string, p domain.Payload) string {
	value := ""
	if p.Kind == domain.PayloadOnPercent {
		value = strconv.Itoa(p.Percent)
	}
	return strings.ReplaceAll(snippet, "{value}", value)
}

// runCustom spawns an untracked snippet.
func (d *DispatcherImpl) runCustom(b domain.Binding, spec domain.ActionSpec, p domain.Payload, window domain.WindowMode) (outcome, error) {
	out := outcome{action: string(domain.ActionCustom)}
	pid, err := d.ports.Spawner.SpawnCommand(substitute(spec.Value, p), window)
	if err != nil {
		return out, domain.NewCapabilityError("spawner", "custom", err)
	}
	out.pid = pid
	out.message = fmt.Sprintf("Ran custom action for %s", b.DisplayName())
	return out, nil
}

func (d *DispatcherImpl) handleProgram(b domain.Binding, p domain.Payload) (outcome, error) {
	spec, ok := side(b, p)
	if !ok {
		d.logIgnored(b, p)
		return ignored, nil
	}
	target := b.Program.Target
	name := b.Name
	if name == "" {
		name = filepath.Base(target)
	}

	switch spec.Action {
	case domain.ActionRun:
		out := outcome{action: "launch"}
		pid, err := d.ports.Launcher.LaunchTarget(target)
		if err != nil {
			return out, domain.NewCapabilityError("launcher", "launch", err)
		}
		out.pid = pid
		out.message = fmt.Sprintf("Launched %s", name)
		return out, nil

	case domain.ActionForceKill:
		out := outcome{action: string(domain.ActionForceKill)}
		pids, err := d.ports.Programs.TerminateTarget(target)
		if err != nil {
			return out, domain.NewCapabilityError("process", "terminate_target", err)
		}
		if len(pids) == 0 {
			out.message = fmt.Sprintf("Stopped %s by image name", name)
		} else {
			out.message = fmt.Sprintf("Stopped %s (%d processes)", name, len(pids))
		}
		return out, nil

	case domain.ActionCustom:
		return d.runCustom(b, spec, p, domain.WindowHide)

	default:
		return ignored, nil
	}
}

func (d *DispatcherImpl) handleService(b domain.Binding, p domain.Payload) (outcome, error) {
	spec, ok := side(b, p)
	if !ok {
		d.logIgnored(b, p)
		return ignored, nil
	}
	svc := b.Service.Name

	switch spec.Action {
	case domain.ActionRun:
		out := outcome{action: "start_service"}
		if d.ports.Services.Status(svc) == domain.ServiceRunning {
			out.message = fmt.Sprintf("%s is already running", svc)
			return out, nil
		}
		if err := d.ports.Services.Start(svc); err != nil {
			return out, domain.NewCapabilityError("service", "start", err)
		}
		out.message = fmt.Sprintf("Started %s", svc)
		return out, nil

	case domain.ActionStopService:
		out := outcome{action: string(domain.ActionStopService)}
		if d.ports.Services.Status(svc) == domain.ServiceStopped {
			out.message = fmt.Sprintf("%s is not running", svc)
			return out, nil
		}
		if err := d.ports.Services.Stop(svc); err != nil {
			return out, domain.NewCapabilityError("service", "stop", err)
		}
		out.message = fmt.Sprintf("Stopped %s", svc)
		return out, nil

	case domain.ActionCustom:
		return d.runCustom(b, spec, p, domain.WindowHide)

	default:
		return ignored, nil
	}
}

func (d *DispatcherImpl) handleCommand(ctx context.Context, b domain.Binding, p domain.Payload) (outcome, error) {
	spec, ok := side(b, p)
	if !ok {
		d.logIgnored(b, p)
		return ignored, nil
	}
	params := b.Command

	switch spec.Action {
	case domain.ActionRun:
		out := outcome{action: "spawn"}
		pid, err := d.ports.Spawner.SpawnCommand(substitute(params.Snippet, p), params.Window)
		if err != nil {
			return out, domain.NewCapabilityError("spawner", "spawn", err)
		}
		d.tracker.Append(b.Topic, pid)
		out.pid = pid
		out.message = fmt.Sprintf("Started %s (pid %d)", b.DisplayName(), pid)
		return out, nil

	case domain.ActionInterrupt:
		return d.interrupt(ctx, b)

	case domain.ActionForceKill:
		return d.forceKill(b)

	case domain.ActionCustom:
		return d.runCustom(b, spec, p, params.Window)

	default:
		return ignored, nil
	}
}

// interrupt escalates against the most recent live process of the topic.
// Older live processes are left alone.
func (d *DispatcherImpl) interrupt(ctx context.Context, b domain.Binding) (outcome, error) {
	out := outcome{action: string(domain.ActionInterrupt)}

	rec, ok := d.tracker.Latest(b.Topic)
	if !ok {
		out.message = fmt.Sprintf("Nothing to interrupt for %s", b.DisplayName())
		return out, nil
	}
	out.pid = rec.PID

	step, err := d.terminator.Escalate(ctx, rec.PID)
	d.tracker.Remove(b.Topic, rec.PID)
	if err != nil {
		return out, domain.NewCapabilityError("process", "interrupt", err)
	}
	out.message = fmt.Sprintf("Interrupted %s (pid %d, %s)", b.DisplayName(), rec.PID, step)
	return out, nil
}

// forceKill kills every live process of the topic and clears it.
func (d *DispatcherImpl) forceKill(b domain.Binding) (outcome, error) {
	out := outcome{action: string(domain.ActionForceKill)}

	live := d.tracker.Live(b.Topic)
	if len(live) == 0 {
		return out, &domain.ProcessNotFoundError{Topic: b.Topic}
	}

	var errs []error
	for _, rec := range live {
		if err := d.terminator.ForceKill(rec.PID); err != nil {
			errs = append(errs, err)
		}
	}
	d.tracker.Clear(b.Topic)

	if len(errs) > 0 {
		return out, domain.NewCapabilityError("process", "force_kill", errors.Join(errs...))
	}
	out.message = fmt.Sprintf("Killed %d task(s) for %s", len(live), b.DisplayName())
	return out, nil
}

func (d *DispatcherImpl) handleHotkey(ctx context.Context, b domain.Binding, p domain.Payload) (outcome, error) {
	spec, ok := side(b, p)
	if !ok {
		d.logIgnored(b, p)
		return ignored, nil
	}
	out := outcome{action: string(spec.Action)}
	if spec.Action != domain.ActionKeyCombo {
		return out, nil
	}
	if err := d.synth.Perform(ctx, spec.Value, b.Hotkey.CharDelay); err != nil {
		return out, err
	}
	out.message = fmt.Sprintf("Sent %s", spec.Value)
	return out, nil
}
