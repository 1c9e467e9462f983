package infra

import (
	"runtime"
	"strconv"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

const notifyTitle = "Remote control"

// DesktopNotifier implements domain.Notifier. Every message is logged;
// desktop popups are sent only when enabled.
type DesktopNotifier struct {
	runner  CommandRunner
	goos    string
	enabled bool
	logger  *zap.Logger
}

// NewDesktopNotifier creates a notifier for the running OS.
func NewDesktopNotifier(runner CommandRunner, enabled bool, logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{
		runner:  runner,
		goos:    runtime.GOOS,
		enabled: enabled,
		logger:  logger,
	}
}

// Notify logs message and shows it on the desktop. Delivery failures are
// logged and swallowed.
func (n *DesktopNotifier) Notify(message string, level domain.NotifyLevel) {
	n.logger.Info("notification",
		zap.String("level", string(level)),
		zap.String("message", message))

	if !n.enabled {
		return
	}

	var err error
	switch n.goos {
	case "linux":
		err = n.runner.Run("notify-send", "-u", urgency(level), "-a", "rcagent", notifyTitle, message)
	case "darwin":
		script := "display notification " + strconv.Quote(message) + " with title " + strconv.Quote(notifyTitle)
		err = n.runner.Run("osascript", "-e", script)
	default:
		return
	}
	if err != nil {
		n.logger.Debug("desktop notification failed", zap.Error(err))
	}
}

func urgency(level domain.NotifyLevel) string {
	switch level {
	case domain.NotifyError:
		return "critical"
	case domain.NotifyWarning:
		return "normal"
	}
	return "low"
}

// Ensure DesktopNotifier implements domain.Notifier.
var _ domain.Notifier = (*DesktopNotifier)(nil)
