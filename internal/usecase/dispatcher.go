// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
	"github.com/eliteGoblin/focusd/rc_agent/internal/hotkey"
)

// Ports bundles the capability ports the dispatcher drives.
type Ports struct {
	Power     domain.PowerController
	Display   domain.DisplayController
	Audio     domain.AudioController
	Media     domain.MediaController
	Keys      domain.KeyInjector
	Launcher  domain.Launcher
	Services  domain.ServiceController
	Spawner   domain.CommandSpawner
	Processes domain.ProcessManager
	Programs  domain.ProgramTerminator
	Notifier  domain.Notifier
}

// DispatcherImpl implements domain.Dispatcher.
// It owns the process tracker and the delayed-action scheduler.
type DispatcherImpl struct {
	bindings   domain.BindingStore
	ports      Ports
	tracker    *ProcessTracker
	terminator *Terminator
	scheduler  *Scheduler
	synth      *hotkey.Synthesizer
	metrics    domain.MetricsRecorder
	journal    domain.Journal
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	bindings domain.BindingStore,
	ports Ports,
	terminator *Terminator,
	logger *zap.Logger,
) *DispatcherImpl {
	return &DispatcherImpl{
		bindings:   bindings,
		ports:      ports,
		tracker:    NewProcessTracker(ports.Processes),
		terminator: terminator,
		scheduler:  NewScheduler(logger),
		synth:      hotkey.NewSynthesizer(ports.Keys, logger),
		logger:     logger,
	}
}

// WithMetrics attaches a metrics recorder.
func (d *DispatcherImpl) WithMetrics(m domain.MetricsRecorder) *DispatcherImpl {
	d.metrics = m
	return d
}

// WithJournal attaches a dispatch journal.
func (d *DispatcherImpl) WithJournal(j domain.Journal) *DispatcherImpl {
	d.journal = j
	return d
}

// Tracker exposes the process tracker (for status and tests).
func (d *DispatcherImpl) Tracker() *ProcessTracker {
	return d.tracker
}

// Scheduler exposes the delayed-action scheduler (for status and tests).
func (d *DispatcherImpl) Scheduler() *Scheduler {
	return d.scheduler
}

// Dispatch handles one message. It never panics and never returns an
// error: failures are logged, notified and reported in the result.
func (d *DispatcherImpl) Dispatch(ctx context.Context, topic string, payload []byte) (result domain.DispatchResult) {
	start := time.Now()
	result = domain.DispatchResult{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   string(payload),
		StartedAt: start,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("handler panic: %v", r)
		}
		result.Duration = time.Since(start)
		d.finish(&result)
	}()

	b, ok := d.bindings.Resolve(topic)
	if !ok {
		result.Err = &domain.UnknownTopicError{Topic: topic}
		return result
	}
	result.Kind = b.Kind

	p, err := ParsePayload(string(payload), b.Range)
	if err != nil {
		result.Err = err
		return result
	}

	out, err := d.handle(ctx, *b, p)
	result.Action = out.action
	result.Message = out.message
	result.SpawnedPID = out.pid
	result.Err = err
	return result
}

// finish is the single reporting boundary for a dispatch.
func (d *DispatcherImpl) finish(result *domain.DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch reporting panicked",
				zap.String("id", result.ID),
				zap.Any("panic", r))
		}
	}()

	result.ErrorKind = domain.ErrorKind(result.Err)

	if result.Err != nil {
		d.logger.Warn("dispatch failed",
			zap.String("id", result.ID),
			zap.String("topic", result.Topic),
			zap.String("payload", result.Payload),
			zap.String("errorKind", result.ErrorKind),
			zap.Error(result.Err))
		result.Message = failureMessage(result.Err)
		d.notify(result.Message, failureLevel(result.Err))
	} else {
		d.logger.Info("dispatch completed",
			zap.String("id", result.ID),
			zap.String("topic", result.Topic),
			zap.String("payload", result.Payload),
			zap.String("kind", string(result.Kind)),
			zap.String("action", result.Action),
			zap.Duration("duration", result.Duration))
		if result.Message != "" {
			d.notify(result.Message, domain.NotifyInfo)
		}
	}

	if d.metrics != nil {
		d.metrics.ObserveDispatch(*result)
		d.metrics.SetTrackedProcesses(d.tracker.Total())
	}
	if d.journal != nil {
		if err := d.journal.Record(toJournalEntry(*result)); err != nil {
			d.logger.Warn("failed to record dispatch", zap.Error(err))
		}
	}
}

func (d *DispatcherImpl) notify(message string, level domain.NotifyLevel) {
	if d.ports.Notifier == nil || message == "" {
		return
	}
	d.ports.Notifier.Notify(message, level)
}

func failureMessage(err error) string {
	var unknown *domain.UnknownTopicError
	var parse *domain.ParseError
	var capErr *domain.CapabilityError
	var notFound *domain.ProcessNotFoundError

	switch {
	case errors.As(err, &unknown):
		return fmt.Sprintf("Unknown topic: %s", unknown.Topic)
	case errors.As(err, &parse):
		return fmt.Sprintf("Invalid command %q: %s", parse.Payload, parse.Reason)
	case errors.As(err, &notFound):
		return fmt.Sprintf("No running task for %s", notFound.Topic)
	case errors.As(err, &capErr):
		return fmt.Sprintf("Action failed (%s): %v", capErr.Port, capErr.Err)
	default:
		return fmt.Sprintf("Action failed: %v", err)
	}
}

func failureLevel(err error) domain.NotifyLevel {
	var notFound *domain.ProcessNotFoundError
	var parse *domain.ParseError
	var unknown *domain.UnknownTopicError
	if errors.As(err, &notFound) || errors.As(err, &parse) || errors.As(err, &unknown) {
		return domain.NotifyWarning
	}
	return domain.NotifyError
}

func toJournalEntry(r domain.DispatchResult) domain.JournalEntry {
	outcome := "ok"
	if r.Err != nil {
		outcome = "error"
	}
	return domain.JournalEntry{
		ID:        r.ID,
		Topic:     r.Topic,
		Payload:   r.Payload,
		Kind:      string(r.Kind),
		Action:    r.Action,
		Outcome:   outcome,
		ErrorKind: r.ErrorKind,
		Message:   r.Message,
		At:        r.StartedAt,
	}
}

// Ensure DispatcherImpl implements domain.Dispatcher.
var _ domain.Dispatcher = (*DispatcherImpl)(nil)
