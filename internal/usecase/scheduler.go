package usecase

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// Task is a handle for a delayed action. Tasks cannot be cancelled.
type Task struct {
	ID     string
	Kind   domain.Kind
	Action domain.ActionKind
	FireAt time.Time
}

// Scheduler runs delayed power actions on their own timers.
type Scheduler struct {
	mu        sync.Mutex
	pending   map[string]Task
	logger    *zap.Logger
	afterFunc func(d time.Duration, f func())
	now       func() time.Time
}

// NewScheduler creates a scheduler backed by time.AfterFunc.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		pending: make(map[string]Task),
		logger:  logger,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		now: time.Now,
	}
}

// Schedule runs fn after delay on a separate goroutine. Every call gets
// its own timer; contradictory later commands do not affect it.
func (s *Scheduler) Schedule(kind domain.Kind, action domain.ActionKind, delay time.Duration, fn func()) Task {
	task := Task{
		ID:     uuid.NewString(),
		Kind:   kind,
		Action: action,
		FireAt: s.now().Add(delay),
	}

	s.mu.Lock()
	s.pending[task.ID] = task
	s.mu.Unlock()

	s.logger.Info("scheduled delayed action",
		zap.String("task", task.ID),
		zap.String("kind", string(kind)),
		zap.String("action", string(action)),
		zap.Duration("delay", delay))

	s.afterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("delayed action panicked",
					zap.String("task", task.ID),
					zap.Any("panic", r))
			}
			s.mu.Lock()
			delete(s.pending, task.ID)
			s.mu.Unlock()
		}()
		s.logger.Info("running delayed action",
			zap.String("task", task.ID),
			zap.String("action", string(action)))
		fn()
	})
	return task
}

// Pending returns tasks that have not fired yet.
func (s *Scheduler) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.pending))
	for _, t := range s.pending {
		out = append(out, t)
	}
	return out
}
