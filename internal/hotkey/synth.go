package hotkey

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// Synthesizer plays hotkey sequences through a key injector.
type Synthesizer struct {
	injector domain.KeyInjector
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(injector domain.KeyInjector, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		injector: injector,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Perform parses spec and plays it. A blank spec is a no-op.
func (s *Synthesizer) Perform(ctx context.Context, spec string, delay time.Duration) error {
	return s.Run(ctx, Parse(spec, delay))
}

// Run plays seq. If an injection fails, held modifiers that are still
// down are released in reverse before the error is returned.
func (s *Synthesizer) Run(ctx context.Context, seq Sequence) error {
	if seq.Empty() {
		s.logger.Debug("empty hotkey sequence, nothing to do")
		return nil
	}

	held := make(map[string]bool, len(seq.Held))
	for _, m := range seq.Held {
		held[m] = false
	}

	for _, step := range seq.Steps {
		if step.Delayed && seq.Delay > 0 {
			if err := s.sleep(ctx, seq.Delay); err != nil {
				s.releaseHeld(seq.Held, held)
				return err
			}
		}
		if err := s.injector.InjectKey(step.Key, step.Op); err != nil {
			s.logger.Warn("key injection failed",
				zap.String("key", step.Key),
				zap.String("op", string(step.Op)),
				zap.Error(err))
			s.releaseHeld(seq.Held, held)
			return &domain.CapabilityError{Port: "keyboard", Op: "inject_key", Err: err}
		}
		if _, ok := held[step.Key]; ok {
			switch step.Op {
			case domain.KeyDown:
				held[step.Key] = true
			case domain.KeyUp:
				held[step.Key] = false
			}
		}
	}
	return nil
}

// releaseHeld lifts any held modifier still down, last pressed first.
func (s *Synthesizer) releaseHeld(order []string, down map[string]bool) {
	for i := len(order) - 1; i >= 0; i-- {
		m := order[i]
		if !down[m] {
			continue
		}
		if err := s.injector.InjectKey(m, domain.KeyUp); err != nil {
			s.logger.Warn("failed to release modifier",
				zap.String("key", m),
				zap.Error(err))
		}
		down[m] = false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
