// Package daemon implements the agent run loop.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// Transport delivers messages to the dispatcher until ctx is canceled.
type Transport interface {
	Run(ctx context.Context) error
}

// AgentConfig holds agent loop configuration.
type AgentConfig struct {
	HeartbeatInterval time.Duration // How often the status file is refreshed
}

// DefaultAgentConfig returns default agent configuration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		HeartbeatInterval: 30 * time.Second,
	}
}

// Agent holds the single-instance lock, keeps the status file fresh and
// runs the transport.
type Agent struct {
	config    AgentConfig
	instance  domain.InstanceRegistry
	transport Transport
	status    domain.InstanceStatus
	onBeat    func()
	now       func() time.Time
	logger    *zap.Logger
}

// NewAgent creates an agent. status is written once the lock is held.
func NewAgent(
	config AgentConfig,
	instance domain.InstanceRegistry,
	transport Transport,
	status domain.InstanceStatus,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		config:    config,
		instance:  instance,
		transport: transport,
		status:    status,
		now:       time.Now,
		logger:    logger,
	}
}

// OnHeartbeat registers fn to run on every heartbeat tick.
func (a *Agent) OnHeartbeat(fn func()) *Agent {
	a.onBeat = fn
	return a
}

// Run blocks until ctx is canceled or the transport fails.
// A canceled context is a clean stop and returns nil.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.instance.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := a.instance.Release(); err != nil {
			a.logger.Warn("failed to release instance lock", zap.Error(err))
		}
	}()

	now := a.now().Unix()
	a.status.StartedAt = now
	a.status.LastHeartbeat = now
	if err := a.instance.WriteStatus(a.status); err != nil {
		return err
	}

	a.logger.Info("agent started",
		zap.Int("pid", a.status.PID),
		zap.String("clientId", a.status.ClientID),
		zap.Int("bindings", a.status.Bindings))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	transportErr := make(chan error, 1)
	go func() { transportErr <- a.transport.Run(runCtx) }()

	heartbeatTicker := time.NewTicker(a.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopping")
			if err := <-transportErr; err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("transport stopped with error", zap.Error(err))
			}
			return nil

		case err := <-transportErr:
			if err == nil {
				err = errors.New("transport stopped unexpectedly")
			}
			a.logger.Error("transport failed", zap.Error(err))
			return err

		case <-heartbeatTicker.C:
			if err := a.instance.UpdateHeartbeat(); err != nil {
				a.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
			if a.onBeat != nil {
				a.onBeat()
			}
		}
	}
}
