package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// mockInstance is a test double for domain.InstanceRegistry.
type mockInstance struct {
	mu         sync.Mutex
	acquireErr error
	acquired   bool
	released   bool
	status     *domain.InstanceStatus
	heartbeats int
}

func (m *mockInstance) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return m.acquireErr
	}
	m.acquired = true
	return nil
}

func (m *mockInstance) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	return nil
}

func (m *mockInstance) WriteStatus(s domain.InstanceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &s
	return nil
}

func (m *mockInstance) UpdateHeartbeat() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	return nil
}

func (m *mockInstance) ReadStatus() (*domain.InstanceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *mockInstance) GetStatusPath() string { return "/tmp/status.json" }

func (m *mockInstance) Heartbeats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats
}

// mockTransport blocks until canceled, or fails with err.
type mockTransport struct {
	err     error
	started chan struct{}
	once    sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{started: make(chan struct{})}
}

func (m *mockTransport) Run(ctx context.Context) error {
	m.once.Do(func() { close(m.started) })
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return nil
}

func TestDefaultAgentConfig(t *testing.T) {
	assert.Equal(t, 30*time.Second, DefaultAgentConfig().HeartbeatInterval)
}

func TestAgent_RunAndStop(t *testing.T) {
	inst := &mockInstance{}
	tr := newMockTransport()
	var beats atomic.Int32

	agent := NewAgent(AgentConfig{HeartbeatInterval: 5 * time.Millisecond}, inst, tr,
		domain.InstanceStatus{PID: 77, ClientID: "key", Bindings: 4}, zap.NewNop()).
		OnHeartbeat(func() { beats.Add(1) })
	agent.now = func() time.Time { return time.Unix(1700000000, 0) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	<-tr.started
	require.Eventually(t, func() bool { return inst.Heartbeats() >= 2 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, beats.Load(), int32(1))

	cancel()
	require.NoError(t, <-done)

	status, _ := inst.ReadStatus()
	require.NotNil(t, status)
	assert.Equal(t, 77, status.PID)
	assert.Equal(t, int64(1700000000), status.StartedAt)
	assert.Equal(t, int64(1700000000), status.LastHeartbeat)
	assert.True(t, inst.released)
}

func TestAgent_SecondInstanceFails(t *testing.T) {
	inst := &mockInstance{acquireErr: errors.New("already running")}
	tr := newMockTransport()
	agent := NewAgent(DefaultAgentConfig(), inst, tr, domain.InstanceStatus{}, zap.NewNop())

	err := agent.Run(context.Background())
	assert.ErrorContains(t, err, "already running")
	assert.Nil(t, inst.status)
	assert.False(t, inst.released)

	select {
	case <-tr.started:
		t.Fatal("transport must not start without the lock")
	default:
	}
}

func TestAgent_TransportFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	inst := &mockInstance{}
	tr := newMockTransport()
	tr.err = errors.New("connecting to tcp://x:1883: refused")

	agent := NewAgent(DefaultAgentConfig(), inst, tr, domain.InstanceStatus{}, zap.New(core))
	err := agent.Run(context.Background())

	assert.ErrorContains(t, err, "refused")
	assert.True(t, inst.released, "lock released on failure")
	assert.Equal(t, 1, logs.FilterMessage("transport failed").Len())
}
