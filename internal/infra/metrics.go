package infra

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// Metrics implements domain.MetricsRecorder with Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	Dispatches       *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	TrackedProcesses prometheus.Gauge
	ScheduledTasks   *prometheus.CounterVec
}

// NewMetrics registers the agent collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcagent_dispatches_total",
				Help: "Dispatched messages by binding kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcagent_dispatch_errors_total",
				Help: "Failed dispatches by error kind",
			},
			[]string{"error_kind"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rcagent_dispatch_duration_seconds",
				Help:    "Time spent handling one message",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		TrackedProcesses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rcagent_tracked_processes",
				Help: "Processes held in the per-topic registry",
			},
		),
		ScheduledTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rcagent_scheduled_tasks_total",
				Help: "Delayed power actions scheduled by binding kind",
			},
			[]string{"kind"},
		),
	}
}

// ObserveDispatch records one dispatch result.
func (m *Metrics) ObserveDispatch(r domain.DispatchResult) {
	kind := string(r.Kind)
	if kind == "" {
		kind = "unknown"
	}
	outcome := "ok"
	if r.Err != nil {
		outcome = "error"
		m.Errors.WithLabelValues(r.ErrorKind).Inc()
	}
	m.Dispatches.WithLabelValues(kind, outcome).Inc()
	m.DispatchDuration.WithLabelValues(kind).Observe(r.Duration.Seconds())
}

// SetTrackedProcesses sets the registry size gauge.
func (m *Metrics) SetTrackedProcesses(n int) {
	m.TrackedProcesses.Set(float64(n))
}

// TaskScheduled counts a delayed action.
func (m *Metrics) TaskScheduled(kind domain.Kind) {
	m.ScheduledTasks.WithLabelValues(string(kind)).Inc()
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry (for tests).
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ensure Metrics implements domain.MetricsRecorder.
var _ domain.MetricsRecorder = (*Metrics)(nil)
