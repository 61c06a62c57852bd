// Package metrics exposes Prometheus instrumentation for a build session.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zjrosen/dyncomp/internal/cachemanager"
	"github.com/zjrosen/dyncomp/internal/orchestration/command"
	"github.com/zjrosen/dyncomp/internal/orchestration/events"
	"github.com/zjrosen/dyncomp/internal/orchestration/processor"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics provides observability for the serial executor.
type Metrics struct {
	// Commands processed by type and outcome
	Commands *prometheus.CounterVec

	// Handler latency by command type
	CommandDuration *prometheus.HistogramVec

	// Instances created by type name
	InstancesCreated *prometheus.CounterVec

	// Finished builds by outcome
	Builds *prometheus.CounterVec

	reg prometheus.Registerer
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dyncomp_commands_total",
			Help: "Commands processed by the executor by type and outcome",
		}, []string{"type", "outcome"}),

		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dyncomp_command_duration_seconds",
			Help:    "Duration of command handlers by type",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"type"}),

		InstancesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dyncomp_instances_created_total",
			Help: "Instances created and registered by type name",
		}, []string{"type"}),

		Builds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dyncomp_builds_total",
			Help: "Finished creates and builds by outcome",
		}, []string{"outcome"}),

		reg: reg,
	}
}

// ObserveCommand records one handled command.
func (m *Metrics) ObserveCommand(cmdType command.CommandType, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	m.Commands.WithLabelValues(cmdType.String(), outcome).Inc()
	m.CommandDuration.WithLabelValues(cmdType.String()).Observe(d.Seconds())
}

// ObserveEvent counts creations and finished builds.
func (m *Metrics) ObserveEvent(e any) {
	if m == nil {
		return
	}
	switch ev := e.(type) {
	case events.CreationCompleted:
		m.InstancesCreated.WithLabelValues(ev.TypeName).Inc()
	case events.SchemaCompleted:
		m.Builds.WithLabelValues(OutcomeSuccess).Inc()
	case events.BuildFailed:
		m.Builds.WithLabelValues(OutcomeFailure).Inc()
	}
}

// TrackQueue exports the executor queue length as a gauge.
func (m *Metrics) TrackQueue(length func() int) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dyncomp_queue_length",
		Help: "Commands waiting in the executor queue",
	}, func() float64 { return float64(length()) }))
}

// TrackCache exports resolution cache counters.
func (m *Metrics) TrackCache(stats func() cachemanager.Stats) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dyncomp_resolution_cache_hits_total",
			Help: "Member resolution cache hits",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dyncomp_resolution_cache_misses_total",
			Help: "Member resolution cache misses",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dyncomp_resolution_cache_items",
			Help: "Entries held by the member resolution cache",
		}, func() float64 { return float64(stats().Items) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dyncomp_resolution_cache_hit_ratio",
			Help: "Share of member resolutions answered from the cache",
		}, func() float64 { return stats().HitRatio() }),
	}
	for _, c := range collectors {
		if err := m.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewMiddleware records every command passing through the executor.
func NewMiddleware(m *Metrics) processor.Middleware {
	return func(next processor.CommandHandler) processor.CommandHandler {
		return processor.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)

			success := err == nil && (result == nil || result.Success)
			m.ObserveCommand(cmd.Type(), success, time.Since(start))
			if result != nil {
				for _, e := range result.Events {
					m.ObserveEvent(e)
				}
			}
			return result, err
		})
	}
}
