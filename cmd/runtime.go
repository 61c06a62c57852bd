package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zjrosen/dyncomp/internal/config"
	"github.com/zjrosen/dyncomp/internal/dispatch"
	"github.com/zjrosen/dyncomp/internal/host"
	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/journal"
	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/command"
	"github.com/zjrosen/dyncomp/internal/orchestration/metrics"
	"github.com/zjrosen/dyncomp/internal/orchestration/processor"
	"github.com/zjrosen/dyncomp/internal/orchestration/session"
	"github.com/zjrosen/dyncomp/internal/orchestration/tracing"
	"github.com/zjrosen/dyncomp/internal/presentation"
)

// runtime holds one session and everything wired around it.
type runtime struct {
	session  *session.Session
	screen   *host.Screen
	journal  *journal.Store
	tracing  *tracing.Provider
	registry *prometheus.Registry

	stopJournal context.CancelFunc
	journalDone <-chan struct{}
}

// newRuntime builds a session from cfg. mode overrides the configured
// execution mode when non-empty.
func newRuntime(cfg config.Config, mode string, source command.CommandSource) (*runtime, error) {
	table, err := host.NewTable(cfg.Factory.BaseNamespace)
	if err != nil {
		return nil, fmt.Errorf("registering host types: %w", err)
	}

	execMode := cfg.Mode()
	if mode != "" {
		if execMode, err = session.ParseMode(mode); err != nil {
			return nil, err
		}
	}

	provider, err := tracing.NewProvider(cfg.Tracing.Provider())
	if err != nil {
		return nil, fmt.Errorf("creating trace provider: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dispatcher := dispatch.New(dispatch.WithCacheTTL(cfg.Dispatch.CacheTTL, cfg.Dispatch.CacheCleanup))

	s, err := session.New(table,
		session.WithDispatcher(dispatcher),
		session.WithMode(execMode),
		session.WithQueueCapacity(cfg.Execution.QueueCapacity),
		session.WithAwaitTimeout(cfg.Execution.AwaitTimeout),
		session.WithSource(source),
		session.WithMiddleware(
			tracing.NewTracingMiddleware(tracing.TracingMiddlewareConfig{Tracer: provider.Tracer()}),
			metrics.NewMiddleware(m),
			processor.NewTimeoutMiddleware(processor.TimeoutMiddlewareConfig{}),
		),
	)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}

	rt := &runtime{
		session:  s,
		screen:   host.NewScreen("main"),
		tracing:  provider,
		registry: reg,
	}
	if err := m.TrackQueue(func() int { return s.Stats().QueueLength }); err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	if err := m.TrackCache(dispatcher.CacheStats); err != nil {
		return nil, errors.Join(err, rt.Close())
	}

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.JournalPath())
		if err != nil {
			// History is optional; builds still run without it.
			log.ErrorErr(log.CatJournal, "Failed to open journal", err, "path", cfg.JournalPath())
		} else {
			ctx, cancel := context.WithCancel(context.Background())
			rt.journal = store
			rt.stopJournal = cancel
			rt.journalDone = store.Attach(ctx, s.Broker())
		}
	}

	return rt, nil
}

// Close drains the session, then flushes the journal and traces.
func (rt *runtime) Close() error {
	var errs []error
	errs = append(errs, rt.session.Close())
	if rt.journal != nil {
		rt.stopJournal()
		<-rt.journalDone
		errs = append(errs, rt.journal.Close())
	}
	errs = append(errs, rt.tracing.Shutdown(context.Background()))
	return errors.Join(errs...)
}

// hostTree renders the live component tree with registered identifiers.
func (rt *runtime) hostTree(ctx context.Context) (string, error) {
	ids, err := rt.session.IDs(ctx)
	if err != nil {
		return "", err
	}
	names := make(map[host.Component]string, len(ids))
	for _, id := range ids {
		inst, ok, err := rt.session.Lookup(ctx, id)
		if err != nil {
			return "", err
		}
		if c, isComponent := instance.Unwrap(inst).(host.Component); ok && isComponent {
			names[c] = id
		}
	}
	return presentation.RenderHostTree(rt.screen.Title(), rt.screen, func(c host.Component) string {
		return names[c]
	}), nil
}
