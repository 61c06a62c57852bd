package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/dyncomp/internal/api"
	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/command"
)

var (
	serveAddr string
	serveMode string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a long-lived session over HTTP",
	Long: `Run one session behind an HTTP API. Clients build schemas, create and
invoke instances, stream events over SSE and scrape Prometheus metrics.

Endpoints:
  POST   /plans                    compile only
  POST   /builds                   build a schema into the root screen
  GET    /instances                list registered instances
  POST   /instances                create one instance
  GET    /instances/{id}           describe an instance and its members
  DELETE /instances/{id}           remove an instance
  POST   /instances/{id}/rename    rename an instance
  POST   /instances/{id}/invoke    invoke a member
  GET    /instances/{id}/await     wait until an identifier is registered
  POST   /rename-matching          rename every identifier containing a fragment
  GET    /mode, PUT /mode          read or switch the execution mode
  GET    /history                  recent builds from the journal
  GET    /events                   server-sent session events
  GET    /stats, /health, /metrics

Examples:
  dyncomp serve
  dyncomp serve --addr :8080 --mode deferred`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on (overrides config)")
	serveCmd.Flags().StringVarP(&serveMode, "mode", "m", "", "execution mode: immediate or deferred (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(cfg, serveMode, command.SourceAPI)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.ErrorErr(log.CatAPI, "Error closing session", err)
		}
	}()

	addr := serveAddr
	if addr == "" {
		addr = cfg.API.Addr
	}

	server, err := api.NewServer(api.ServerConfig{
		Addr: addr,
		HandlerConfig: api.HandlerConfig{
			Session:  rt.session,
			Root:     rt.screen,
			Journal:  rt.journal,
			Gatherer: rt.registry,
			Tracer:   rt.tracing.Tracer(),
		},
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "dyncomp serving on port %d (%s mode)\n", server.Port(), rt.session.Mode())
	_, _ = fmt.Fprintln(out, "Press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(out, "\nShutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.ErrorErr(log.CatAPI, "Error stopping API server", err)
	}
	return nil
}
