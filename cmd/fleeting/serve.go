package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/fleeting/internal/httpx"
	"github.com/haukened/fleeting/internal/janitor"
	"github.com/haukened/fleeting/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, reaper and metrics flusher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ln, err := net.Listen("tcp", c.cfg.Addr)
			if err != nil {
				return err
			}
			return c.serve(ctx, ln)
		},
	}
	cmd.Flags().String("addr", "", "listen address host:port (env FLEETING_ADDR)")
	return cmd
}

// newServer bounds how long a request may take to arrive. Downloads stream
// for as long as the client reads, so no write timeout is set.
func newServer(handler http.Handler, uploadTimeout time.Duration) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       uploadTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs until ctx is cancelled, then drains in-flight requests and
// stops the background workers.
func (c *cli) serve(ctx context.Context, ln net.Listener) error {
	rt, err := openRuntime(ctx, c.cfg, c.clock, c.logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer rt.close(context.Background())

	rt.metrics.Start(ctx)
	jan := janitor.New(rt.reaper, janitor.Config{Interval: c.cfg.ReapInterval, Clock: c.clock, Logger: c.logger})
	jan.Start(ctx)
	defer jan.Stop()

	h := httpx.New(rt.ingest, rt.fetch, int64(c.cfg.MaxBytes), rt.ready)
	h.Logger = c.logger
	h.CORSOrigins = c.cfg.CORSOrigins
	h.Metrics = metrics.Handler(rt.metrics, c.cfg.MetricsToken)
	srv := newServer(h.Router(), c.cfg.UploadTimeout)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	c.logger.Info("starting server", "addr", ln.Addr().String(), "pid", os.Getpid(), "version", version)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	c.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
