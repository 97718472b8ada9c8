package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"parkd/internal/api"
	"parkd/internal/auth"
	"parkd/internal/obs"
	"parkd/internal/service"
)

const shutdownTimeout = 10 * time.Second

var (
	serveSeed     bool
	serveNoSweep  bool
	serveNoSchema bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the expiry sweeper",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "insert the demo sites when the store has none")
	serveCmd.Flags().BoolVar(&serveNoSweep, "no-sweep", false, "do not run the expiry sweeper in this process")
	serveCmd.Flags().BoolVar(&serveNoSchema, "skip-migrate", false, "do not apply the schema on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	if rt.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET not set")
	}

	shutdownTracer, err := obs.InitTracer(ctx, "parkd", rt.cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("initialising tracing: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdownTracer(sctx)
	})

	if !serveNoSchema {
		if err := rt.migrate(ctx); err != nil {
			return err
		}
	}

	c, err := rt.buildCore()
	if err != nil {
		return err
	}

	if serveSeed || rt.cfg.UseMemoryStore() {
		if _, err := service.SeedDemoSites(ctx, rt.store, service.SystemClock{}, logger); err != nil {
			return err
		}
	}

	if !serveNoSweep {
		if err := c.jobs.Start(ctx); err != nil {
			return err
		}
		defer c.jobs.Stop()
	}

	srv := &http.Server{
		Addr: ":" + rt.cfg.Port,
		Handler: api.NewRouter(api.RouterDeps{
			Reservations: c.reservations,
			Sites:        c.sites,
			Broadcaster:  c.broadcaster,
			Verifier:     auth.NewVerifier(rt.cfg.JWTSecret),
			Store:        rt.store,
			Gatherer:     c.registry,
			CORSOrigins:  rt.cfg.CORSOrigins,
			Logger:       logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams stay open, so no WriteTimeout.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server running", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Closing subscriber channels ends open streams so Shutdown can drain.
	c.broadcaster.Close()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
