package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/stevemurr/agentbench/dal"
	"github.com/stevemurr/agentbench/handler"
)

func newServeCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := cfg.logger()
	if err != nil {
		return err
	}
	s, err := cfg.openStore(ctx, log)
	if err != nil {
		return err
	}
	defer s.Close()
	arch, err := cfg.openArchive(ctx)
	if err != nil {
		return err
	}

	d := dal.New(s,
		dal.WithLogger(log.With().Str("component", "dal").Logger()),
		dal.WithRegisterer(prometheus.DefaultRegisterer),
		dal.WithArchive(arch),
	)
	h := handler.New(d, handler.Config{
		Logger:         log.With().Str("component", "http").Logger(),
		AllowedOrigins: cfg.origins(),
	})

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           corsMiddleware(h, cfg.origins()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Backend).Str("data", cfg.DataDir).
			Bool("archive", arch != nil).Msg("agentbench starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
