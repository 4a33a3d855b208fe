package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/dgnsrekt/logowatch/internal/history"
	"github.com/dgnsrekt/logowatch/internal/notify"
	"github.com/dgnsrekt/logowatch/internal/poller"
	"github.com/dgnsrekt/logowatch/internal/server"
	"github.com/dgnsrekt/logowatch/internal/upstream"
	"github.com/dgnsrekt/logowatch/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll the upstream and serve history and live streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

// sutureHook logs supervisor events such as service panics and restarts.
func sutureHook(logger *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		logger.Warn("supervisor event",
			zap.String("event", e.String()),
			zap.Any("details", e.Map()),
		)
	}
}

// supervisorTimeout gives the hub enough time to drain a session stuck in a
// write before suture abandons it.
func supervisorTimeout(shutdown time.Duration) time.Duration {
	return shutdown + ws.ShutdownGrace
}

func serve(ctx context.Context) error {
	catchUp, err := ws.ParseCatchUp(cfg.Live.CatchUp)
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.URL),
		zap.Duration("pollInterval", cfg.Poll.Interval),
		zap.Int("historyCapacity", cfg.History.Capacity),
		zap.Int("queueSize", cfg.Live.QueueSize),
		zap.String("catchUp", string(catchUp)),
		zap.Bool("notify", cfg.Notify.Enabled),
	)

	log := history.New(history.Options{Capacity: cfg.History.Capacity})
	hub := ws.NewHub(ws.HubConfig{QueueSize: cfg.Live.QueueSize}, logger)
	log.AddObserver(hub)

	client := upstream.NewClient(cfg.Upstream.URL, cfg.Upstream.RatePerSecond, cfg.Upstream.Timeout, logger)
	p := poller.New(client, log, notify.New(&cfg.Notify, logger), poller.Config{
		Interval:         cfg.Poll.Interval,
		FailureThreshold: cfg.Poll.FailureThreshold,
		Backoff:          cfg.Poll.Backoff,
		UpstreamURL:      cfg.Upstream.URL,
	}, logger)

	live := ws.NewLiveHandler(hub, log, catchUp, logger)
	router, err := server.NewRouter(server.NewServer(log, hub, live, p, logger), logger)
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Poller and hub run under the supervisor; cancelling supCtx stops both.
	supCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sup := suture.New("logowatch", suture.Spec{
		EventHook: sutureHook(logger),
		Timeout:   supervisorTimeout(cfg.Server.ShutdownTimeout),
	})
	sup.Add(hub)
	sup.Add(p)
	supErr := sup.ServeBackground(supCtx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			runErr = err
		}
	}

	logger.Info("shutting down...")

	// Stop the poller and close live sessions first so streaming handlers
	// return before the HTTP server drains.
	cancel()
	if err := <-supErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("supervisor stopped with error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped",
		zap.Int("historyEntries", log.Len()),
		zap.Int("totalAppended", log.Total()),
	)
	return runErr
}
