package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/skyrelay/internal/application"
	"github.com/bnema/skyrelay/internal/domain"
	"github.com/bnema/skyrelay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(app *app) *cobra.Command {
	var paused bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay until interrupted",
		Long:  "Run the relay: poll the Bluesky timeline, post new items to Telegram and answer card buttons and chat commands until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), app, paused)
		},
	}

	cmd.Flags().BoolVar(&paused, "paused", false, "start with polling stopped; send /bluesky start in chat to begin")
	return cmd
}

func runServe(ctx context.Context, app *app, paused bool) error {
	if err := app.cfg.Validate(); err != nil {
		return err
	}

	logger, err := app.newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat, err := app.newTelegram(ctx, logger)
	if err != nil {
		return err
	}
	feed, err := app.newBluesky(ctx, logger)
	if err != nil {
		return err
	}
	if err := feed.Login(ctx); err != nil {
		return err
	}
	translator, err := app.newTranslator(ctx, logger)
	if err != nil {
		return err
	}

	rt := application.NewRuntime(application.Runtime{
		Actions:    feed,
		Chat:       chat,
		Translator: translator,
		Reporter:   chat,
		Logger:     logger,
	})
	loop := application.NewIngestionLoop(rt, feed, app.status, application.LoopConfig{
		PollInterval:    app.cfg.Bluesky.PollInterval,
		MaxErrors:       app.cfg.Bluesky.MaxErrors,
		PageSize:        app.cfg.Bluesky.PageSize,
		SessionLifetime: app.cfg.Session.Lifetime,
	})

	metrics.Register(prometheus.DefaultRegisterer)

	g, gctx := errgroup.WithContext(ctx)

	control := application.NewControlService(gctx, loop, logger)
	if err := control.Attach(chat); err != nil {
		return err
	}

	g.Go(func() error {
		return chat.Run(gctx)
	})

	if addr := app.cfg.Metrics.Addr; addr != "" {
		server := newMetricsServer(addr)
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("relay started",
		zap.String("handle", feed.Handle()),
		zap.Bool("translation", translator != nil),
		zap.Bool("paused", paused),
	)
	chat.Debug(ctx, fmt.Sprintf("Bot started at %s", app.now().Format(time.RFC3339)))

	if !paused {
		if err := loop.Start(gctx); err != nil {
			return err
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		if err := loop.Stop(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
			logger.Warn("stop relay", zap.Error(err))
		}
		<-loop.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := loop.Shutdown(shutdownCtx); err != nil {
			logger.Warn("strip card controls on shutdown", zap.Error(err))
		}
		return control.Detach(chat)
	})

	err = g.Wait()
	logger.Info("relay stopped", zap.Error(err))
	return err
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
