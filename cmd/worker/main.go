package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/ackdesk/internal/bootstrap"
	"github.com/kirillkom/ackdesk/internal/config"
	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/infrastructure/scheduler"
	"github.com/kirillkom/ackdesk/internal/observability/logging"
	"github.com/kirillkom/ackdesk/internal/observability/metrics"
)

const serviceName = "ackdesk-worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, workerMetrics.Registerer())
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	sweeps := scheduler.New(app.Sweeper, func(counts map[domain.AttentionCategory]int, took time.Duration) {
		workerMetrics.ObserveAttention(serviceName, counts, took)
	})
	g.Go(func() error {
		return sweeps.Run(gctx, cfg.AttentionSweepSchedule)
	})

	if app.Subscriber != nil {
		g.Go(func() error {
			slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
			return app.Subscriber.SubscribeVersionAdded(gctx, func(handlerCtx context.Context, event domain.VersionAddedEvent) error {
				if !event.OccurredAt.IsZero() {
					workerMetrics.ObserveQueueLag(serviceName, time.Since(event.OccurredAt))
				}
				workerMetrics.StartNotification()
				started := time.Now()

				processCtx, cancel := context.WithTimeout(handlerCtx, 5*time.Minute)
				defer cancel()
				summary, err := app.Notifier.HandleVersionAdded(processCtx, event)
				workerMetrics.FinishNotification(serviceName, time.Since(started), err)
				if err != nil {
					return err
				}
				slog.Info("version_notifications_sent",
					"document_id", event.DocumentID,
					"version_id", event.VersionID,
					"sent", summary.Sent,
					"failed", len(summary.Failed),
				)
				return nil
			})
		})
	} else {
		slog.Warn("worker_without_queue", "reason", "NATS_URL is empty; version notifications run inside the api")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("worker_stopped")
}
