package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/kirillkom/ackdesk/internal/adapters/http"
	"github.com/kirillkom/ackdesk/internal/config"
	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
	"github.com/kirillkom/ackdesk/internal/core/usecase"
	rediscache "github.com/kirillkom/ackdesk/internal/infrastructure/cache/redis"
	"github.com/kirillkom/ackdesk/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/ackdesk/internal/infrastructure/extractor/pdfinfo"
	"github.com/kirillkom/ackdesk/internal/infrastructure/mail/smtp"
	"github.com/kirillkom/ackdesk/internal/infrastructure/policy"
	"github.com/kirillkom/ackdesk/internal/infrastructure/queue/inline"
	"github.com/kirillkom/ackdesk/internal/infrastructure/queue/nats"
	"github.com/kirillkom/ackdesk/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/ackdesk/internal/infrastructure/resilience"
	"github.com/kirillkom/ackdesk/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/ackdesk/internal/infrastructure/storage/s3"
	"github.com/kirillkom/ackdesk/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Catalog domain.PolicyCatalog
	Metrics *metrics.DomainMetrics

	Services httpadapter.Services
	Notifier ports.VersionNotificationHandler
	Sweeper  ports.AttentionSweeper

	// Subscriber is nil when NATS is not configured; version events are then
	// handled inline by the API process.
	Subscriber ports.EventSubscriber

	HealthChecks map[string]httpadapter.HealthCheck

	closers []func()
}

// New wires repositories, adapters and use cases. Domain metrics register on
// reg so each binary exports them next to its own collectors.
func New(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*App, error) {
	app := &App{
		Config:       cfg,
		HealthChecks: map[string]httpadapter.HealthCheck{},
	}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	catalog, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy catalog: %w", err)
	}
	app.Catalog = catalog
	app.Metrics = metrics.NewDomainMetrics(reg)

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closers = append(app.closers, func() { _ = db.Close() })
	app.HealthChecks["postgres"] = db.PingContext

	documents := postgres.NewDocumentRepository(db)
	recipients := postgres.NewRecipientRepository(db)
	completions := postgres.NewCompletionRepository(db)
	workspaces := postgres.NewWorkspaceRepository(db)
	contacts := postgres.NewContactRepository(db)
	billing := postgres.NewBillingRepository(db)
	preferences := postgres.NewPreferenceRepository(db)
	analyticsReader := postgres.NewAnalyticsRepository(db)

	blobs, err := app.openBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mailExecutor := resilience.NewExecutor(resilience.MailConfig(cfg.ResilienceRetryMaxAttempts, cfg.ResilienceBreakerEnabled)).
		WithStateObserver(app.Metrics.ObserveBreakerState)
	mailer := smtp.NewSender(smtp.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, mailExecutor)

	delivery := usecase.NewDeliveryUseCase(documents, recipients, workspaces, billing, contacts, mailer, catalog, app.Metrics,
		usecase.DeliveryOptions{PublicBaseURL: cfg.PublicBaseURL, Concurrency: cfg.MailConcurrency})
	app.Notifier = delivery

	events, err := app.openEvents(cfg, delivery)
	if err != nil {
		return nil, err
	}

	var cache ports.AnalyticsCache
	if cfg.RedisURL != "" {
		redisCache, err := rediscache.New(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init analytics cache: %w", err)
		}
		app.closers = append(app.closers, func() { _ = redisCache.Close() })
		app.HealthChecks["redis"] = redisCache.Healthy
		cache = redisCache
	}

	quota := usecase.NewQuotaUseCase(documents, billing, catalog)
	analytics := usecase.NewAnalyticsUseCase(workspaces, workspaces, billing, analyticsReader, cache, xlsx.NewRenderer(), catalog,
		usecase.AnalyticsOptions{CacheTTL: cfg.AnalyticsCacheTTL})
	app.Sweeper = analytics

	app.Services = httpadapter.Services{
		Documents: usecase.NewDocumentUseCase(usecase.DocumentDependencies{
			Documents:   documents,
			Workspaces:  workspaces,
			Members:     workspaces,
			Recipients:  recipients,
			Completions: completions,
			Preferences: preferences,
			Billing:     billing,
			Blobs:       blobs,
			Pages:       pdfinfo.NewCounter(),
			Events:      events,
			Observer:    app.Metrics,
		}, catalog, quota, delivery, usecase.DocumentOptions{
			PublicBaseURL:  cfg.PublicBaseURL,
			MaxUploadBytes: cfg.MaxUploadBytes,
		}),
		Completions: usecase.NewCompletionUseCase(documents, recipients, completions, workspaces, billing, catalog, app.Metrics),
		Delivery:    delivery,
		Seats:       usecase.NewSeatUseCase(workspaces, billing, catalog, app.Metrics),
		Quota:       quota,
		Analytics:   analytics,
		Evidence:    usecase.NewEvidenceUseCase(documents, recipients, completions, workspaces, billing, catalog),
	}

	slog.Info("bootstrap_ready",
		"blob_backend", cfg.BlobBackend,
		"nats", app.Subscriber != nil,
		"redis", cache != nil,
		"smtp", cfg.SMTPHost != "",
	)
	ok = true
	return app, nil
}

func (a *App) openBlobStore(ctx context.Context, cfg config.Config) (ports.BlobStore, error) {
	switch cfg.BlobBackend {
	case "", "localfs":
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init local blob storage: %w", err)
		}
		return storage, nil
	case "s3":
		storage, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 blob storage: %w", err)
		}
		a.HealthChecks["s3"] = storage.Ping
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}
}

// openEvents returns the NATS queue when NATS_URL is set and an in-process
// publisher otherwise.
func (a *App) openEvents(cfg config.Config, handler ports.VersionNotificationHandler) (ports.EventPublisher, error) {
	if cfg.NATSURL == "" {
		publisher := inline.NewPublisher(func(ctx context.Context, event domain.VersionAddedEvent) error {
			_, err := handler.HandleVersionAdded(ctx, event)
			return err
		}, 2*time.Minute)
		a.closers = append(a.closers, publisher.Wait)
		return publisher, nil
	}

	queueExecutor := resilience.NewExecutor(resilience.QueueConfig(cfg.ResilienceRetryMaxAttempts, cfg.ResilienceBreakerEnabled)).
		WithStateObserver(a.Metrics.ObserveBreakerState)
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: queueExecutor})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	a.closers = append(a.closers, queue.Close)
	a.HealthChecks["nats"] = func(context.Context) error {
		if !queue.Healthy() {
			return errors.New("nats connection is not established")
		}
		return nil
	}
	a.Subscriber = queue
	return queue, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
