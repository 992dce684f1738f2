// Package platform assembles the process-wide collaborators shared by the API
// server and the operator CLI.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pubflow/api/internal/config"
	"pubflow/api/internal/email"
	"pubflow/api/internal/events"
	"pubflow/api/internal/export"
	"pubflow/api/internal/insights"
	"pubflow/api/internal/logging"
	"pubflow/api/internal/metrics"
	"pubflow/api/internal/publish"
	"pubflow/api/internal/search"
	"pubflow/api/internal/store"
	"pubflow/api/internal/workflow"
)

type Platform struct {
	Config    config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Store     *store.SQLStore
	Templates *workflow.Registry
	Metrics   *metrics.Metrics
	Search    *search.Service
	Insights  *insights.Client
	Exporter  *export.Service
	Listeners []events.Listener

	reads   *store.Bounded
	closers []func() error
}

// Open connects storage and migrates it. Reads made outside the service
// layer go through a Bounded view with the storage timeout. Optional
// backends (Meilisearch, Redis, MinIO, SMTP) are wired only when configured.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Platform, error) {
	p := &Platform{Config: cfg, Logger: logger, Metrics: metrics.New()}

	dialect, err := store.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	p.DB = db
	p.closers = append(p.closers, db.Close)

	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	p.Store = store.NewSQLStore(db, dialect)
	p.reads = store.NewBounded(p.Store, cfg.StorageTimeout())

	p.Templates, err = workflow.LoadRegistry(cfg.TemplatesDir)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("load templates: %w", err)
	}

	p.Search = p.openSearch()
	p.Insights = insights.NewClient(cfg.InsightsURL, cfg.InsightsTimeout(), logger)
	p.Exporter = export.NewService(p.reads)

	if err := p.openListeners(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Platform) openSearch() *search.Service {
	fallback := search.NewSQL(p.reads)
	if strings.TrimSpace(p.Config.MeiliURL) == "" {
		p.Logger.Info("meilisearch not configured, using sql search")
		return search.NewService(nil, nil, fallback, p.Logger)
	}
	meiliClient := search.NewMeili(p.Config.MeiliURL, p.Config.MeiliMasterKey, p.Logger)
	p.closers = append(p.closers, func() error {
		meiliClient.Close()
		return nil
	})
	return search.NewService(meiliClient, meiliClient, fallback, p.Logger)
}

func (p *Platform) openListeners(ctx context.Context) error {
	cfg := p.Config
	listeners := []events.Listener{events.NewLogListener(p.Logger)}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		publisher, err := events.NewRedisPublisher(cfg.RedisURL, cfg.EventStream)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		p.closers = append(p.closers, publisher.Close)
		listeners = append(listeners, publisher)
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	listeners = append(listeners, email.NewStageNotifier(mailer, cfg.SMTPFromName, p.Logger))

	var objects publish.ObjectStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := publish.NewMinioStore(ctx, publish.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("minio connection failed: %w", err)
		}
		objects = minioStore
	}
	publisher := publish.NewPublisher(p.reads, objects, p.Search,
		p.Logger.With(slog.String(logging.FieldComponent, "publisher")))
	listeners = append(listeners, publisher.WithRendition(p.Exporter))

	p.Listeners = listeners
	return nil
}

// Relay builds the outbox relay over every configured listener.
func (p *Platform) Relay() *events.Relay {
	return events.NewRelay(p.reads, p.Listeners, events.RelayOptions{
		Interval:    p.Config.OutboxInterval(),
		BatchSize:   p.Config.OutboxBatchSize,
		MaxAttempts: p.Config.OutboxMaxAttempts,
		Logger:      p.Logger,
		Metrics:     p.Metrics,
	})
}

// Close releases resources in reverse order of acquisition.
func (p *Platform) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
