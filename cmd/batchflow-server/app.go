package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaiso/batchflow/internal/api"
	"github.com/shaiso/batchflow/internal/config"
	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/mq"
	"github.com/shaiso/batchflow/internal/orchestrator"
	"github.com/shaiso/batchflow/internal/pipeline"
	"github.com/shaiso/batchflow/internal/repo"
	"github.com/shaiso/batchflow/internal/storage"
	"github.com/shaiso/batchflow/internal/telemetry"
	"github.com/shaiso/batchflow/internal/warehouse"
)

// errBrokerDisconnected — соединение с RabbitMQ потеряно и ещё не восстановлено.
var errBrokerDisconnected = errors.New("broker disconnected")

// bucketEnsurer — хранилище, умеющее создавать bucket (minio).
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context, bucket, region string) error
}

// app — собранные компоненты сервиса.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics

	orch *orchestrator.Orchestrator

	// Postgres (nil, если DB_URL не задан)
	pool  *pgxpool.Pool
	runs  *repo.RunRepo
	steps *repo.StepRepo

	// RabbitMQ (nil, если RABBITMQ_URL не задан или брокер недоступен)
	mqConn    *mq.Connection
	publisher *mq.Publisher

	closers []func() error
}

// newApp собирает компоненты по конфигурации.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	// 1. Логирование и метрики
	a.logger = telemetry.SetupLogger(cfg.Log)
	slog.SetDefault(a.logger)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = telemetry.NewMetrics(a.registry)

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	// 2. Объектное хранилище и warehouse
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("create object store: %w", err)
	}
	if c, isCloser := store.(io.Closer); isCloser {
		a.closers = append(a.closers, c.Close)
	}
	if e, isEnsurer := store.(bucketEnsurer); isEnsurer {
		if err := e.EnsureBucket(ctx, cfg.Bucket, cfg.Storage.Region); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
		}
	}
	a.logger.Info("object store ready", "backend", cfg.Storage.Backend, "bucket", cfg.Bucket)

	wh, err := warehouse.NewBigQuery(ctx, cfg.ProjectID, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create warehouse: %w", err)
	}
	a.closers = append(a.closers, wh.Close)

	// 3. История runs в Postgres
	var history orchestrator.Store
	if cfg.DBURL != "" {
		if err := a.setupDatabase(ctx); err != nil {
			return nil, err
		}
		history = repo.NewRecorder(pipeline.Name, a.runs, a.steps)
	} else {
		a.logger.Warn("DB_URL not set, run history is kept in memory only")
	}

	// 4. События в RabbitMQ
	var events orchestrator.Events
	if cfg.RabbitMQURL != "" {
		a.setupBroker(ctx)
		if a.publisher != nil {
			events = a.publisher
		}
	}

	// 5. Оркестратор и шаги pipeline
	retry := &domain.RetryPolicy{Retries: cfg.Retries, Delay: cfg.RetryDelay}
	a.orch = orchestrator.New(orchestrator.Config{
		Pipeline:     pipeline.Name,
		DefaultRetry: retry,
		Store:        history,
		Events:       events,
		Metrics:      a.metrics,
		Logger:       a.logger,
	})

	err = pipeline.Define(a.orch, pipeline.Config{
		Home:            cfg.PipelineHome,
		DownloadCommand: cfg.DownloadCommand,
		DBTTarget:       cfg.DBTTarget,
		ProjectID:       cfg.ProjectID,
		Dataset:         cfg.Dataset,
		Bucket:          cfg.Bucket,
		Store:           store,
		Warehouse:       wh,
	})
	if err != nil {
		return nil, fmt.Errorf("define pipeline: %w", err)
	}

	ok = true
	return a, nil
}

// setupDatabase подключается к Postgres и применяет миграции.
func (a *app) setupDatabase(ctx context.Context) error {
	pool, err := repo.NewPool(ctx, a.cfg.DBURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.logger.Info("database connected")

	if err := repo.Migrate(ctx, pool, a.logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	a.pool = pool
	a.runs = repo.NewRunRepo(pool)
	a.steps = repo.NewStepRepo(pool)
	return nil
}

// setupBroker подключается к RabbitMQ. Без брокера сервис работает дальше.
func (a *app) setupBroker(ctx context.Context) {
	conn, err := mq.NewConnection(a.cfg.RabbitMQURL, a.logger)
	if err != nil {
		a.logger.Warn("RabbitMQ not available, events are disabled", "error", err)
		return
	}
	a.closers = append(a.closers, conn.Close)
	a.logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, conn); err != nil {
		a.logger.Warn("failed to setup topology", "error", err)
	} else {
		a.logger.Debug("topology declared", "topology", mq.TopologyInfo())
	}

	a.mqConn = conn
	a.publisher = mq.NewPublisher(conn, a.logger)
}

// healthChecks возвращает проверки подключённых зависимостей для /healthz.
func (a *app) healthChecks() map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck)
	if a.pool != nil {
		checks["database"] = a.pool.Ping
	}
	if a.mqConn != nil {
		checks["broker"] = func(context.Context) error {
			if !a.mqConn.IsConnected() {
				return errBrokerDisconnected
			}
			return nil
		}
	}
	return checks
}

// close освобождает ресурсы в обратном порядке.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
