// batchflow-server — сервис ежемесячного batch pipeline.
//
// serve:
//   - Планирует runs по расписанию (leader election через Postgres)
//   - Принимает ручные запуски через HTTP API и очередь runs.trigger
//   - Выполняет шаги: download → transform → upload → external table → dbt → cleanup
//   - Пишет историю в Postgres и события в RabbitMQ
//
// once:
//   - Выполняет один run и завершается с кодом по его статусу
//
// enqueue:
//   - Публикует запрос на запуск в очередь runs.trigger
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shaiso/batchflow/internal/api"
	"github.com/shaiso/batchflow/internal/config"
	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/mq"
	"github.com/shaiso/batchflow/internal/orchestrator"
	"github.com/shaiso/batchflow/internal/pipeline"
	"github.com/shaiso/batchflow/internal/repo"
	"github.com/shaiso/batchflow/internal/scheduler"
	"github.com/shaiso/batchflow/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

// Таймауты остановки.
const (
	httpShutdownTimeout = 10 * time.Second
	runShutdownTimeout  = 30 * time.Second
)

// errRunFailed — run из команды once завершился не в SUCCEEDED.
var errRunFailed = errors.New("run did not succeed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var configFile string

	rootCmd := &cobra.Command{
		Use:           "batchflow-server",
		Short:         "Monthly batch pipeline service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, json, toml); environment overrides it")

	loadConfig := func() (config.Config, error) {
		cfg, err := config.Load(viper.New(), configFile)
		if err != nil {
			return config.Config{}, err
		}
		return cfg, cfg.Validate()
	}

	rootCmd.AddCommand(
		newServeCmd(loadConfig),
		newOnceCmd(loadConfig),
		newEnqueueCmd(loadConfig),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduler, API and trigger consumer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newOnceCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Execute a single run and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return once(cmd.Context(), cfg, key)
		},
	}

	cmd.Flags().StringVar(&key, "idempotency-key", "", "Skip execution if a run with this key already exists")

	return cmd
}

func newEnqueueCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var payload mq.TriggerPayload

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Request a run through the runs.trigger queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return enqueue(cmd.Context(), cfg, payload)
		},
	}

	cmd.Flags().StringVar(&payload.IdempotencyKey, "idempotency-key", "", "Idempotency key of the requested run")
	cmd.Flags().StringVar(&payload.RequestedBy, "requested-by", os.Getenv("USER"), "Requester name for logs")

	return cmd
}

// serve запускает все компоненты и ждёт сигнала завершения.
func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	logger := a.logger
	logger.Info("starting batchflow-server", "version", version, "pipeline", pipeline.Name)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. Scheduler
	schedCfg := scheduler.Config{
		Pipeline:  pipeline.Name,
		CronExpr:  cfg.Schedule,
		Timezone:  cfg.ScheduleTimezone,
		Triggerer: a.orch,
		Logger:    logger,
	}
	if a.pool != nil {
		lock := repo.NewAdvisoryLock(a.pool, repo.SchedulerLockKey)
		schedCfg.History = a.runs
		schedCfg.Locker = lock
	}
	sched, err := scheduler.New(schedCfg)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", "error", err)
			cancel()
		}
	}()

	// 2. Очередь ручных запусков (останавливается вместе с ctx)
	if a.mqConn != nil {
		consumer := mq.NewConsumer(a.mqConn, logger, mq.ConsumerConfig{
			Queue:   mq.QueueRunsTrigger,
			Handler: mq.NewTriggerHandler(a.orch, logger),
		})
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("trigger consumer stopped", "error", err)
			}
		}()
	}

	// 3. HTTP API + /healthz + /metrics
	apiCfg := api.Config{
		Orchestrator:   a.orch,
		MetricsHandler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		Metrics:        a.metrics,
		HealthChecks:   a.healthChecks(),
		Logger:         logger,
	}
	if a.pool != nil {
		apiCfg.Runs = a.runs
		apiCfg.Steps = a.steps
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewHandler(apiCfg).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// 4. Останавливаем приём новых запусков, затем активные runs
	httpCtx, httpCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	runCtx, runCancel := context.WithTimeout(context.Background(), runShutdownTimeout)
	defer runCancel()
	if err := a.orch.Shutdown(runCtx); err != nil {
		logger.Error("orchestrator shutdown error", "error", err)
	}

	logger.Info("batchflow-server stopped")
	return nil
}

// once выполняет один run. Сигнал завершения отменяет run.
func once(ctx context.Context, cfg config.Config, key string) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	logger := a.logger

	runID, err := a.orch.TriggerRun(ctx, domain.Trigger{
		Type:           domain.TriggerManual,
		Time:           time.Now().UTC(),
		IdempotencyKey: key,
	})
	if err != nil {
		return fmt.Errorf("trigger run: %w", err)
	}

	snap, err := a.orch.Wait(ctx, runID)
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound):
		// Run с этим ключом уже был в истории БД
		logger.Info("run already exists for idempotency key", "run_id", runID, "idempotency_key", key)
		return nil
	case err != nil:
		logger.Warn("interrupted, cancelling run", "run_id", runID)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), runShutdownTimeout)
		defer cancel()
		if err := a.orch.Shutdown(shutdownCtx); err != nil {
			logger.Error("orchestrator shutdown error", "error", err)
		}
		return err
	}

	stats, _ := a.orch.GetRunStats(runID)
	logRunSummary(logger, runID, snap, stats)

	if snap.Run.Status != domain.RunStatusSucceeded {
		return fmt.Errorf("%w: %s %s", errRunFailed, runID, snap.Run.Status)
	}
	return a.orch.Shutdown(ctx)
}

// enqueue публикует запрос на запуск. Run выполнит любой запущенный serve.
func enqueue(ctx context.Context, cfg config.Config, payload mq.TriggerPayload) error {
	if cfg.RabbitMQURL == "" {
		return errors.New("RABBITMQ_URL is required for enqueue")
	}

	logger := telemetry.SetupLogger(cfg.Log)

	conn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	if err := mq.SetupTopology(ctx, conn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}

	if err := mq.NewPublisher(conn, logger).PublishTriggerRequest(ctx, payload); err != nil {
		return fmt.Errorf("publish trigger: %w", err)
	}

	logger.Info("run requested",
		"queue", mq.QueueRunsTrigger,
		"idempotency_key", payload.IdempotencyKey,
		"requested_by", payload.RequestedBy,
	)
	return nil
}

// logRunSummary логирует итог run и статусы шагов.
func logRunSummary(logger *slog.Logger, runID uuid.UUID, snap *orchestrator.RunSnapshot, stats orchestrator.RunStats) {
	for _, step := range snap.Steps {
		logger.Info("step result",
			"run_id", runID,
			"step_id", step.StepID,
			"status", step.Status,
			"attempts", step.Attempts,
			"output", step.Output,
		)
	}
	logger.Info("run finished",
		"run_id", runID,
		"status", snap.Run.Status,
		"failed_step", snap.Run.FailedStep,
		"duration", snap.Run.Duration(),
		"succeeded", stats.SucceededSteps,
		"failed", stats.FailedSteps,
		"skipped", stats.SkippedSteps,
	)
}
