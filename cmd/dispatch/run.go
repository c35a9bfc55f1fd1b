package main

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/kursadbilgin/message-dispatch/internal/config"
	"github.com/kursadbilgin/message-dispatch/internal/gateway"
	"github.com/kursadbilgin/message-dispatch/internal/handler"
	"github.com/kursadbilgin/message-dispatch/internal/infra/database"
	"github.com/kursadbilgin/message-dispatch/internal/infra/database/migrations"
	infraredis "github.com/kursadbilgin/message-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/message-dispatch/internal/lifecycle"
	"github.com/kursadbilgin/message-dispatch/internal/observability"
	"github.com/kursadbilgin/message-dispatch/internal/pacing"
	"github.com/kursadbilgin/message-dispatch/internal/queue"
	"github.com/kursadbilgin/message-dispatch/internal/repository"
	"github.com/kursadbilgin/message-dispatch/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func runSummary(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return &config.Error{Err: err}
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openStore(cfg)
	if err != nil {
		logger.Error("outcome store initialization failed", zap.Error(err))
		return err
	}
	defer closeStore(db) //nolint:errcheck

	report, err := service.NewReportService(repository.NewGormAttemptRepo(db))
	if err != nil {
		return err
	}

	summary, err := report.Summary(ctx)
	if err != nil {
		logger.Error("summary query failed", zap.Error(err))
		return err
	}

	return service.WriteSummary(out, summary)
}

func runDispatch(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gwCfg, err := config.LoadGateway()
	if err != nil {
		return err
	}
	batch, err := config.LoadBatch(gwCfg.MessagesFile, gwCfg.MediaCaption)
	if err != nil {
		return err
	}

	baseLogger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return &config.Error{Err: err}
	}

	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	logger := observability.WithContextLogger(baseLogger, ctx)

	// The trap is released only after every hook has run so a second signal
	// cannot cut cleanup short.
	shutdown := lifecycle.NewShutdown(logger, cfg.ShutdownTimeout())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopTrap := shutdown.Trap(cancel)
	defer stopTrap()

	shutdown.Register("logger", func(context.Context) error {
		_ = baseLogger.Sync()
		return nil
	})
	defer func() {
		if hookErr := shutdown.Run(ctx); hookErr != nil {
			logger.Warn("cleanup finished with errors", zap.Error(hookErr))
		}
	}()

	run := &dispatchRun{
		cfg:      cfg,
		gwCfg:    gwCfg,
		batch:    batch,
		runID:    runID,
		logger:   logger,
		base:     baseLogger,
		shutdown: shutdown,
	}
	result, runErr := run.execute(runCtx)

	if shutdown.Interrupted() {
		logger.Warn("dispatch stopped by signal",
			zap.String("signal", shutdown.Signal()),
			zap.Int("attempted", result.Attempted),
		)
		return &exitError{code: lifecycle.ExitInterrupted, err: runErr}
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(out, "Run %s: %d messages attempted, %d succeeded\n", runID, result.Attempted, result.Succeeded)
	run.writeAttempts(ctx, out)
	return nil
}

// dispatchRun carries the state of one send run from setup to teardown.
// Everything it opens is registered with shutdown.
type dispatchRun struct {
	cfg      *config.Config
	gwCfg    *config.GatewayConfig
	batch    *config.Batch
	runID    string
	logger   *zap.Logger
	base     *zap.Logger
	shutdown *lifecycle.Shutdown

	report *service.ReportService
}

func (r *dispatchRun) execute(ctx context.Context) (service.RunResult, error) {
	db, err := openStore(r.cfg)
	if err != nil {
		r.logger.Error("outcome store initialization failed", zap.Error(err))
		return service.RunResult{}, err
	}
	r.shutdown.Register("database", func(context.Context) error {
		return closeStore(db)
	})
	attempts := repository.NewGormAttemptRepo(db)
	if r.report, err = service.NewReportService(attempts); err != nil {
		return service.RunResult{}, err
	}

	var (
		rdb  *goredis.Client
		lock *infraredis.RunLock
	)
	if r.cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, r.cfg.RedisURL)
		if err != nil {
			r.logger.Error("redis initialization failed", zap.Error(err))
			return service.RunResult{}, err
		}
		r.shutdown.Register("redis", func(context.Context) error {
			return rdb.Close()
		})

		lock, err = infraredis.NewRunLock(rdb, r.gwCfg.AccountID, r.runID, r.cfg.RunLockTTL())
		if err != nil {
			return service.RunResult{}, err
		}
		if err := lock.Acquire(ctx); err != nil {
			r.logger.Error("run lock not acquired", zap.String("key", lock.Key()), zap.Error(err))
			return service.RunResult{}, err
		}
		r.shutdown.Register("run-lock", lock.Release)
	}

	images, err := gateway.NewHTTPImageSource(r.gwCfg.ImageURL)
	if err != nil {
		return service.RunResult{}, &config.Error{Err: err}
	}
	client, err := gateway.NewClient(gateway.Options{
		BaseURL:   r.gwCfg.BaseURL,
		Username:  r.gwCfg.Username,
		Password:  r.gwCfg.Password,
		AccountID: r.gwCfg.AccountID,
		ToNumber:  r.gwCfg.ToNumber,
		Caption:   r.batch.Caption,
		Timeout:   r.gwCfg.Timeout(),
		Images:    images,
	})
	if err != nil {
		return service.RunResult{}, &config.Error{Err: err}
	}

	metrics := observability.NewMetrics()
	dispatcher, err := service.NewDispatchService(
		client,
		attempts,
		pacing.NewFixedPacer(r.gwCfg.PacingInterval()),
		r.batch.Messages,
		r.base,
	)
	if err != nil {
		return service.RunResult{}, err
	}
	dispatcher.SetMetrics(metrics)

	if r.cfg.AMQPURL != "" {
		broker, err := queue.NewRabbitMQ(ctx, r.cfg.AMQPURL)
		if err != nil {
			r.logger.Error("rabbitmq initialization failed", zap.Error(err))
			return service.RunResult{}, err
		}
		publisher := queue.NewRabbitMQPublisher(broker)
		r.shutdown.Register("rabbitmq", func(context.Context) error {
			return publisher.Close()
		})
		dispatcher.SetEventPublisher(publisher)
	}

	g, gctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})

	stopOps := func() {}
	if r.cfg.OpsPort > 0 {
		stopOps, err = startOpsServer(g, runDone, r.cfg, db, rdb, dispatcher, r.report, metrics, r.runID, r.logger)
		if err != nil {
			return service.RunResult{}, err
		}
	}

	holdCtx, stopHold := context.WithCancel(gctx)
	defer stopHold()
	if lock != nil {
		g.Go(func() error {
			if err := lock.Hold(holdCtx); err != nil {
				r.logger.Error("run lock lease lost", zap.String("key", lock.Key()), zap.Error(err))
				return err
			}
			return nil
		})
	}

	var result service.RunResult
	g.Go(func() error {
		defer func() {
			close(runDone)
			stopHold()
			stopOps()
		}()

		var runErr error
		result, runErr = dispatcher.Run(gctx)
		return runErr
	})

	return result, g.Wait()
}

// writeAttempts prints the per-attempt breakdown of the finished run.
func (r *dispatchRun) writeAttempts(ctx context.Context, out io.Writer) {
	if r.report == nil {
		return
	}

	attempts, err := r.report.RunAttempts(ctx, r.runID)
	if err != nil {
		r.logger.Warn("run breakdown unavailable", zap.Error(err))
		return
	}
	if err := service.WriteRunAttempts(out, attempts); err != nil {
		r.logger.Warn("run breakdown not written", zap.Error(err))
	}
}

func startOpsServer(
	g *errgroup.Group,
	runDone <-chan struct{},
	cfg *config.Config,
	db *gorm.DB,
	rdb *goredis.Client,
	dispatcher *service.DispatchService,
	report *service.ReportService,
	metrics *observability.Metrics,
	runID string,
	logger *zap.Logger,
) (func(), error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	app, err := handler.NewOpsApp(handler.OpsOptions{
		Logger:    logger,
		Metrics:   metrics,
		SQLDB:     sqlDB,
		Redis:     rdb,
		Status:    dispatcher,
		Summaries: report,
		RunID:     runID,
	})
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf(":%d", cfg.OpsPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))
	g.Go(func() error {
		if err := app.Listener(ln); err != nil {
			select {
			case <-runDone:
				return nil
			default:
				return fmt.Errorf("ops server failed: %w", err)
			}
		}
		return nil
	})

	return func() {
		if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout()); err != nil {
			logger.Warn("ops server shutdown failed", zap.Error(err))
		}
		_ = ln.Close()
	}, nil
}

func openStore(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, &repository.StoreError{Op: "open", Err: err}
	}
	if err := migrations.Migrate(db); err != nil {
		_ = closeStore(db)
		return nil, &repository.StoreError{Op: "migrate", Err: err}
	}
	return db, nil
}

func closeStore(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
