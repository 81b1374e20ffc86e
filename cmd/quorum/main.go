package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quorum/pkg/api"
	"github.com/platinummonkey/quorum/pkg/async"
	"github.com/platinummonkey/quorum/pkg/audit"
	"github.com/platinummonkey/quorum/pkg/config"
	"github.com/platinummonkey/quorum/pkg/database"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/mirror"
	"github.com/platinummonkey/quorum/pkg/observability"
	"github.com/platinummonkey/quorum/pkg/seed"
)

var version = "dev"

var (
	migrateOnly  = flag.Bool("migrate-only", false, "Apply migrations, relation types and the seed file, then exit")
	seedPath     = flag.String("seed", "", "Seed file to apply at startup (overrides QUORUM_SEED_PATH)")
	resyncOnBoot = flag.Bool("resync", false, "Publish a full mirror resync once at startup")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *seedPath != "" {
		cfg.Seed.Path = *seedPath
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("Starting quorum")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}
	if otelProviders != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			logger.WithError(err).Fatal("Failed to create OpenTelemetry instruments")
		}
		metrics.WithOTel(otelMetrics)
	}

	// Database
	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to prepare database")
	}

	auditLogger, dbAudit, err := setupAudit(ctx, cfg, db, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize audit logging")
	}

	// The dispatcher must exist before the store so every write is mirrored.
	storeOpts := []graph.Option{
		graph.WithMetrics(metrics),
		graph.WithLogger(logger),
		graph.WithRelationTypeCacheSize(cfg.Graph.RelationTypeCacheSize),
	}
	var (
		dispatcher  *mirror.Dispatcher
		redisClient *redis.Client
	)
	if cfg.Mirror.Enabled && !*migrateOnly {
		dispatcher, redisClient, err = setupMirror(ctx, cfg, metrics, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize graph mirror")
		}
		storeOpts = append(storeOpts, graph.WithNotifier(dispatcher))
	}

	store := graph.New(db, storeOpts...)
	if err := graph.EnsureRelationTypes(ctx, store); err != nil {
		logger.WithError(err).Fatal("Failed to register relation types")
	}

	applier := seed.NewApplier(store, seed.WithAuditLogger(auditLogger))
	if cfg.Seed.Path != "" {
		if err := applySeed(ctx, applier, cfg.Seed.Path); err != nil {
			logger.WithError(err).WithField("path", cfg.Seed.Path).Fatal("Failed to apply seed file")
		}
	}

	if *migrateOnly {
		logger.Info("Migrations applied, exiting")
		auditLogger.Close()
		db.Close()
		return
	}

	// Background jobs
	var watcher *seed.Watcher
	if cfg.Seed.Watch {
		watcher, err = seed.NewWatcher(cfg.Seed.Path, applier, cfg.Seed.Debounce)
		if err != nil {
			logger.WithError(err).Fatal("Failed to watch seed file")
		}
		async.SafeGoNoError(ctx, logger, 0, "seed watcher", watcher.Run)
	}

	scheduler := cron.New(cron.WithLogger(cron.PrintfLogger(logger)))
	if err := scheduleMaintenance(ctx, scheduler, cfg, db, dbAudit, metrics, logger); err != nil {
		logger.WithError(err).Fatal("Failed to schedule maintenance jobs")
	}
	scheduler.Start()

	var resyncCron *cron.Cron
	if dispatcher != nil {
		if *resyncOnBoot {
			async.SafeGo(ctx, logger, cfg.Mirror.ResyncTimeout, "startup mirror resync", func(ctx context.Context) error {
				_, err := dispatcher.Resync(ctx, store)
				return err
			})
		}
		if cfg.Mirror.ResyncSchedule != "" {
			resyncCron, err = dispatcher.ScheduleResync(store, cfg.Mirror.ResyncSchedule, cfg.Mirror.ResyncTimeout)
			if err != nil {
				logger.WithError(err).Fatal("Failed to schedule mirror resync")
			}
		}
	}

	// Ops HTTP server
	checker := observability.NewHealthChecker(db, redisClient)
	checker.SetVersion(version)
	checker.AddCheck("relation_types", true, func(ctx context.Context) error {
		_, ok, err := store.RelationTypeID(ctx, graph.RelHasRole)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("relation type %q is not registered", graph.RelHasRole)
		}
		return nil
	})
	if dispatcher != nil {
		limit := cfg.Mirror.QueueSize * 9 / 10
		checker.AddCheck("mirror_queue", false, func(ctx context.Context) error {
			if depth := dispatcher.QueueDepth(); depth >= limit {
				return fmt.Errorf("mirror queue at %d of %d", depth, cfg.Mirror.QueueSize)
			}
			return nil
		})
	}

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	observability.RegisterHealthRoutes(router, checker)

	// transition history is only searchable in the database audit log
	var history audit.Logger = audit.NoOp()
	if dbAudit != nil {
		history = dbAudit
	}
	api.RegisterRoutes(router, store, history, logger)
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		defer observability.RecoverPanic(logger, "ops server")
		logger.WithField("addr", server.Addr).Info("Ops server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Ops server failed")
		}
	}()

	// Shutdown runs producers first, then the sinks they write to.
	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	if watcher != nil {
		sm.RegisterShutdownFunc("seed-watcher", func(context.Context) error {
			return watcher.Close()
		})
	}
	sm.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		return waitCron(ctx, scheduler)
	})
	if resyncCron != nil {
		sm.RegisterShutdownFunc("mirror-resync", func(ctx context.Context) error {
			return waitCron(ctx, resyncCron)
		})
	}
	if dispatcher != nil {
		sm.RegisterShutdownFunc("mirror", func(ctx context.Context) error {
			return dispatcher.Close(remaining(ctx))
		})
	}
	sm.RegisterShutdownFunc("audit", func(context.Context) error {
		return auditLogger.Close()
	})
	if otelProviders != nil {
		sm.RegisterShutdownFunc("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}
	sm.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})

	if err := sm.WaitForShutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown incomplete")
		os.Exit(1)
	}
	logger.Info("quorum stopped")
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Database connected")

	if err := graph.RunMigrations(ctx, db, cfg.Database.Driver, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// setupAudit returns the combined audit logger and, when audit events go to
// the database, the DB logger so its retention can be scheduled.
func setupAudit(ctx context.Context, cfg *config.Config, db *sql.DB, logger *logrus.Logger) (audit.Logger, *audit.DBLogger, error) {
	var (
		loggers []audit.Logger
		dbAudit *audit.DBLogger
	)
	if cfg.Audit.Database {
		l, err := audit.NewDBLogger(ctx, db, cfg.Database.Driver)
		if err != nil {
			return nil, nil, err
		}
		dbAudit = l
		loggers = append(loggers, l)
	}
	if cfg.Audit.FilePath != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.Audit.FilePath
		fileCfg.Logger = logger
		l, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return nil, nil, err
		}
		loggers = append(loggers, l)
	}

	switch len(loggers) {
	case 0:
		logger.Warn("Audit logging disabled")
		return audit.NoOp(), nil, nil
	case 1:
		return loggers[0], dbAudit, nil
	default:
		return audit.NewMultiLogger(loggers...), dbAudit, nil
	}
}

func setupMirror(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *logrus.Logger) (*mirror.Dispatcher, *redis.Client, error) {
	var (
		publisher   mirror.Publisher
		redisClient *redis.Client
	)
	switch cfg.Mirror.Backend {
	case "redis":
		p, err := mirror.DialRedis(ctx, cfg.Mirror.RedisAddr, cfg.Mirror.RedisPassword, cfg.Mirror.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		publisher, redisClient = p, p.Client()
	case "nats":
		p, err := mirror.ConnectNATS(cfg.Mirror.NATSURL, "quorum")
		if err != nil {
			return nil, nil, err
		}
		publisher = p
	default:
		return nil, nil, fmt.Errorf("unknown mirror backend %q", cfg.Mirror.Backend)
	}

	mcfg := mirror.DefaultConfig(cfg.Mirror.Backend)
	mcfg.SubjectPrefix = cfg.Mirror.SubjectPrefix
	mcfg.Workers = cfg.Mirror.Workers
	mcfg.QueueSize = cfg.Mirror.QueueSize
	mcfg.PublishTimeout = cfg.Mirror.PublishTimeout
	mcfg.Metrics = metrics
	mcfg.Logger = logger

	logger.WithFields(logrus.Fields{
		"backend": cfg.Mirror.Backend,
		"prefix":  cfg.Mirror.SubjectPrefix,
	}).Info("Graph mirror enabled")
	return mirror.NewDispatcher(ctx, publisher, mcfg), redisClient, nil
}

func applySeed(ctx context.Context, applier *seed.Applier, path string) error {
	doc, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	_, err = applier.Apply(ctx, doc)
	return err
}

// scheduleMaintenance adds the audit retention and pool gauge jobs.
func scheduleMaintenance(ctx context.Context, c *cron.Cron, cfg *config.Config, db *sql.DB, dbAudit *audit.DBLogger, metrics *observability.Metrics, logger *logrus.Logger) error {
	if dbAudit != nil && cfg.Audit.CleanupSchedule != "" {
		policy := audit.RetentionPolicy{RetentionDays: cfg.Audit.RetentionDays}
		_, err := c.AddFunc(cfg.Audit.CleanupSchedule, func() {
			deleted, err := dbAudit.Cleanup(ctx, policy)
			if err != nil {
				logger.WithError(err).Warn("Audit retention cleanup failed")
				return
			}
			logger.WithField("deleted", deleted).Info("Audit retention cleanup complete")
		})
		if err != nil {
			return fmt.Errorf("audit cleanup schedule: %w", err)
		}
	}

	_, err := c.AddFunc("@every 15s", func() {
		stats := db.Stats()
		metrics.SetDBStats(stats.InUse, stats.Idle)
	})
	return err
}

// waitCron stops c and waits for running jobs until ctx expires.
func waitCron(ctx context.Context, c *cron.Cron) error {
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return 30 * time.Second
}
