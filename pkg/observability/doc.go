// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
// Loggers are logrus loggers with a JSON formatter:
//
//	logger := observability.NewLogger("info", os.Stdout)
//	logger.WithField("scope", "proposal").Info("Workflow seeded")
//
// Request-scoped fields travel in the context:
//
//	ctx = observability.WithRequestID(ctx, reqID)
//	observability.FromContext(ctx).Warn("Transition denied")
//
// # Prometheus Metrics
//
// Every recording method on *Metrics is nil-safe, so components built
// without metrics need no guards:
//
//	metrics := observability.NewMetrics(registry)
//	store := graph.New(db, graph.WithMetrics(metrics))
//
// Attach OTel instruments with WithOTel to record the same measurements
// through an OTLP collector.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("relation_types", true, checkRelationTypes)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "quorum",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
