// Package config loads configuration from QUORUM_* environment variables
// with defaults suitable for a single-node SQLite deployment.
//
// # Configuration Structure
//
// Ops server (health and metrics):
//
//	QUORUM_HOST="0.0.0.0"
//	QUORUM_PORT="9090"
//	QUORUM_SHUTDOWN_TIMEOUT="30s"
//
// Database:
//
//	QUORUM_DB_DRIVER="postgres"  # postgres, sqlite3
//	QUORUM_DATABASE_URL="postgres://localhost/quorum?sslmode=disable"
//	QUORUM_DB_MAX_CONNS="20"
//
// Authorization and graph:
//
//	QUORUM_AUTHZ_BYPASS_PERMISSION="tor.edit"
//	QUORUM_RELATION_TYPE_CACHE_SIZE="256"
//
// Mirror:
//
//	QUORUM_MIRROR_ENABLED="true"
//	QUORUM_MIRROR_BACKEND="redis"  # redis, nats
//	QUORUM_REDIS_ADDR="localhost:6379"
//	QUORUM_NATS_URL="nats://localhost:4222"
//	QUORUM_MIRROR_RESYNC_SCHEDULE="@every 1h"
//
// Audit and seed:
//
//	QUORUM_AUDIT_DATABASE="true"
//	QUORUM_AUDIT_FILE_PATH="/var/log/quorum/audit"
//	QUORUM_AUDIT_RETENTION_DAYS="90"
//	QUORUM_SEED_PATH="/etc/quorum/governance.yaml"
//	QUORUM_SEED_WATCH="true"
//
// Observability:
//
//	QUORUM_LOG_LEVEL="info"  # debug, info, warn, error
//	QUORUM_OTEL_ENABLED="true"
//	QUORUM_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
