package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quorum/pkg/database"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the graph schema migrations for a dialect.
func GetMigrations(dialect database.Dialect) []Migration {
	idColumn := "BIGSERIAL PRIMARY KEY"
	if dialect == database.SQLite {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	return []Migration{
		{
			Version:     1,
			Description: "Create entities table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS entities (
					id %s,
					entity_type TEXT NOT NULL,
					name TEXT NOT NULL,
					label TEXT NOT NULL,
					sort_order BIGINT NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(entity_type, name)
				);

				CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
				CREATE INDEX IF NOT EXISTS idx_entities_type_name ON entities(entity_type, name);
			`, idColumn),
		},
		{
			Version:     2,
			Description: "Create entity_properties table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entity_properties (
					entity_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
					key TEXT NOT NULL,
					value TEXT NOT NULL,
					PRIMARY KEY (entity_id, key)
				);

				CREATE INDEX IF NOT EXISTS idx_entity_properties_key_value ON entity_properties(key, value);
			`,
		},
		{
			Version:     3,
			Description: "Create relations table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS relations (
					id %s,
					relation_type_id BIGINT NOT NULL REFERENCES entities(id),
					source_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
					target_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL,
					UNIQUE(relation_type_id, source_id, target_id)
				);

				CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source_id, relation_type_id);
				CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id, relation_type_id);
			`, idColumn),
		},
	}
}

// RunMigrations applies every pending migration, each in its own
// transaction, and records it in graph_migrations.
func RunMigrations(ctx context.Context, db *sql.DB, dialect database.Dialect, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS graph_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM graph_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations(dialect) {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running graph migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO graph_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
