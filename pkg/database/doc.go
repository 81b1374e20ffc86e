// Package database opens the relational backing store.
//
// Two drivers are supported: Postgres through github.com/lib/pq for shared
// deployments, and SQLite through github.com/mattn/go-sqlite3 for single-node
// installs and tests. Both speak the same SQL for the graph tables; the only
// dialect-specific statements are the DDL in pkg/graph/migrations.go.
//
// Usage:
//
//	db, err := database.Open(database.DefaultConfig(database.Postgres, url))
//	if err != nil {
//		return err
//	}
//	defer db.Close()
package database
