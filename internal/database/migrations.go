package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a schema migration step
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations lists every schema step in order. The store is embedded on the
// device, so steps ship with the binary instead of living in .sql files.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_registered_regions",
		SQL: `
			CREATE TABLE IF NOT EXISTS registered_regions (
				identifier TEXT PRIMARY KEY,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				radius REAL NOT NULL,
				notify_on_entry INTEGER NOT NULL DEFAULT 1,
				notify_on_exit INTEGER NOT NULL DEFAULT 1,
				payload TEXT NOT NULL DEFAULT '{}'
			);
			CREATE TABLE IF NOT EXISTS entered_regions (
				identifier TEXT PRIMARY KEY
			);
		`,
	},
	{
		Version: 2,
		Name:    "create_pending_events",
		SQL: `
			CREATE TABLE IF NOT EXISTS pending_events (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				station_id INTEGER NOT NULL,
				station_name TEXT NOT NULL,
				event_type TEXT NOT NULL,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				timestamp INTEGER NOT NULL,
				device_id TEXT NOT NULL
			);
		`,
	},
	{
		Version: 3,
		Name:    "create_location_history",
		SQL: `
			CREATE TABLE IF NOT EXISTS location_history (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				accuracy REAL NOT NULL,
				speed REAL NOT NULL DEFAULT 0,
				heading REAL NOT NULL DEFAULT 0,
				timestamp INTEGER NOT NULL
			);
		`,
	},
	{
		Version: 4,
		Name:    "create_station_cache",
		SQL: `
			CREATE TABLE IF NOT EXISTS station_cache (
				id INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				name_kana TEXT NOT NULL DEFAULT '',
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				polygon_data TEXT NOT NULL DEFAULT '',
				line TEXT NOT NULL DEFAULT ''
			);
			CREATE TABLE IF NOT EXISTS device_state (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);
		`,
	},
	{
		Version: 5,
		Name:    "create_visits",
		SQL: `
			CREATE TABLE IF NOT EXISTS visits (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				station_id INTEGER NOT NULL,
				station_name TEXT NOT NULL DEFAULT '',
				arrived_at INTEGER NOT NULL,
				departed_at INTEGER,
				duration_minutes INTEGER,
				weather TEXT NOT NULL DEFAULT '',
				notes TEXT NOT NULL DEFAULT '',
				latitude REAL NOT NULL,
				longitude REAL NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_visits_station ON visits(station_id);
		`,
	},
}

// Migrate applies all pending migrations
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.Query("SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	return Transaction(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(m.SQL); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec("INSERT INTO migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		return nil
	})
}
