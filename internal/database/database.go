package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Repository defines the storage operations of the position archive
type Repository interface {
	PositionRepository
	Close() error
}

// DB implements Repository using SQLite
type DB struct {
	db *sql.DB
	PositionRepository
}

// New creates and initializes a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := optimizeSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to optimize database: %w", err)
	}

	database := &DB{db: db, PositionRepository: NewPositionRepository(db)}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// optimizeSQLite tunes SQLite for a small always-on receiver host
func optimizeSQLite(db *sql.DB) error {
	pragmas := []struct {
		stmt string
		what string
	}{
		// WAL lets the API read while the recorder writes
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA cache_size=-16000", "set cache size"},
		{"PRAGMA synchronous=NORMAL", "set synchronous mode"},
		{"PRAGMA temp_store=MEMORY", "set temp_store"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			return fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates the database schema if it doesn't exist
func (d *DB) initSchema() error {
	positionsSchema := `CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server_id TEXT NOT NULL,
		icao TEXT NOT NULL,
		callsign TEXT,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		altitude INTEGER,
		track REAL,
		velocity REAL,
		recorded_at INTEGER NOT NULL,
		UNIQUE(server_id, icao, recorded_at)
	);`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_positions_recorded_at ON positions(recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_icao_recorded_at ON positions(icao, recorded_at)`,
	}

	if _, err := d.db.Exec(positionsSchema); err != nil {
		return fmt.Errorf("failed to create positions table: %w", err)
	}

	for _, idx := range indexes {
		if _, err := d.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
