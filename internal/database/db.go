package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	timeLayout   = time.RFC3339
	periodLayout = "2006-01"
)

// ErrRecordNotFound is returned when a usage record does not exist or is
// already finalized
var ErrRecordNotFound = errors.New("usage record not found or already finalized")

// ErrDeviceNotFound is returned when a device id is unknown
var ErrDeviceNotFound = errors.New("device not found")

// ErrOpenRecordExists is returned when a device already has an open usage
// record for a different period
var ErrOpenRecordExists = errors.New("open usage record already exists")

// PersistenceError reports a failed registry read or write
type PersistenceError struct {
	Op       string
	RecordID int64
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.RecordID != 0 {
		return fmt.Sprintf("%s (record %d): %v", e.Op, e.RecordID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New creates a new database connection and initializes the schema.
// busyTimeout is in seconds.
func New(dbPath string, busyTimeout int) (*DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", dbPath, busyTimeout*1000)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite has a single writer
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, now: time.Now}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		alias TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL REFERENCES devices(id),
		period TEXT NOT NULL,
		baseline REAL NOT NULL DEFAULT 0,
		accumulated REAL,
		tracking INTEGER NOT NULL DEFAULT 0,
		finalized_at TEXT,
		UNIQUE(device_id, period)
	);
	CREATE INDEX IF NOT EXISTS idx_usage_device ON usage_records(device_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_one_open ON usage_records(device_id) WHERE accumulated IS NULL;
	`

	_, err := db.conn.Exec(schema)
	return err
}

// nextPeriod returns the period following p ("2006-01")
func nextPeriod(p string) (string, error) {
	t, err := time.Parse(periodLayout, p)
	if err != nil {
		return "", fmt.Errorf("parsing period %q: %w", p, err)
	}
	return t.AddDate(0, 1, 0).Format(periodLayout), nil
}
