package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// DB wraps the cache database connection pool
type DB struct {
	conn  *sql.DB
	clock clockwork.Clock
}

// Option configures a DB
type Option func(*DB)

// WithClock sets the clock used to stamp updated_at
func WithClock(clock clockwork.Clock) Option {
	return func(db *DB) {
		db.clock = clock
	}
}

// New opens the cache database and initializes the schema
func New(dbPath string, opts ...Option) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(db)
	}

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

// initSchema creates the cache tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prices (
		site_id TEXT NOT NULL,
		interval_start TEXT NOT NULL,
		interval_end TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		per_kwh REAL NOT NULL,
		renewables REAL,
		descriptor TEXT,
		updated_at TEXT NOT NULL,
		UNIQUE(site_id, interval_start, channel_type)
	);
	CREATE INDEX IF NOT EXISTS idx_prices_site_channel_start ON prices(site_id, channel_type, interval_start);

	CREATE TABLE IF NOT EXISTS usage (
		site_id TEXT NOT NULL,
		interval_start TEXT NOT NULL,
		interval_end TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		kwh REAL NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(site_id, interval_start, channel_type)
	);
	CREATE INDEX IF NOT EXISTS idx_usage_site_channel_start ON usage(site_id, channel_type, interval_start);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release
	migrations := []struct {
		table, column, ddl string
	}{
		{"usage", "cost", `ALTER TABLE usage ADD COLUMN cost REAL`},
		{"usage", "quality", `ALTER TABLE usage ADD COLUMN quality TEXT`},
		{"usage", "meter_identifier", `ALTER TABLE usage ADD COLUMN meter_identifier TEXT`},
	}
	for _, m := range migrations {
		exists, err := db.hasColumn(m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.conn.Exec(m.ddl); err != nil {
			return fmt.Errorf("adding %s.%s: %w", m.table, m.column, err)
		}
	}

	return nil
}

func (db *DB) hasColumn(table, column string) (bool, error) {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("reading %s columns: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scanning %s columns: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Counts returns the number of cached price and usage rows
func (db *DB) Counts(ctx context.Context) (prices, usage int64, err error) {
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM prices`).Scan(&prices); err != nil {
		return 0, 0, fmt.Errorf("counting prices: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage`).Scan(&usage); err != nil {
		return 0, 0, fmt.Errorf("counting usage: %w", err)
	}
	return prices, usage, nil
}

// Prune deletes rows of both tables whose interval started before now minus
// retention and returns the total number removed.
func (db *DB) Prune(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}
	cutoff := formatTime(now.Add(-retention))

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning prune: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"prices", "usage"} {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE interval_start < ?`, table), cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting pruned %s: %w", table, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total, nil
}

func (db *DB) now() string {
	return formatTime(db.clock.Now())
}
