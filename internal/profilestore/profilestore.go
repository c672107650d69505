// Package profilestore persists the optimization-relevant counters the
// runtime-entry core accumulates on a vmregister.FunctionObj (usage
// count, deopt count) across process runs, the way a long-lived service
// would want to carry warm-up history between restarts instead of
// reoptimizing everything from a cold profiler every time. It is driven
// entirely through database/sql, with driver selection dispatched by
// name the way a multi-backend connection manager would.
package profilestore

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names the supported backends, mapped to the database/sql
// driver name registered for each.
type Driver string

const (
	SQLite   Driver = "sqlite"
	Postgres Driver = "postgres"
	MySQL    Driver = "mysql"
	MSSQL    Driver = "mssql"
)

func (d Driver) sqlDriverName() (string, error) {
	switch d {
	case SQLite:
		return "sqlite", nil
	case Postgres:
		return "postgres", nil
	case MySQL:
		return "mysql", nil
	case MSSQL:
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("profilestore: unsupported driver %q", d)
	}
}

// Record is one function's persisted counters, keyed by its qualified
// name since *vmregister.FunctionObj pointers don't survive a restart.
type Record struct {
	QualifiedName string
	UsageCount    int64
	DeoptCount    int32
	Optimizable   bool
	UpdatedAt     time.Time
}

// Store is a database/sql-backed counter store. One Store wraps one
// *sql.DB; callers open as many Stores as they have distinct backends
// configured.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	driver Driver
}

// Open connects to dsn using driver and ensures the counters table
// exists, following a connect-then-ping-then-configure-pool sequence.
func Open(driver Driver, dsn string) (*Store, error) {
	driverName, err := driver.sqlDriverName()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("profilestore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("profilestore: ping: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, driver: driver}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS function_counters (
			qualified_name TEXT PRIMARY KEY,
			usage_count    BIGINT NOT NULL DEFAULT 0,
			deopt_count    INTEGER NOT NULL DEFAULT 0,
			optimizable    BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at     TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("profilestore: ensure schema: %w", err)
	}
	return nil
}

// Save upserts one function's counters. The upsert is written as a
// delete-then-insert rather than a dialect-specific ON CONFLICT clause.
// Its statements use `?` placeholders, which the sqlite and mysql drivers
// accept and the postgres and sqlserver drivers do not.
func (s *Store) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("profilestore: begin: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM function_counters WHERE qualified_name = ?`, rec.QualifiedName); err != nil {
		tx.Rollback()
		return fmt.Errorf("profilestore: delete: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO function_counters (qualified_name, usage_count, deopt_count, optimizable, updated_at) VALUES (?, ?, ?, ?, ?)`,
		rec.QualifiedName, rec.UsageCount, rec.DeoptCount, rec.Optimizable, rec.UpdatedAt,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("profilestore: insert: %w", err)
	}
	return tx.Commit()
}

// Load returns the persisted counters for name, or (Record{}, false, nil)
// if nothing has ever been saved for it.
func (s *Store) Load(qualifiedName string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT qualified_name, usage_count, deopt_count, optimizable, updated_at FROM function_counters WHERE qualified_name = ?`,
		qualifiedName,
	)
	var rec Record
	if err := row.Scan(&rec.QualifiedName, &rec.UsageCount, &rec.DeoptCount, &rec.Optimizable, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("profilestore: load: %w", err)
	}
	return rec, true, nil
}

// Hottest returns the limit functions with the highest usage counts,
// the seed list a new process would reoptimize first on startup rather
// than waiting for the profiler to rediscover them.
func (s *Store) Hottest(limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT qualified_name, usage_count, deopt_count, optimizable, updated_at FROM function_counters ORDER BY usage_count DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("profilestore: hottest: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.QualifiedName, &rec.UsageCount, &rec.DeoptCount, &rec.Optimizable, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("profilestore: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
