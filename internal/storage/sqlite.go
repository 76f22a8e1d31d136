package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBName is the ledger file name inside the data directory.
const DBName = "redactor.db"

// Store is the SQLite usage ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, DBName)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps :memory: databases shared and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}
		if err := s.applyMigration(version, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, name string) error {
	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
		return fmt.Errorf("checking migration %d: %w", version, err)
	}
	if exists > 0 {
		return nil
	}

	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", name, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Usage ---

// RecordUsage inserts e, filling ID and CreatedAt when unset, and returns
// the stored entry.
func (s *Store) RecordUsage(e UsageEntry) (UsageEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := s.db.Exec(`
		INSERT INTO usage (id, created_at, month, result_id, action, provider, model, tokens_used, cost, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.Format(time.RFC3339), e.CreatedAt.Format("2006-01"), e.ResultID,
		e.Action, e.Provider, e.Model, e.TokensUsed, e.Cost, e.Failed, e.Error,
	)
	if err != nil {
		return UsageEntry{}, fmt.Errorf("recording usage: %w", err)
	}
	return e, nil
}

const usageColumns = `id, created_at, result_id, action, provider, model, tokens_used, cost, failed, error`

func scanUsage(sc interface{ Scan(...any) error }) (UsageEntry, error) {
	var e UsageEntry
	var createdAt string
	if err := sc.Scan(&e.ID, &createdAt, &e.ResultID, &e.Action, &e.Provider, &e.Model,
		&e.TokensUsed, &e.Cost, &e.Failed, &e.Error); err != nil {
		return UsageEntry{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return UsageEntry{}, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

// GetUsage returns one ledger entry.
func (s *Store) GetUsage(id string) (UsageEntry, error) {
	e, err := scanUsage(s.db.QueryRow(`SELECT `+usageColumns+` FROM usage WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return UsageEntry{}, ErrNotFound
	}
	return e, err
}

// ListUsage returns entries newest first.
func (s *Store) ListUsage(limit, offset int) ([]UsageEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(`SELECT `+usageColumns+` FROM usage
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageEntry
	for rows.Next() {
		e, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UsageByMonth aggregates entries per provider and model. month is
// "YYYY-MM"; an empty month aggregates everything.
func (s *Store) UsageByMonth(month string) ([]UsageSummary, error) {
	query := `SELECT provider, model, COUNT(*), COALESCE(SUM(failed), 0),
		COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost), 0) FROM usage`
	var args []any
	if month != "" {
		query += ` WHERE month = ?`
		args = append(args, month)
	}
	query += ` GROUP BY provider, model ORDER BY SUM(cost) DESC, provider, model`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.Provider, &u.Model, &u.Calls, &u.Failures, &u.Tokens, &u.Cost); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUsageForResult removes the entries linked to a result record.
func (s *Store) DeleteUsageForResult(resultID string) error {
	if resultID == "" {
		return ErrNotFound
	}
	res, err := s.db.Exec(`DELETE FROM usage WHERE result_id = ?`, resultID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
