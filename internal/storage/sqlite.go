package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/dailyfortune/internal/fortune"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is the default Medium, one table per collection.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*SQLite, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "fortune.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps :memory: databases alive and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
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

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
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

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *SQLite) AppliedMigrations() ([]int, error) {
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

// --- Daily cache ---

func (s *SQLite) LoadDaily(ctx context.Context) (DailyCache, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, user_id, id, nickname, value, label, symbol, process_text, advice_text, rendered_result, created_at, scope_id, seq
		FROM daily_fortunes ORDER BY day, seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cache := DailyCache{}
	for rows.Next() {
		var r FortuneRecord
		var day, createdAt string
		if err := rows.Scan(&day, &r.UserID, &r.ID, &r.Nickname, &r.Value, &r.Label, &r.Symbol,
			&r.ProcessText, &r.AdviceText, &r.RenderedResult, &createdAt, &r.ScopeID, &r.Seq); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		r.Day = fortune.DayKey(day)
		if cache[r.Day] == nil {
			cache[r.Day] = map[string]FortuneRecord{}
		}
		cache[r.Day][r.UserID] = r
	}
	return cache, rows.Err()
}

func (s *SQLite) SaveDaily(ctx context.Context, c DailyCache) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM daily_fortunes"); err != nil {
		return fmt.Errorf("clearing daily fortunes: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_fortunes (day, user_id, id, nickname, value, label, symbol, process_text, advice_text, rendered_result, created_at, scope_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for day, users := range c {
		for userID, r := range users {
			if _, err := stmt.ExecContext(ctx, string(day), userID, r.ID, r.Nickname, r.Value, r.Label, r.Symbol,
				r.ProcessText, r.AdviceText, r.RenderedResult, r.CreatedAt.UTC().Format(time.RFC3339Nano), r.ScopeID, r.Seq); err != nil {
				return fmt.Errorf("inserting fortune %s/%s: %w", day, userID, err)
			}
		}
	}
	return tx.Commit()
}

// --- History ---

func (s *SQLite) LoadHistory(ctx context.Context) (History, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id, day, value, label FROM fortune_history")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h := History{}
	for rows.Next() {
		var userID, day string
		var e HistoryEntry
		if err := rows.Scan(&userID, &day, &e.Value, &e.Label); err != nil {
			return nil, err
		}
		if h[userID] == nil {
			h[userID] = map[fortune.DayKey]HistoryEntry{}
		}
		h[userID][fortune.DayKey(day)] = e
	}
	return h, rows.Err()
}

func (s *SQLite) SaveHistory(ctx context.Context, h History) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM fortune_history"); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO fortune_history (user_id, day, value, label) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for userID, days := range h {
		for day, e := range days {
			if _, err := stmt.ExecContext(ctx, userID, string(day), e.Value, e.Label); err != nil {
				return fmt.Errorf("inserting history %s/%s: %w", userID, day, err)
			}
		}
	}
	return tx.Commit()
}
