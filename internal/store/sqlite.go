package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store: closed")

// Store is the SQLite statistics store.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *Store) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// AddKeyCounts adds deltas to the counters of day. Keys are upserted, so
// the label follows the latest configuration.
func (s *Store) AddKeyCounts(day time.Time, deltas []KeyDelta) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	if len(deltas) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO key_stats (key_code, day, label, taps, holds, pass_through)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key_code, day) DO UPDATE SET
			label = excluded.label,
			taps = taps + excluded.taps,
			holds = holds + excluded.holds,
			pass_through = pass_through + excluded.pass_through`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	d := day.Format(DayFormat)
	for _, k := range deltas {
		if _, err := stmt.Exec(k.KeyCode, d, k.Label, k.Taps, k.Holds, k.PassThrough); err != nil {
			return fmt.Errorf("upsert key %d: %w", k.KeyCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// KeyStats totals each key over the days from..to inclusive, ordered by
// key code.
func (s *Store) KeyStats(from, to time.Time) ([]KeyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT key_code,
			(SELECT label FROM key_stats l WHERE l.key_code = k.key_code ORDER BY day DESC LIMIT 1),
			SUM(taps), SUM(holds), SUM(pass_through), MIN(day), MAX(day)
		FROM key_stats k
		WHERE day >= ? AND day <= ?
		GROUP BY key_code
		ORDER BY key_code`,
		from.Format(DayFormat), to.Format(DayFormat))
	if err != nil {
		return nil, fmt.Errorf("query key stats: %w", err)
	}
	defer rows.Close()

	var stats []KeyStat
	for rows.Next() {
		var k KeyStat
		if err := rows.Scan(&k.KeyCode, &k.Label, &k.Taps, &k.Holds, &k.PassThrough, &k.FirstDay, &k.LastDay); err != nil {
			return nil, fmt.Errorf("scan key stat: %w", err)
		}
		stats = append(stats, k)
	}
	return stats, rows.Err()
}

// Summary totals all keys from since up to today.
func (s *Store) Summary(since time.Time) (*Summary, error) {
	keys, err := s.KeyStats(since, time.Now())
	if err != nil {
		return nil, err
	}

	sum := &Summary{Since: since.Format(DayFormat), Keys: keys}
	for _, k := range keys {
		sum.Taps += k.Taps
		sum.Holds += k.Holds
		sum.PassThrough += k.PassThrough
	}
	return sum, nil
}

// Prune deletes counters for days before cutoff and returns the number of
// rows removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	result, err := db.Exec("DELETE FROM key_stats WHERE day < ?", cutoff.Format(DayFormat))
	if err != nil {
		return 0, fmt.Errorf("prune key stats: %w", err)
	}
	return result.RowsAffected()
}

// StartRun records the start of an interception session.
func (s *Store) StartRun(version string, at time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	result, err := db.Exec("INSERT INTO runs (version, started_at) VALUES (?, ?)", version, at.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// EndRun records the end of an interception session.
func (s *Store) EndRun(id int64, at time.Time, reason string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	result, err := db.Exec("UPDATE runs SET stopped_at = ?, reason = ? WHERE id = ?", at.UnixNano(), reason, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run %d not found", id)
	}
	return nil
}

// Runs returns the most recent sessions, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, version, started_at, stopped_at, COALESCE(reason, '')
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var stopped sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Version, &started, &stopped, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		if stopped.Valid {
			t := time.Unix(0, stopped.Int64)
			r.StoppedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
