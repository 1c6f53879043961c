// Package sqlite implements kv.Store on a single-file SQLite database.
// Every named sub-table maps to rows of one relation keyed (tbl, k), so an
// atomic group spanning sub-tables is a plain SQL transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/rezkam/fieldguide/internal/storage/kv"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	tbl TEXT NOT NULL,
	k   TEXT NOT NULL,
	v   BLOB NOT NULL,
	PRIMARY KEY (tbl, k)
);`

// Store is a SQLite-backed implementation of kv.Store.
type Store struct {
	db *sql.DB
}

var _ kv.Store = (*Store)(nil)

// Open opens the database file at path, creating the file, its parent
// directory, and the schema when missing. WAL mode plus a busy timeout keep
// the file shareable between the server and worker processes.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the value stored under (table, key).
func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM kv WHERE tbl = ? AND k = ?`, table, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, key, err)
	}
	return value, nil
}

// Put stores value under (table, key), overwriting any previous value.
func (s *Store) Put(ctx context.Context, table, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (tbl, k, v) VALUES (?, ?, ?)
		 ON CONFLICT (tbl, k) DO UPDATE SET v = excluded.v`,
		table, key, value,
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", table, key, err)
	}
	return nil
}

// Delete removes the record under (table, key).
func (s *Store) Delete(ctx context.Context, table, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE tbl = ? AND k = ?`, table, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return nil
}

// Scan returns entries of table with key >= start in ascending key order.
// The default BINARY collation compares TEXT bytewise, which matches the
// ASCII key encodings used by the callers.
func (s *Store) Scan(ctx context.Context, table, start string, limit int) ([]kv.Entry, error) {
	if limit <= 0 {
		limit = -1 // sqlite treats a negative LIMIT as unlimited
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT k, v FROM kv WHERE tbl = ? AND k >= ? ORDER BY k LIMIT ?`,
		table, start, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("scan %s from %q: %w", table, start, err)
	}
	defer rows.Close()

	var entries []kv.Entry
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s from %q: %w", table, start, err)
	}
	return entries, nil
}

// Apply commits the operations inside one SQL transaction.
func (s *Store) Apply(ctx context.Context, ops ...kv.Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin atomic group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		var res sql.Result
		switch op.Kind {
		case kv.OpPut:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO kv (tbl, k, v) VALUES (?, ?, ?)
				 ON CONFLICT (tbl, k) DO UPDATE SET v = excluded.v`,
				op.Table, op.Key, op.Value,
			)
		case kv.OpDelete:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM kv WHERE tbl = ? AND k = ?`, op.Table, op.Key,
			)
		case kv.OpPutAbsent:
			res, err = tx.ExecContext(ctx,
				`INSERT INTO kv (tbl, k, v) VALUES (?, ?, ?)
				 ON CONFLICT (tbl, k) DO NOTHING`,
				op.Table, op.Key, op.Value,
			)
		case kv.OpDeleteExisting:
			res, err = tx.ExecContext(ctx,
				`DELETE FROM kv WHERE tbl = ? AND k = ?`, op.Table, op.Key,
			)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("apply %s/%s: %w", op.Table, op.Key, err)
		}
		if res != nil {
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("apply %s/%s: %w", op.Table, op.Key, err)
			}
			if n == 0 {
				return kv.ErrConflict
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit atomic group: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
