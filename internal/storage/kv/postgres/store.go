// Package postgres implements kv.Store on a PostgreSQL database, for
// deployments that want the queue and event log on a managed instance
// instead of local files. Sub-tables map to rows of one relation keyed
// (tbl, k); the key column uses the "C" collation so ORDER BY compares
// bytewise like the other backends.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/pressly/goose/v3"

	"github.com/rezkam/fieldguide/internal/storage/kv"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string        // PostgreSQL connection string
	MaxOpenConns    int           // Maximum open connections (default: 10)
	MaxIdleConns    int           // Maximum idle connections (default: 5)
	ConnMaxLifetime time.Duration // Connection max lifetime (default: 5min)
}

// Store is a PostgreSQL-backed implementation of kv.Store.
type Store struct {
	db *sql.DB
}

var _ kv.Store = (*Store)(nil)

// Open connects to the database described by cfg and runs migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 5
	}
	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// runMigrations applies the embedded goose migrations.
func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	goose.SetBaseFS(embedMigrations)

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// Get returns the value stored under (table, key).
func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM kv WHERE tbl = $1 AND k = $2`, table, key,
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
		`INSERT INTO kv (tbl, k, v) VALUES ($1, $2, $3)
		 ON CONFLICT (tbl, k) DO UPDATE SET v = EXCLUDED.v`,
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
		`DELETE FROM kv WHERE tbl = $1 AND k = $2`, table, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return nil
}

// Scan returns entries of table with key >= start in ascending key order.
func (s *Store) Scan(ctx context.Context, table, start string, limit int) ([]kv.Entry, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT k, v FROM kv WHERE tbl = $1 AND k >= $2 ORDER BY k LIMIT $3`,
		table, start, lim,
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
				`INSERT INTO kv (tbl, k, v) VALUES ($1, $2, $3)
				 ON CONFLICT (tbl, k) DO UPDATE SET v = EXCLUDED.v`,
				op.Table, op.Key, op.Value,
			)
		case kv.OpDelete:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM kv WHERE tbl = $1 AND k = $2`, op.Table, op.Key,
			)
		case kv.OpPutAbsent:
			res, err = tx.ExecContext(ctx,
				`INSERT INTO kv (tbl, k, v) VALUES ($1, $2, $3)
				 ON CONFLICT (tbl, k) DO NOTHING`,
				op.Table, op.Key, op.Value,
			)
		case kv.OpDeleteExisting:
			res, err = tx.ExecContext(ctx,
				`DELETE FROM kv WHERE tbl = $1 AND k = $2`, op.Table, op.Key,
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

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
