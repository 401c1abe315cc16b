package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists account bytes in a single `accounts` table.
// Serialization per key comes from SELECT ... FOR UPDATE inside one
// transaction per Update call.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

const accountsSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    key        TEXT PRIMARY KEY,
    version    BIGINT NOT NULL,
    data       BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgresStore connects to Postgres and ensures the accounts table
// exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, accountsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure accounts table: %w", err)
	}

	return &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[PG-STORE] ", log.LstdFlags),
	}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	var rec Record
	rec.Key = key
	err := s.db.QueryRowContext(ctx,
		`SELECT version, data FROM accounts WHERE key = $1`, key,
	).Scan(&rec.Version, &rec.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get account %s: %w", key, err)
	}
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, key string, fn UpdateFunc) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin update %s: %w", key, err)
	}
	defer tx.Rollback()

	cur := Record{Key: key}
	err = tx.QueryRowContext(ctx,
		`SELECT version, data FROM accounts WHERE key = $1 FOR UPDATE`, key,
	).Scan(&cur.Version, &cur.Bytes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("lock account %s: %w", key, err)
	}

	next, err := fn(cur)
	if err != nil {
		return Record{}, err
	}
	next.Key = key
	next.Version = cur.Version + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (key, version, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		 SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = now()`,
		key, next.Version, next.Bytes,
	)
	if err != nil {
		return Record{}, fmt.Errorf("write account %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit account %s: %w", key, err)
	}
	return next, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM accounts WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) Close() error { return s.db.Close() }
