package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the multi-host Store alternative to Redis (SPEC_FULL.md
// §11), adapted from the teacher's graph/store/mysql.go checkpoint table
// into a flat key/value table. It is constructed directly with
// NewMySQLStore(dsn); no entry point in this module selects it.
//
// Schema:
//
//	kv(`key` VARCHAR(512) PRIMARY KEY, value LONGBLOB NOT NULL)
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn (e.g.
// "user:pass@tcp(host:3306)/flowmesh") and ensures the kv table exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql store: open: %w", err)
	}
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS kv (`key` VARCHAR(512) PRIMARY KEY, value LONGBLOB NOT NULL)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql store: migrate: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE `key` = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql store: get %q: %w", key, err)
	}
	return value, nil
}

func (s *MySQLStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (`key`, value) VALUES (?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)",
		key, value)
	if err != nil {
		return fmt.Errorf("mysql store: put %q: %w", key, err)
	}
	return nil
}

func (s *MySQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE `key` = ?", key); err != nil {
		return fmt.Errorf("mysql store: delete %q: %w", key, err)
	}
	return nil
}

func (s *MySQLStore) DeletePrefix(ctx context.Context, prefix string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE `key` LIKE ?", escapeLike(prefix)+"%"); err != nil {
		return fmt.Errorf("mysql store: delete prefix %q: %w", prefix, err)
	}
	return nil
}

func (s *MySQLStore) ScanPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT `key`, value FROM kv WHERE `key` LIKE ? ORDER BY `key`", escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("mysql store: scan %q: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("mysql store: scan row: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (s *MySQLStore) GetWait(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 20 * time.Millisecond
	for {
		v, err := s.Get(ctx, key)
		if err == nil {
			return v, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrNotFound
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *MySQLStore) Close() error { return s.db.Close() }

var _ = strings.TrimSpace // keep strings imported for future prefix normalization
