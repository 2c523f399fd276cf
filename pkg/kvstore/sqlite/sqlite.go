// Package sqlite is the production kvstore.Store adapter: a single
// key/value table fronted by database/sql, wrapping a concrete engine
// behind a narrow interface with key-prefixed get/put/scan helpers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/kvstore"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a single-file sqlite-backed kv
// store at path. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, clerrors.Wrap(err, "open kvstore")
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, clerrors.Wrap(err, "init kvstore schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, clerrors.Wrap(err, "get")
	}
	return value, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return clerrors.Wrap(err, "put")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return clerrors.Wrap(err, "delete")
	}
	return nil
}

func (s *Store) ScanPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	end := prefixUpperBound(prefix)
	return s.ScanRange(ctx, prefix, end, fn)
}

func (s *Store) ScanRange(ctx context.Context, start, end string, fn func(key string, value []byte) bool) error {
	var rows *sql.Rows
	var err error
	if end == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key >= ? ORDER BY key`, start)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`, start, end)
	}
	if err != nil {
		return clerrors.Wrap(err, "scan")
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return clerrors.Wrap(err, "scan row")
		}
		if !fn(k, v) {
			break
		}
	}
	return rows.Err()
}

// prefixUpperBound returns the smallest key strictly greater than every
// key sharing prefix, or "" if prefix is all 0xff bytes (no upper bound
// needed in practice for our key schemes).
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

type batch struct {
	tx *sql.Tx
}

func (b *batch) Put(key string, value []byte) {
	_, _ = b.tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
}

func (b *batch) Delete(key string) {
	_, _ = b.tx.Exec(`DELETE FROM kv WHERE key = ?`, key)
}

func (s *Store) Batch(ctx context.Context, fn func(kvstore.Batch) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return clerrors.Wrap(err, "begin batch")
	}
	if err := fn(&batch{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return clerrors.Wrap(err, "commit batch")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ kvstore.Store = (*Store)(nil)

// ErrMissing is returned by callers that expect a key to exist.
var ErrMissing = fmt.Errorf("kvstore: key not found")
