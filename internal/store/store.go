// Package store is the single-row query/update layer over the AdRoom Postgres tables.
//
// Every method issues independent statements; nothing here opens a transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var ErrUnknownContextType = errors.New("unknown context type")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need a ping or migrations.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	return nil
}

// contextTables maps a context type to the table holding its rows.
var contextTables = map[string]string{
	"product": "products",
	"service": "services",
	"brand":   "brands",
}

func ContextTable(contextType string) (string, error) {
	t, ok := contextTables[contextType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownContextType, contextType)
	}
	return t, nil
}

// queryJSONRow runs a query returning a single row_to_json column.
// A missing row yields (nil, nil).
func (s *Store) queryJSONRow(ctx context.Context, query string, args ...any) (map[string]interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var raw []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return out, nil
}

func (s *Store) queryJSONRows(ctx context.Context, query string, args ...any) ([]map[string]interface{}, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
