// Package store implements the pipeline's State Store (C1): a
// namespaced key-value store backed by Postgres, with get/set/delete
// and a list-group scan over a namespace.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrNotFound is returned by Get when the (namespace, key) pair has no
// row.
var ErrNotFound = errors.New("store: not found")

// Interface is the get/set/delete/exists contract the pipeline stages,
// gateway, and scheduler depend on, matching the rest of the codebase's
// swappable-collaborator pattern (scraper.Scraper, llm.Client,
// cache.Cache, bus.Bus). *Store is the production implementation;
// MemoryStore backs tests that would otherwise need a live Postgres.
type Interface interface {
	Set(ctx context.Context, namespace, key string, value any) error
	Get(ctx context.Context, namespace, key string, out any) error
	Exists(ctx context.Context, namespace, key string) (bool, error)
	Delete(ctx context.Context, namespace, key string) error
	// List returns every row in namespace as unwrapped, still-encoded
	// JSON, for ListGroup to decode into a caller-chosen type.
	List(ctx context.Context, namespace string) ([][]byte, error)
}

// Store wraps a shared *sql.DB and exposes the get/set/delete/list-group
// contract the pipeline stages, gateway, and scheduler depend on.
type Store struct {
	DB *sql.DB
}

// New creates a Store over a shared, pooled *sql.DB.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

// Set writes value (marshaled to JSON) under namespace/key, replacing
// any existing row. Namespace/key pairs are the unit of atomicity: a
// Get always observes the last committed Set.
func (s *Store) Set(ctx context.Context, namespace, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal value: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO state_entries (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, namespace, key, payload)
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get reads namespace/key into out (a pointer), unwrapping a
// {"data": ...} envelope if present. Returns ErrNotFound if there is
// no row.
func (s *Store) Get(ctx context.Context, namespace, key string, out any) error {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `
		SELECT value FROM state_entries WHERE namespace = $1 AND key = $2
	`, namespace, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get %s/%s: %w", namespace, key, err)
	}

	return json.Unmarshal(Unwrap(raw), out)
}

// Exists reports whether namespace/key has a row, without decoding it.
func (s *Store) Exists(ctx context.Context, namespace, key string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM state_entries WHERE namespace = $1 AND key = $2)
	`, namespace, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: exists %s/%s: %w", namespace, key, err)
	}
	return exists, nil
}

// Delete removes namespace/key. Deleting a missing row is not an
// error — callers treat side-table cleanup as best-effort.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM state_entries WHERE namespace = $1 AND key = $2
	`, namespace, key)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List returns every row in namespace as unwrapped JSON.
func (s *Store) List(ctx context.Context, namespace string) ([][]byte, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT value FROM state_entries WHERE namespace = $1
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", namespace, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: list %s: %w", namespace, err)
		}
		out = append(out, Unwrap(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list %s: %w", namespace, err)
	}
	return out, nil
}

// ListGroup scans every row in namespace and unmarshals each value
// into a T, appending to the returned slice.
func ListGroup[T any](ctx context.Context, s Interface, namespace string) ([]T, error) {
	rows, err := s.List(ctx, namespace)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(rows))
	for _, raw := range rows {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("store: list-group %s: decode row: %w", namespace, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Unwrap strips a {"data": ...} envelope from raw JSON if present,
// otherwise returns raw unchanged. The backing store in this
// implementation never wraps values itself, but every reader goes
// through this single helper so that a future backend (or state
// written by an older version of this service) that does wrap values
// is handled uniformly, per the design note against hand-rolled
// unwrap logic scattered across stages.
func Unwrap(raw []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	if len(envelope.Data) == 0 {
		return raw
	}

	// A plain object that happens to have its own unrelated "data"
	// field must not be misinterpreted as an envelope. We guard against
	// that by requiring the raw object's only top-level key to be
	// "data" ({"data":null} therefore unwraps to null).
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return raw
	}
	if len(keys) == 1 {
		if _, ok := keys["data"]; ok {
			return envelope.Data
		}
	}
	return raw
}
