// Package state persists per-transport session state (pairing credentials,
// update offsets) as JSON objects keyed by transport name.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

const DefaultMaxStateBytes = 1 << 20 // 1 MiB

type Store struct {
	db       *sql.DB
	maxBytes int
	now      func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		maxBytes: DefaultMaxStateBytes,
		now:      time.Now,
	}
}

// Get returns the full state blob for a transport, or {} if missing.
func (s *Store) Get(ctx context.Context, transport string) (json.RawMessage, error) {
	if transport == "" {
		return nil, fmt.Errorf("transport name is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM transport_state WHERE transport_name = ?;", transport).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transport state: %w", err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("stored transport state is invalid JSON for transport=%q", transport)
	}
	return json.RawMessage(raw), nil
}

// Field decodes one top-level key of a transport's state into out. It reports
// false when the key is absent.
func (s *Store) Field(ctx context.Context, transport, key string, out any) (bool, error) {
	raw, err := s.Get(ctx, transport)
	if err != nil {
		return false, err
	}
	obj, err := decodeObjectOrEmpty(raw)
	if err != nil {
		return false, fmt.Errorf("decode stored state: %w", err)
	}
	v, ok := obj[key]
	if !ok || string(v) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(v, out); err != nil {
		return false, fmt.Errorf("decode state field %q: %w", key, err)
	}
	return true, nil
}

// SetField stores value under key, leaving other keys untouched.
func (s *Store) SetField(ctx context.Context, transport, key string, value any) error {
	b, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return fmt.Errorf("encode state field %q: %w", key, err)
	}
	_, err = s.ShallowMerge(ctx, transport, b)
	return err
}

// ShallowMerge applies updates as a shallow merge (top-level keys replaced).
// The merged state is persisted and returned.
func (s *Store) ShallowMerge(ctx context.Context, transport string, updates json.RawMessage) (json.RawMessage, error) {
	if transport == "" {
		return nil, fmt.Errorf("transport name is empty")
	}

	upd, err := decodeObjectOrEmpty(updates)
	if err != nil {
		return nil, fmt.Errorf("decode state updates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curRaw string
	err = tx.QueryRowContext(ctx, "SELECT state FROM transport_state WHERE transport_name = ?;", transport).Scan(&curRaw)
	if errors.Is(err, sql.ErrNoRows) {
		curRaw = "{}"
	} else if err != nil {
		return nil, fmt.Errorf("read transport state: %w", err)
	}

	cur, err := decodeObjectOrEmpty(json.RawMessage(curRaw))
	if err != nil {
		return nil, fmt.Errorf("decode stored state: %w", err)
	}

	maps.Copy(cur, upd)

	merged, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("marshal merged state: %w", err)
	}
	if len(merged) > s.maxBytes {
		return nil, fmt.Errorf("transport state exceeds max size (%d bytes)", s.maxBytes)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO transport_state(transport_name, state, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(transport_name) DO UPDATE SET
  state = excluded.state,
  updated_at = excluded.updated_at;
`, transport, string(merged), now)
	if err != nil {
		return nil, fmt.Errorf("upsert transport state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return json.RawMessage(merged), nil
}

// UpdatedAt returns when a transport's state was last written.
func (s *Store) UpdatedAt(ctx context.Context, transport string) (time.Time, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT updated_at FROM transport_state WHERE transport_name = ?;", transport).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read transport state: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse updated_at: %w", err)
	}
	return ts, true, nil
}

func decodeObjectOrEmpty(b json.RawMessage) (map[string]json.RawMessage, error) {
	if len(b) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("invalid JSON")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	return m, nil
}
