package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CachePut stores value under key. A zero expiry keeps it forever.
func (s *Store) CachePut(ctx context.Context, key, value string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at;`,
		key, value, unixOrZero(expiresAt))
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// CacheGet returns the value under key and false when it is missing or expired.
func (s *Store) CacheGet(ctx context.Context, key string, now time.Time) (string, bool, error) {
	var value string
	var expiresAt int64
	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cache WHERE key = ?;`, key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if expiresAt != 0 && !now.Before(time.Unix(expiresAt, 0)) {
		return "", false, nil
	}
	return value, true, nil
}

func (s *Store) CachePutJSON(ctx context.Context, key string, value any, expiresAt time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return s.CachePut(ctx, key, string(data), expiresAt)
}

func (s *Store) CacheGetJSON(ctx context.Context, key string, now time.Time, out any) (bool, error) {
	raw, ok, err := s.CacheGet(ctx, key, now)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) CacheDelete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?;`, key); err != nil {
			return fmt.Errorf("cache delete %s: %w", key, err)
		}
	}
	return nil
}
