package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
)

// GetString returns the stored value for key, or "" when absent.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetString upserts the value for key.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// GetInt64 returns the stored value for key, or 0 when absent.
func (s *Store) GetInt64(ctx context.Context, key string) (int64, error) {
	raw, err := s.GetString(ctx, key)
	if err != nil || raw == "" {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// SetInt64 upserts the value for key.
func (s *Store) SetInt64(ctx context.Context, key string, value int64) error {
	return s.SetString(ctx, key, strconv.FormatInt(value, 10))
}
