package settings

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store persists integration settings. The cache sits in front of it.
type Store interface {
	LoadValues(ctx context.Context, kind string) (map[string]string, error)
	SaveValues(ctx context.Context, kind string, values map[string]string) error
}

// SQLStore keeps settings in the integration_settings table, one row per
// (kind, key) pair.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) LoadValues(ctx context.Context, kind string) (map[string]string, error) {
	const query = `SELECT key, value FROM integration_settings WHERE kind = $1`

	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, query, kind); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[r.Key] = r.Value
	}
	return values, nil
}

func (s *SQLStore) SaveValues(ctx context.Context, kind string, values map[string]string) error {
	const query = `
		INSERT INTO integration_settings (kind, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()
	`

	for key, value := range values {
		if _, err := s.db.ExecContext(ctx, query, kind, key, value); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}
	return nil
}
