package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// SaveSettingsCategory persists one settings category as a JSON row, used
// by the settings service to make runtime setting mutations durable
// across restarts.
func (s *Store) SaveSettingsCategory(ctx context.Context, category string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode settings category %s: %w", category, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO settings (category, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (category) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, category, raw)
	if err != nil {
		return fmt.Errorf("save settings category %s: %w", category, err)
	}
	return nil
}

// LoadSettingsCategory reads a settings category's JSON row into dest. It
// returns ErrNotFound if the category has never been persisted, letting the
// caller fall back to its file-based defaults.
func (s *Store) LoadSettingsCategory(ctx context.Context, category string, dest any) error {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM settings WHERE category = $1`, category).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("load settings category %s: %w", category, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode settings category %s: %w", category, err)
	}
	return nil
}

// ListSettingsCategories returns the names of every persisted category.
func (s *Store) ListSettingsCategories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT category FROM settings ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list settings categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan settings category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
