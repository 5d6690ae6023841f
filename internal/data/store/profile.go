package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cabildo-bot/internal/service/profile"
)

// ProfileStore persists encoded profiles in cabildo_profiles.
type ProfileStore struct {
	store *Store
}

// NewProfileStore creates a new ProfileStore.
func NewProfileStore(s *Store) *ProfileStore {
	return &ProfileStore{store: s}
}

// Load returns the encoded profile and its version, 0 when absent.
func (s *ProfileStore) Load(ctx context.Context, id string) ([]byte, int64, error) {
	var data string
	var version int64
	err := s.store.QueryRow(ctx, `SELECT data, version FROM cabildo_profiles WHERE wa_id = ?`, id).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return []byte(data), version, nil
}

// Save writes an encoded profile if the row is still at version. Version 0
// inserts a new row.
func (s *ProfileStore) Save(ctx context.Context, id string, data []byte, version int64) error {
	now := time.Now().Unix()

	var res sql.Result
	var err error
	if version == 0 {
		res, err = s.store.Exec(ctx, `
			INSERT INTO cabildo_profiles (wa_id, data, version, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(wa_id) DO NOTHING
		`, id, string(data), now, now)
	} else {
		res, err = s.store.Exec(ctx, `
			UPDATE cabildo_profiles
			SET data = ?, version = version + 1, updated_at = ?
			WHERE wa_id = ? AND version = ?
		`, string(data), now, id, version)
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return profile.ErrConflict
	}
	return nil
}

// Delete removes a profile.
func (s *ProfileStore) Delete(ctx context.Context, id string) error {
	_, err := s.store.Exec(ctx, `DELETE FROM cabildo_profiles WHERE wa_id = ?`, id)
	return err
}

// List returns every stored participant id.
func (s *ProfileStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.store.Query(ctx, `SELECT wa_id FROM cabildo_profiles ORDER BY wa_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
