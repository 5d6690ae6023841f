package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cabildo-bot/internal/service/media"
)

// MediaCache is a downloaded voice clip.
type MediaCache = media.CacheEntry

// MediaCacheStore handles media cache operations.
type MediaCacheStore struct {
	store *Store
}

// NewMediaCacheStore creates a new MediaCacheStore.
func NewMediaCacheStore(s *Store) *MediaCacheStore {
	return &MediaCacheStore{store: s}
}

// Put stores or updates a media cache entry.
func (s *MediaCacheStore) Put(ctx context.Context, m *MediaCache) error {
	now := time.Now().Unix()

	_, err := s.store.Exec(ctx, `
		INSERT INTO cabildo_media_cache (message_id, wa_id, media_type, local_path, downloaded_at, file_size)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, wa_id) DO UPDATE SET
			local_path = excluded.local_path,
			downloaded_at = excluded.downloaded_at,
			file_size = excluded.file_size
	`, m.MessageID, m.WaID, m.MediaType, m.LocalPath, now, m.FileSize)
	return err
}

// GetLocalPath returns the local file path for a message's media, or ""
// when the message was never downloaded.
func (s *MediaCacheStore) GetLocalPath(ctx context.Context, messageID, waID string) (string, error) {
	var path string
	err := s.store.QueryRow(ctx, `
		SELECT local_path FROM cabildo_media_cache WHERE message_id = ? AND wa_id = ?
	`, messageID, waID).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return path, err
}

// DeleteByParticipant removes a participant's cache entries and returns
// the local paths they pointed to.
func (s *MediaCacheStore) DeleteByParticipant(ctx context.Context, waID string) ([]string, error) {
	rows, err := s.store.Query(ctx, `SELECT local_path FROM cabildo_media_cache WHERE wa_id = ?`, waID)
	if err != nil {
		return nil, err
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.store.Exec(ctx, `DELETE FROM cabildo_media_cache WHERE wa_id = ?`, waID)
	return paths, err
}
