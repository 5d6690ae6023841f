package store

import (
	"context"
	"time"

	"cabildo-bot/internal/service/send"
)

// OutboxStore records outbound messages in cabildo_outbox.
type OutboxStore struct {
	store *Store
}

// NewOutboxStore creates a new OutboxStore.
func NewOutboxStore(s *Store) *OutboxStore {
	return &OutboxStore{store: s}
}

// Record appends one outbound message for a participant.
func (s *OutboxStore) Record(ctx context.Context, participantID, body string) error {
	_, err := s.store.Exec(ctx, `
		INSERT INTO cabildo_outbox (wa_id, body, sent_at) VALUES (?, ?, ?)
	`, participantID, body, time.Now().UnixMilli())
	return err
}

// List returns a participant's recorded messages, oldest first.
func (s *OutboxStore) List(ctx context.Context, participantID string) ([]send.OutboxEntry, error) {
	rows, err := s.store.Query(ctx, `
		SELECT wa_id, body, sent_at FROM cabildo_outbox WHERE wa_id = ? ORDER BY seq
	`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []send.OutboxEntry
	for rows.Next() {
		var e send.OutboxEntry
		var sentAt int64
		if err := rows.Scan(&e.ParticipantID, &e.Text, &sentAt); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(sentAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary returns the number of recorded messages per participant.
func (s *OutboxStore) Summary(ctx context.Context) (map[string]int, error) {
	rows, err := s.store.Query(ctx, `SELECT wa_id, COUNT(*) FROM cabildo_outbox GROUP BY wa_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// Clear drops a participant's recorded messages.
func (s *OutboxStore) Clear(ctx context.Context, participantID string) error {
	_, err := s.store.Exec(ctx, `DELETE FROM cabildo_outbox WHERE wa_id = ?`, participantID)
	return err
}
