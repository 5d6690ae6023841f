package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/service/jobs"
)

const (
	jobPending = "pending"
	jobRunning = "running"
	jobDead    = "dead"
)

// JobStore is a durable jobs.Broker on cabildo_jobs. Jobs of one
// participant are handed out strictly in enqueue order, one at a time.
type JobStore struct {
	store *Store
	poll  time.Duration
	log   waLog.Logger

	claimMu sync.Mutex
	signal  chan struct{}
}

// NewJobStore creates a new JobStore. poll bounds how long Receive sleeps
// before looking for delayed jobs that became due.
func NewJobStore(s *Store, poll time.Duration, log waLog.Logger) *JobStore {
	if poll <= 0 {
		poll = time.Second
	}
	return &JobStore{
		store:  s,
		poll:   poll,
		log:    log.Sub("JobStore"),
		signal: make(chan struct{}, 1),
	}
}

// Recover returns jobs left running by a previous process to pending.
func (s *JobStore) Recover(ctx context.Context) (int64, error) {
	res, err := s.store.Exec(ctx, `
		UPDATE cabildo_jobs SET status = ?, updated_at = ? WHERE status = ?
	`, jobPending, time.Now().Unix(), jobRunning)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Infof("Recovered %d interrupted jobs", n)
	}
	return n, nil
}

// Enqueue implements jobs.Queue.
func (s *JobStore) Enqueue(ctx context.Context, job jobs.Job) error {
	payload, err := jobs.Encode(job)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = s.store.Exec(ctx, `
		INSERT INTO cabildo_jobs (id, wa_id, kind, payload, status, attempt, available_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, jobs.NewJobID(), job.Participant(), string(job.Kind()), string(payload), jobPending, now.UnixMilli(), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Kind(), err)
	}

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return nil
}

// Receive implements jobs.Broker.
func (s *JobStore) Receive(ctx context.Context) (*jobs.Delivery, error) {
	timer := time.NewTimer(s.poll)
	defer timer.Stop()

	for {
		d, err := s.claim(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.poll)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.signal:
		case <-timer.C:
		}
	}
}

// claim marks the next eligible job running. A job is eligible when it is
// due and its participant has nothing running and nothing older pending.
func (s *JobStore) claim(ctx context.Context) (*jobs.Delivery, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	for {
		var (
			seq     int64
			id      string
			payload string
			attempt int
		)
		err := s.store.QueryRow(ctx, `
			SELECT j.seq, j.id, j.payload, j.attempt FROM cabildo_jobs j
			WHERE j.status = ? AND j.available_at <= ?
			  AND NOT EXISTS (
				SELECT 1 FROM cabildo_jobs o
				WHERE o.wa_id = j.wa_id
				  AND (o.status = ? OR (o.status = ? AND o.seq < j.seq))
			  )
			ORDER BY j.seq
			LIMIT 1
		`, jobPending, time.Now().UnixMilli(), jobRunning, jobPending).Scan(&seq, &id, &payload, &attempt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}

		job, decodeErr := jobs.Decode([]byte(payload))
		if decodeErr != nil {
			s.log.Errorf("Dropping undecodable job %s: %v", id, decodeErr)
			if _, err := s.store.Exec(ctx, `
				UPDATE cabildo_jobs SET status = ?, last_error = ?, updated_at = ? WHERE seq = ?
			`, jobDead, decodeErr.Error(), time.Now().Unix(), seq); err != nil {
				return nil, err
			}
			continue
		}

		// Another process may have claimed this job, or an older one of the
		// same participant, since the select.
		attempt++
		res, err := s.store.Exec(ctx, `
			UPDATE cabildo_jobs SET status = ?, attempt = ?, updated_at = ?
			WHERE seq = ? AND status = ?
			  AND NOT EXISTS (
				SELECT 1 FROM cabildo_jobs o
				WHERE o.wa_id = cabildo_jobs.wa_id AND o.status = ?
			  )
		`, jobRunning, attempt, time.Now().Unix(), seq, jobPending, jobRunning)
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", id, err)
		}
		if n != 1 {
			continue
		}
		return jobs.NewDelivery(id, job, attempt, s), nil
	}
}

// Complete implements jobs.Acker.
func (s *JobStore) Complete(ctx context.Context, id string) error {
	_, err := s.store.Exec(ctx, `DELETE FROM cabildo_jobs WHERE id = ?`, id)
	s.wake()
	return err
}

// Retry implements jobs.Acker.
func (s *JobStore) Retry(ctx context.Context, id string, delay time.Duration, cause error) error {
	_, err := s.store.Exec(ctx, `
		UPDATE cabildo_jobs SET status = ?, available_at = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, jobPending, time.Now().Add(delay).UnixMilli(), errString(cause), time.Now().Unix(), id)
	s.wake()
	return err
}

// Fail implements jobs.Acker.
func (s *JobStore) Fail(ctx context.Context, id string, cause error) error {
	_, err := s.store.Exec(ctx, `
		UPDATE cabildo_jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, jobDead, errString(cause), time.Now().Unix(), id)
	s.wake()
	return err
}

// Stats implements jobs.StatsReporter.
func (s *JobStore) Stats(ctx context.Context) (jobs.Stats, error) {
	var st jobs.Stats
	err := s.store.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = ? AND available_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? AND available_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM cabildo_jobs
	`, jobPending, time.Now().UnixMilli(), jobPending, time.Now().UnixMilli(), jobRunning, jobDead).
		Scan(&st.Pending, &st.Delayed, &st.Running, &st.Dead)
	return st, err
}

// wake lets a blocked receiver look again; completing one job can unblock
// the next job of the same participant.
func (s *JobStore) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func errString(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}
