package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/service/profile"
	"cabildo-bot/internal/survey"
	"cabildo-bot/internal/utils/retry"
)

// ProfileSource is the slice of the profile store the worker needs. Both
// methods return profile.ErrNotFound for participants that were reset and
// never create a profile.
type ProfileSource interface {
	Lookup(ctx context.Context, id string) (*survey.Profile, error)
	UpdateExisting(ctx context.Context, id string, changes ...survey.Change) (*survey.Profile, error)
}

// RecordSyncer replicates survey data to the external web app.
type RecordSyncer interface {
	// SyncProfile upserts the profile and returns the linkage credential,
	// or "" when none was issued.
	SyncProfile(ctx context.Context, p *survey.Profile, cabildoName string) (string, error)
	SyncMessage(ctx context.Context, p *survey.Profile, segment, text string) error
}

// Transcriber turns a media reference into text. ok=false means there is
// nothing to sync.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaRef string) (text string, ok bool)
}

// WorkerConfig tunes concurrency and the retry policy.
type WorkerConfig struct {
	Concurrency  int
	MaxAttempts  int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// Worker drains a Broker.
type Worker struct {
	broker      Broker
	profiles    ProfileSource
	syncer      RecordSyncer
	transcriber Transcriber
	cfg         WorkerConfig
	backoff     func(attempt int) time.Duration
	log         waLog.Logger
}

// NewWorker creates a Worker.
func NewWorker(broker Broker, profiles ProfileSource, syncer RecordSyncer, transcriber Transcriber, cfg WorkerConfig, log waLog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Worker{
		broker:      broker,
		profiles:    profiles,
		syncer:      syncer,
		transcriber: transcriber,
		cfg:         cfg,
		backoff:     retry.ExponentialBackoff(cfg.RetryBackoff, cfg.MaxBackoff),
		log:         log.Sub("Worker"),
	}
}

// Run processes jobs until ctx is cancelled or the broker is closed.
func (w *Worker) Run(ctx context.Context) {
	w.log.Infof("Starting %d job workers", w.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	w.log.Infof("Job workers stopped")
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		d, err := w.broker.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			w.log.Warnf("Worker %d receive failed: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.settle(ctx, d)
	}
}

// settle processes one delivery and applies the retry policy.
func (w *Worker) settle(ctx context.Context, d *Delivery) {
	err := w.Process(ctx, d.Job)
	if err == nil {
		if err := d.Complete(ctx); err != nil {
			w.log.Errorf("Failed to complete job %s: %v", d.ID, err)
		}
		return
	}

	if d.Attempt >= w.cfg.MaxAttempts {
		w.log.Errorf("Job %s (%s for %s) failed after %d attempts: %v", d.ID, d.Job.Kind(), d.Job.Participant(), d.Attempt, err)
		if err := d.Fail(ctx, err); err != nil {
			w.log.Errorf("Failed to park job %s: %v", d.ID, err)
		}
		return
	}

	wait := w.backoff(d.Attempt)
	w.log.Warnf("Job %s (%s) attempt %d/%d failed: %v, retrying in %v", d.ID, d.Job.Kind(), d.Attempt, w.cfg.MaxAttempts, err, wait)
	if err := d.Retry(ctx, wait, err); err != nil {
		w.log.Errorf("Failed to reschedule job %s: %v", d.ID, err)
	}
}

// Process executes one job.
func (w *Worker) Process(ctx context.Context, job Job) error {
	switch j := job.(type) {
	case SyncProfile:
		return w.syncProfile(ctx, j)
	case SyncMessage:
		return w.syncMessage(ctx, j)
	default:
		return fmt.Errorf("unknown job %T", job)
	}
}

func (w *Worker) syncProfile(ctx context.Context, j SyncProfile) error {
	// Re-read: demographics may have changed since the job was enqueued.
	p, err := w.profiles.Lookup(ctx, j.ParticipantID)
	if errors.Is(err, profile.ErrNotFound) {
		w.log.Infof("Dropping profile sync for %s: profile was reset", j.ParticipantID)
		return nil
	}
	if err != nil {
		return err
	}

	name := j.CabildoName
	if name == "" {
		name = p.LastCabildoName
	}
	if name == "" {
		w.log.Debugf("Skipping profile sync for %s: no cabildo name", j.ParticipantID)
		return nil
	}

	token, err := w.syncer.SyncProfile(ctx, p, name)
	if err != nil {
		return fmt.Errorf("sync profile %s: %w", j.ParticipantID, err)
	}
	if token != "" && token != p.ExternalLinkToken {
		_, err := w.profiles.UpdateExisting(ctx, j.ParticipantID, survey.SetLinkToken{Token: token})
		if errors.Is(err, profile.ErrNotFound) {
			w.log.Infof("Profile %s was reset during sync, discarding link token", j.ParticipantID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("store link token for %s: %w", j.ParticipantID, err)
		}
	}
	return nil
}

func (w *Worker) syncMessage(ctx context.Context, j SyncMessage) error {
	p, err := w.profiles.Lookup(ctx, j.ParticipantID)
	if errors.Is(err, profile.ErrNotFound) {
		w.log.Infof("Dropping %s message for %s: profile was reset", j.Segment, j.ParticipantID)
		return nil
	}
	if err != nil {
		return err
	}

	var text string
	switch pl := j.Payload.(type) {
	case Text:
		text = pl.Body
	case Audio:
		if w.transcriber == nil || pl.MediaRef == "" {
			return nil
		}
		t, ok := w.transcriber.Transcribe(ctx, pl.MediaRef)
		if !ok {
			w.log.Infof("No text extracted from %s, skipping", pl.MediaRef)
			return nil
		}
		text = t
	default:
		return fmt.Errorf("unknown payload %T", j.Payload)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		w.log.Debugf("Empty %s fragment for %s, skipping", j.Segment, j.ParticipantID)
		return nil
	}

	if err := w.syncer.SyncMessage(ctx, p, j.Segment, text); err != nil {
		return fmt.Errorf("sync %s message for %s: %w", j.Segment, j.ParticipantID, err)
	}
	return nil
}
