package store

import (
	"context"
	"time"
)

// Container provides unified access to all stores.
type Container struct {
	Store *Store

	Profiles *ProfileStore
	Jobs     *JobStore
	Outbox   *OutboxStore
	Media    *MediaCacheStore
}

// ContainerConfig tunes the sub-stores.
type ContainerConfig struct {
	JobPoll time.Duration
}

// NewContainer creates a new Container with all sub-stores initialized.
func NewContainer(s *Store, cfg ContainerConfig) *Container {
	return &Container{
		Store:    s,
		Profiles: NewProfileStore(s),
		Jobs:     NewJobStore(s, cfg.JobPoll, s.log),
		Outbox:   NewOutboxStore(s),
		Media:    NewMediaCacheStore(s),
	}
}

// Close closes the underlying store.
func (c *Container) Close() error {
	return c.Store.Close()
}

// Stats returns row counts of the app tables.
type Stats struct {
	Profiles int
	Jobs     int
	Outbox   int
	Media    int
}

// GetStats returns current entity counts.
func (c *Container) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		table string
		dst   *int
	}{
		{"cabildo_profiles", &stats.Profiles},
		{"cabildo_jobs", &stats.Jobs},
		{"cabildo_outbox", &stats.Outbox},
		{"cabildo_media_cache", &stats.Media},
	}
	for _, cnt := range counts {
		if err := c.Store.QueryRow(ctx, `SELECT COUNT(*) FROM `+cnt.table).Scan(cnt.dst); err != nil {
			return nil, err
		}
	}

	return stats, nil
}
