package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Dedup is a dedup.Deduplicator shared by every process on the same redis.
type Dedup struct {
	rdb    *redis.Client
	window time.Duration
	log    waLog.Logger
}

// NewDedup creates a Dedup with the given retention window.
func NewDedup(rdb *redis.Client, window time.Duration, log waLog.Logger) *Dedup {
	return &Dedup{rdb: rdb, window: window, log: log.Sub("Dedup")}
}

// FirstDelivery records id with SET NX EX. Redis errors fail open.
func (d *Dedup) FirstDelivery(ctx context.Context, id string) bool {
	if id == "" {
		return true
	}
	ok, err := d.rdb.SetNX(ctx, seenPrefix+id, 1, d.window).Result()
	if err != nil {
		d.log.Warnf("Dedup check for %s failed, processing anyway: %v", id, err)
		return true
	}
	return ok
}
