// Package redisstore implements the shared backends on redis: profiles,
// sessions, delivery deduplication and the job stream.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Key layout. The profile keys match the records of the previous
// deployment so existing data is picked up as is.
const (
	profilePrefix = "yt:profile:"
	profileIndex  = "yt:profiles:index"
	revisionKey   = "yt:profile-rev:"
	sessionPrefix = "yt:session:"
	seenPrefix    = "yt:seen:"
)

// Open connects to the redis server at url and verifies the connection.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
