package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"cabildo-bot/internal/service/profile"
)

// ProfileBackend stores encoded profiles under yt:profile:<id>, their write
// revision under yt:profile-rev:<id>, and keeps the id set in
// yt:profiles:index.
type ProfileBackend struct {
	rdb *redis.Client
}

// NewProfileBackend creates a ProfileBackend.
func NewProfileBackend(rdb *redis.Client) *ProfileBackend {
	return &ProfileBackend{rdb: rdb}
}

func (b *ProfileBackend) Load(ctx context.Context, id string) ([]byte, int64, error) {
	return loadProfile(ctx, b.rdb, id)
}

type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// loadProfile reads the record and its revision. Records written before
// revisions existed report revision 1.
func loadProfile(ctx context.Context, c mgetter, id string) ([]byte, int64, error) {
	vals, err := c.MGet(ctx, profilePrefix+id, revisionKey+id).Result()
	if err != nil {
		return nil, 0, err
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, 0, nil
	}
	version := int64(1)
	if rev, ok := vals[1].(string); ok {
		if version, err = strconv.ParseInt(rev, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("bad revision for %s: %w", id, err)
		}
	}
	return []byte(data), version, nil
}

// Save writes the record under WATCH so a concurrent writer aborts the
// transaction.
func (b *ProfileBackend) Save(ctx context.Context, id string, data []byte, version int64) error {
	err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
		_, current, err := loadProfile(ctx, tx, id)
		if err != nil {
			return err
		}
		if current != version {
			return profile.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, profilePrefix+id, data, 0)
			pipe.Set(ctx, revisionKey+id, version+1, 0)
			pipe.SAdd(ctx, profileIndex, id)
			return nil
		})
		return err
	}, profilePrefix+id, revisionKey+id)
	if errors.Is(err, redis.TxFailedErr) {
		return profile.ErrConflict
	}
	return err
}

func (b *ProfileBackend) Delete(ctx context.Context, id string) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, profilePrefix+id, revisionKey+id)
		pipe.SRem(ctx, profileIndex, id)
		return nil
	})
	return err
}

func (b *ProfileBackend) List(ctx context.Context) ([]string, error) {
	return b.rdb.SMembers(ctx, profileIndex).Result()
}
