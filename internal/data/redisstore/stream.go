package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/service/jobs"
)

const consumerGroup = "cabildo-workers"

// promoteScript moves one delayed member (KEYS[1]) onto the stream
// (KEYS[2]). It returns 0 when another consumer promoted it first.
var promoteScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('XADD', KEYS[2], '*', 'id', ARGV[2], 'job', ARGV[3], 'attempt', ARGV[4])
redis.call('ZREM', KEYS[1], ARGV[1])
return 1
`)

// StreamConfig tunes a StreamBroker.
type StreamConfig struct {
	// Stream is the stream key; <Stream>:delayed and <Stream>:dead hold
	// retries and parked jobs.
	Stream string
	// Block bounds one XREADGROUP call, and therefore how late a delayed
	// job may be promoted.
	Block time.Duration
	// ClaimIdle is how long a delivered entry may stay unacknowledged
	// before another consumer takes it over.
	ClaimIdle time.Duration
}

// StreamBroker is a jobs.Broker on a redis stream with a consumer group.
type StreamBroker struct {
	rdb      *redis.Client
	cfg      StreamConfig
	consumer string
	log      waLog.Logger

	mu       sync.Mutex
	inflight map[string]parkedJob
}

// parkedJob is the JSON form of a job outside the stream.
type parkedJob struct {
	JobID   string `json:"id"`
	Payload string `json:"job"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// NewStreamBroker creates the consumer group if needed.
func NewStreamBroker(ctx context.Context, rdb *redis.Client, cfg StreamConfig, log waLog.Logger) (*StreamBroker, error) {
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}

	err := rdb.XGroupCreateMkStream(ctx, cfg.Stream, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	host, _ := os.Hostname()
	return &StreamBroker{
		rdb:      rdb,
		cfg:      cfg,
		consumer: fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
		log:      log.Sub("StreamBroker"),
		inflight: make(map[string]parkedJob),
	}, nil
}

func (b *StreamBroker) delayedKey() string { return b.cfg.Stream + ":delayed" }
func (b *StreamBroker) deadKey() string    { return b.cfg.Stream + ":dead" }

// Enqueue implements jobs.Queue.
func (b *StreamBroker) Enqueue(ctx context.Context, job jobs.Job) error {
	payload, err := jobs.Encode(job)
	if err != nil {
		return err
	}
	return b.add(ctx, parkedJob{JobID: jobs.NewJobID(), Payload: string(payload)})
}

func (b *StreamBroker) add(ctx context.Context, p parkedJob) error {
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]interface{}{
			"id":      p.JobID,
			"job":     p.Payload,
			"attempt": p.Attempt,
		},
	}).Err()
}

// Receive implements jobs.Broker.
func (b *StreamBroker) Receive(ctx context.Context) (*jobs.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.promoteDue(ctx); err != nil {
			b.log.Warnf("Failed to promote delayed jobs: %v", err)
		}

		msgs, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   b.cfg.Stream,
			Group:    consumerGroup,
			Consumer: b.consumer,
			MinIdle:  b.cfg.ClaimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("autoclaim: %w", err)
		}
		if len(msgs) > 0 {
			if d := b.delivery(ctx, msgs[0], true); d != nil {
				return d, nil
			}
			continue
		}

		streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: b.consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    1,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if d := b.delivery(ctx, msg, false); d != nil {
					return d, nil
				}
			}
		}
	}
}

// delivery turns a stream entry into a Delivery. Malformed entries are
// parked as dead and nil is returned. The entry's attempt field counts
// earlier settled tries; claimed entries add every delivery the group
// recorded, including those of consumers that died mid-job.
func (b *StreamBroker) delivery(ctx context.Context, msg redis.XMessage, claimed bool) *jobs.Delivery {
	p := parkedJob{}
	p.JobID, _ = msg.Values["id"].(string)
	p.Payload, _ = msg.Values["job"].(string)
	if s, ok := msg.Values["attempt"].(string); ok {
		p.Attempt, _ = strconv.Atoi(s)
	}
	p.Attempt += b.deliveries(ctx, msg.ID, claimed)

	job, err := jobs.Decode([]byte(p.Payload))
	if err != nil {
		b.log.Errorf("Dropping undecodable stream entry %s: %v", msg.ID, err)
		p.Error = err.Error()
		b.park(ctx, msg.ID, p)
		return nil
	}

	b.mu.Lock()
	b.inflight[msg.ID] = p
	b.mu.Unlock()
	return jobs.NewDelivery(msg.ID, job, p.Attempt, b)
}

// deliveries returns how often the group handed out entry id.
func (b *StreamBroker) deliveries(ctx context.Context, id string, claimed bool) int {
	if !claimed {
		return 1
	}
	pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.cfg.Stream,
		Group:  consumerGroup,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		b.log.Warnf("Failed to read delivery count of %s, assuming one earlier try: %v", id, err)
		return 2
	}
	return int(pending[0].RetryCount)
}

func (b *StreamBroker) take(id string) (parkedJob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.inflight[id]
	delete(b.inflight, id)
	return p, ok
}

func (b *StreamBroker) ack(ctx context.Context, id string) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, b.cfg.Stream, consumerGroup, id)
		pipe.XDel(ctx, b.cfg.Stream, id)
		return nil
	})
	return err
}

// Complete implements jobs.Acker.
func (b *StreamBroker) Complete(ctx context.Context, id string) error {
	b.take(id)
	return b.ack(ctx, id)
}

// Retry implements jobs.Acker.
func (b *StreamBroker) Retry(ctx context.Context, id string, delay time.Duration, cause error) error {
	p, ok := b.take(id)
	if !ok {
		return fmt.Errorf("unknown delivery %s", id)
	}
	if cause != nil {
		p.Error = cause.Error()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, b.delayedKey(), redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: data,
		})
		pipe.XAck(ctx, b.cfg.Stream, consumerGroup, id)
		pipe.XDel(ctx, b.cfg.Stream, id)
		return nil
	})
	return err
}

// Fail implements jobs.Acker.
func (b *StreamBroker) Fail(ctx context.Context, id string, cause error) error {
	p, ok := b.take(id)
	if !ok {
		return fmt.Errorf("unknown delivery %s", id)
	}
	if cause != nil {
		p.Error = cause.Error()
	}
	return b.park(ctx, id, p)
}

func (b *StreamBroker) park(ctx context.Context, id string, p parkedJob) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, b.deadKey(), data)
		pipe.XAck(ctx, b.cfg.Stream, consumerGroup, id)
		pipe.XDel(ctx, b.cfg.Stream, id)
		return nil
	})
	return err
}

// promoteDue moves delayed jobs whose time has come back onto the stream.
// The move is one script call, so a member is never lost between the set
// and the stream, and racing consumers promote it once.
func (b *StreamBroker) promoteDue(ctx context.Context) error {
	due, err := b.rdb.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: 20,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		var p parkedJob
		if err := json.Unmarshal([]byte(member), &p); err != nil {
			b.log.Errorf("Discarding malformed delayed job: %v", err)
			if err := b.rdb.ZRem(ctx, b.delayedKey(), member).Err(); err != nil {
				return err
			}
			continue
		}
		keys := []string{b.delayedKey(), b.cfg.Stream}
		if err := promoteScript.Run(ctx, b.rdb, keys, member, p.JobID, p.Payload, p.Attempt).Err(); err != nil {
			return fmt.Errorf("promote %s: %w", p.JobID, err)
		}
	}
	return nil
}

// Stats implements jobs.StatsReporter.
func (b *StreamBroker) Stats(ctx context.Context) (jobs.Stats, error) {
	var st jobs.Stats

	length, err := b.rdb.XLen(ctx, b.cfg.Stream).Result()
	if err != nil {
		return st, err
	}
	pending, err := b.rdb.XPending(ctx, b.cfg.Stream, consumerGroup).Result()
	if err != nil {
		return st, err
	}
	delayed, err := b.rdb.ZCard(ctx, b.delayedKey()).Result()
	if err != nil {
		return st, err
	}
	dead, err := b.rdb.LLen(ctx, b.deadKey()).Result()
	if err != nil {
		return st, err
	}

	st.Running = pending.Count
	st.Pending = length - pending.Count
	st.Delayed = delayed
	st.Dead = dead
	return st, nil
}
