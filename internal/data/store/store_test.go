package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabildo-bot/internal/infra/logger"
	"cabildo-bot/internal/service/jobs"
	"cabildo-bot/internal/service/profile"
	"cabildo-bot/internal/survey"
)

func openTestContainer(t *testing.T) *Container {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "cabildo.db"), logger.Nop())
	require.NoError(t, err)
	c := NewContainer(s, ContainerConfig{JobPoll: 10 * time.Millisecond})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestProfileStore(t *testing.T) {
	ctx := context.Background()
	c := openTestContainer(t)

	_, version, err := c.Profiles.Load(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, c.Profiles.Save(ctx, "a", []byte(`{"waId":"a"}`), 0))
	require.NoError(t, c.Profiles.Save(ctx, "a", []byte(`{"waId":"a","finalWord":"x"}`), 1))
	require.NoError(t, c.Profiles.Save(ctx, "b", []byte(`{"waId":"b"}`), 0))

	data, version, err := c.Profiles.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.JSONEq(t, `{"waId":"a","finalWord":"x"}`, string(data))

	ids, err := c.Profiles.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, c.Profiles.Delete(ctx, "a"))
	_, version, _ = c.Profiles.Load(ctx, "a")
	assert.Zero(t, version)
}

func TestProfileStore_SaveRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	c := openTestContainer(t)

	require.NoError(t, c.Profiles.Save(ctx, "a", []byte(`{"waId":"a"}`), 0))
	assert.ErrorIs(t, c.Profiles.Save(ctx, "a", []byte(`{"waId":"a"}`), 0), profile.ErrConflict)

	require.NoError(t, c.Profiles.Save(ctx, "a", []byte(`{"waId":"a","stationsDone":[2]}`), 1))
	assert.ErrorIs(t, c.Profiles.Save(ctx, "a", []byte(`{"waId":"a","webCookie":"t"}`), 1), profile.ErrConflict)

	data, _, err := c.Profiles.Load(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"waId":"a","stationsDone":[2]}`, string(data))

	require.NoError(t, c.Profiles.Delete(ctx, "a"))
	assert.ErrorIs(t, c.Profiles.Save(ctx, "a", []byte(`{"waId":"a"}`), 2), profile.ErrConflict, "a deleted row is not written back")
}

func TestProfileStore_TwoStoresShareRevisions(t *testing.T) {
	ctx := context.Background()
	c := openTestContainer(t)
	serve := profile.NewStore(c.Profiles, logger.Nop())
	worker := profile.NewStore(NewProfileStore(c.Store), logger.Nop())

	_, err := serve.Update(ctx, "p1", survey.CompleteStation{Station: 1})
	require.NoError(t, err)
	_, err = worker.UpdateExisting(ctx, "p1", survey.SetLinkToken{Token: "yt_profile=x"})
	require.NoError(t, err)
	_, err = serve.Update(ctx, "p1", survey.CompleteStation{Station: 2})
	require.NoError(t, err)

	p, err := worker.Lookup(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, p.StationsDone)
	assert.Equal(t, "yt_profile=x", p.ExternalLinkToken)
}

func receive(t *testing.T, q *JobStore) *jobs.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := q.Receive(ctx)
	require.NoError(t, err)
	return d
}

func TestJobStore_PerParticipantOrder(t *testing.T) {
	ctx := context.Background()
	q := openTestContainer(t).Jobs

	require.NoError(t, q.Enqueue(ctx, jobs.SyncProfile{ParticipantID: "a", CabildoName: "N"}))
	require.NoError(t, q.Enqueue(ctx, jobs.SyncMessage{ParticipantID: "a", Segment: "station1", Payload: jobs.Text{Body: "1"}}))
	require.NoError(t, q.Enqueue(ctx, jobs.SyncProfile{ParticipantID: "b"}))

	first := receive(t, q)
	assert.Equal(t, jobs.SyncProfile{ParticipantID: "a", CabildoName: "N"}, first.Job)

	// a's second job waits while the first is running; b is free.
	second := receive(t, q)
	assert.Equal(t, "b", second.Job.Participant())

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err := q.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Complete(ctx))
	third := receive(t, q)
	assert.Equal(t, jobs.KindSyncMessage, third.Job.Kind())
	assert.Equal(t, 1, third.Attempt)
}

func TestJobStore_RetryFailAndStats(t *testing.T) {
	ctx := context.Background()
	q := openTestContainer(t).Jobs

	require.NoError(t, q.Enqueue(ctx, jobs.SyncProfile{ParticipantID: "a"}))
	d := receive(t, q)
	require.NoError(t, d.Retry(ctx, time.Hour, errors.New("down")))

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.Stats{Delayed: 1}, st)

	require.NoError(t, q.Retry(ctx, d.ID, 0, nil))
	again := receive(t, q)
	assert.Equal(t, 2, again.Attempt)

	require.NoError(t, again.Fail(ctx, errors.New("gave up")))
	st, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.Stats{Dead: 1}, st)
}

func TestJobStore_RecoverRequeuesRunning(t *testing.T) {
	ctx := context.Background()
	q := openTestContainer(t).Jobs

	require.NoError(t, q.Enqueue(ctx, jobs.SyncProfile{ParticipantID: "a"}))
	receive(t, q)

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	d := receive(t, q)
	assert.Equal(t, 2, d.Attempt)
}

func TestOutboxStore(t *testing.T) {
	ctx := context.Background()
	o := openTestContainer(t).Outbox

	require.NoError(t, o.Record(ctx, "a", "hola"))
	require.NoError(t, o.Record(ctx, "a", "menu"))
	require.NoError(t, o.Record(ctx, "b", "x"))

	entries, err := o.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hola", entries[0].Text)
	assert.Equal(t, "menu", entries[1].Text)

	summary, err := o.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, summary)

	require.NoError(t, o.Clear(ctx, "a"))
	entries, err = o.List(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMediaCacheAndStats(t *testing.T) {
	ctx := context.Background()
	c := openTestContainer(t)

	path, err := c.Media.GetLocalPath(ctx, "m1", "a")
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, c.Media.Put(ctx, &MediaCache{MessageID: "m1", WaID: "a", MediaType: "audio", LocalPath: "/tmp/m1.ogg", FileSize: 10}))
	path, err = c.Media.GetLocalPath(ctx, "m1", "a")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/m1.ogg", path)

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Media)

	paths, err := c.Media.DeleteByParticipant(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/m1.ogg"}, paths)
}

func TestJobStore_SharedDatabaseDeliversOnce(t *testing.T) {
	ctx := context.Background()
	c := openTestContainer(t)
	stores := []*JobStore{
		NewJobStore(c.Store, 10*time.Millisecond, logger.Nop()),
		NewJobStore(c.Store, 10*time.Millisecond, logger.Nop()),
	}

	const total = 20
	for i := 0; i < total; i++ {
		require.NoError(t, stores[0].Enqueue(ctx, jobs.SyncProfile{ParticipantID: fmt.Sprintf("p%d", i)}))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(q *JobStore) {
			defer wg.Done()
			for {
				short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
				d, err := q.Receive(short)
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[d.ID]++
				mu.Unlock()
				assert.NoError(t, d.Complete(ctx))
			}
		}(stores[i%2])
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s delivered %d times", id, n)
	}
}
