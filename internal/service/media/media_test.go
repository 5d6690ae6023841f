package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"cabildo-bot/internal/infra/logger"
	"cabildo-bot/internal/utils/retry"
)

type fakeDownloader struct {
	calls int
	fail  int
	data  []byte
}

func (f *fakeDownloader) DownloadMediaWithPath(_ context.Context, _ string, _, _, _ []byte, _ int, mediaType whatsmeow.MediaType, _ string) ([]byte, error) {
	f.calls++
	if mediaType != whatsmeow.MediaAudio {
		return nil, errors.New("unexpected media type")
	}
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("cdn hiccup")
	}
	return f.data, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*CacheEntry)}
}

func (m *memoryCache) Put(_ context.Context, e *CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.WaID+"/"+e.MessageID] = e
	return nil
}

func (m *memoryCache) GetLocalPath(_ context.Context, messageID, waID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[waID+"/"+messageID]; ok {
		return e.LocalPath, nil
	}
	return "", nil
}

func (m *memoryCache) DeleteByParticipant(_ context.Context, waID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for k, e := range m.entries {
		if e.WaID == waID {
			paths = append(paths, e.LocalPath)
			delete(m.entries, k)
		}
	}
	return paths, nil
}

func voiceNote() *waE2E.AudioMessage {
	return &waE2E.AudioMessage{
		DirectPath: proto.String("/v/t62/abc"),
		Mimetype:   proto.String("audio/ogg; codecs=opus"),
		FileLength: proto.Uint64(4),
		PTT:        proto.Bool(true),
	}
}

func newTestService(t *testing.T, dl *fakeDownloader, cache Cache) (*MediaService, string) {
	dir := t.TempDir()
	cfg := Config{Retry: retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 2}}
	return NewMediaService(dl, cfg, dir, cache, logger.Nop()), dir
}

func TestDownloadAudio_WritesAndCaches(t *testing.T) {
	dl := &fakeDownloader{data: []byte("OggS"), fail: 1}
	cache := newMemoryCache()
	s, dir := newTestService(t, dl, cache)
	ctx := context.Background()

	path, err := s.DownloadAudio(ctx, "51999@s.whatsapp.net", "MSG1", voiceNote())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "media", "51999_at_s.whatsapp.net", "MSG1", "audio.ogg"), path)
	assert.Equal(t, 2, dl.calls)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "OggS", string(data))

	again, err := s.DownloadAudio(ctx, "51999@s.whatsapp.net", "MSG1", voiceNote())
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, 2, dl.calls)

	require.NoError(t, s.Purge(ctx, "51999@s.whatsapp.net"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadAudio_Rejects(t *testing.T) {
	s, _ := newTestService(t, &fakeDownloader{}, nil)
	_, err := s.DownloadAudio(context.Background(), "a", "m", &waE2E.AudioMessage{})
	assert.Error(t, err)

	s.config.MaxFileSizeMB = 1
	big := voiceNote()
	big.FileLength = proto.Uint64(5 << 20)
	_, err = s.DownloadAudio(context.Background(), "a", "m", big)
	assert.Error(t, err)
}

func TestDownloadAudio_GivesUpAfterRetries(t *testing.T) {
	dl := &fakeDownloader{fail: 10}
	s, _ := newTestService(t, dl, nil)
	_, err := s.DownloadAudio(context.Background(), "a", "m", voiceNote())
	assert.Error(t, err)
	assert.Equal(t, 3, dl.calls)
}

func TestSweep(t *testing.T) {
	s, dir := newTestService(t, &fakeDownloader{}, nil)

	n, err := s.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	old := filepath.Join(dir, "media", "a", "m", "audio.ogg")
	require.NoError(t, os.MkdirAll(filepath.Dir(old), 0755))
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	n, err = s.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
