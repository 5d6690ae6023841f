package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabildo-bot/internal/infra/logger"
	"cabildo-bot/internal/service/graph"
)

type fakeBackend struct {
	text     string
	err      error
	got      string
	filename string
}

func (f *fakeBackend) Transcribe(_ context.Context, audio io.Reader, filename, _, _ string) (string, error) {
	data, _ := io.ReadAll(audio)
	f.got = string(data)
	f.filename = filename
	return f.text, f.err
}

func TestMediaFetcher_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS"), 0o644))

	clip, err := NewMediaFetcher(nil).Fetch(context.Background(), FileScheme+path)
	require.NoError(t, err)
	defer clip.Body.Close()

	data, _ := io.ReadAll(clip.Body)
	assert.Equal(t, "OggS", string(data))
	assert.Equal(t, "clip.ogg", clip.Filename)

	_, err = NewMediaFetcher(nil).Fetch(context.Background(), "media-1")
	assert.Error(t, err)
}

func TestMediaFetcher_CloudMedia(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v21.0/media-1":
			w.Write([]byte(`{"url":"` + srv.URL + `/bin/media-1"}`))
		case "/bin/media-1":
			w.Header().Set("Content-Type", "audio/ogg; codecs=opus")
			w.Write([]byte("OggS"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := graph.NewClient(graph.Config{BaseURL: srv.URL, APIVersion: "v21.0", Token: "tok"})
	clip, err := NewMediaFetcher(g).Fetch(context.Background(), "media-1")
	require.NoError(t, err)
	defer clip.Body.Close()

	data, _ := io.ReadAll(clip.Body)
	assert.Equal(t, "OggS", string(data))
	assert.Equal(t, "wa-audio-media-1.ogg", clip.Filename)
	assert.Equal(t, "audio/ogg; codecs=opus", clip.ContentType)

	_, err = NewMediaFetcher(g).Fetch(context.Background(), "missing")
	assert.Error(t, err)
}

func TestService_Transcribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS"), 0o644))
	ref := FileScheme + path

	backend := &fakeBackend{text: "  quiero más parques \n"}
	s := NewService(NewMediaFetcher(nil), backend, "es", time.Second, logger.Nop())

	text, ok := s.Transcribe(context.Background(), ref)
	assert.True(t, ok)
	assert.Equal(t, "quiero más parques", text)
	assert.Equal(t, "OggS", backend.got)

	backend.text = "   "
	_, ok = s.Transcribe(context.Background(), ref)
	assert.False(t, ok)

	backend.err = errors.New("boom")
	_, ok = s.Transcribe(context.Background(), ref)
	assert.False(t, ok)

	_, ok = s.Transcribe(context.Background(), FileScheme+filepath.Join(t.TempDir(), "nope.ogg"))
	assert.False(t, ok)
}

func TestNone(t *testing.T) {
	_, ok := None{}.Transcribe(context.Background(), "media-1")
	assert.False(t, ok)
}

func TestOpenAIBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "es", r.FormValue("language"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hola"}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	text, err := b.Transcribe(context.Background(), strings.NewReader("OggS"), "clip.ogg", "audio/ogg", "es")
	require.NoError(t, err)
	assert.Equal(t, "hola", text)
}
