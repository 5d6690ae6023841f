// Package transcribe turns voice clip references into text for the sync
// worker.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/service/graph"
)

// FileScheme prefixes media references that point at a local file, as
// produced by the multi-device transport.
const FileScheme = "file://"

// Clip is a fetched voice clip. The caller closes Body.
type Clip struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
}

// Fetcher resolves a media reference to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*Clip, error)
}

// Backend converts audio to text.
type Backend interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, contentType, lang string) (string, error)
}

// MediaFetcher reads local file references from disk and resolves every
// other reference through the Cloud API media endpoints.
type MediaFetcher struct {
	graph *graph.Client
}

// NewMediaFetcher creates a MediaFetcher. graph may be nil when only local
// references are expected.
func NewMediaFetcher(g *graph.Client) *MediaFetcher {
	return &MediaFetcher{graph: g}
}

func (f *MediaFetcher) Fetch(ctx context.Context, ref string) (*Clip, error) {
	if path, ok := strings.CutPrefix(ref, FileScheme); ok {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open clip: %w", err)
		}
		return &Clip{Body: file, Filename: filepath.Base(path), ContentType: "audio/ogg"}, nil
	}

	if f.graph == nil {
		return nil, errors.New("no media source for remote reference")
	}
	url, err := f.graph.MediaURL(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve media %s: %w", ref, err)
	}
	body, contentType, err := f.graph.Download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download media %s: %w", ref, err)
	}
	if contentType == "" {
		contentType = "audio/ogg"
	}
	return &Clip{Body: body, Filename: fmt.Sprintf("wa-audio-%s.ogg", ref), ContentType: contentType}, nil
}

// Service fetches a clip and runs it through a backend. Any failure is
// logged and reported as "nothing to sync".
type Service struct {
	fetcher Fetcher
	backend Backend
	lang    string
	timeout time.Duration
	log     waLog.Logger
}

// NewService creates a Service.
func NewService(fetcher Fetcher, backend Backend, lang string, timeout time.Duration, log waLog.Logger) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		fetcher: fetcher,
		backend: backend,
		lang:    lang,
		timeout: timeout,
		log:     log.Sub("Transcribe"),
	}
}

func (s *Service) Transcribe(ctx context.Context, ref string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	clip, err := s.fetcher.Fetch(ctx, ref)
	if err != nil {
		s.log.Warnf("Failed to fetch clip %s: %v", ref, err)
		return "", false
	}
	defer clip.Body.Close()

	text, err := s.backend.Transcribe(ctx, clip.Body, clip.Filename, clip.ContentType, s.lang)
	if err != nil {
		s.log.Warnf("Failed to transcribe clip %s: %v", ref, err)
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.log.Debugf("Clip %s transcribed to nothing", ref)
		return "", false
	}
	return text, true
}

// None never transcribes; audio fragments are skipped.
type None struct{}

func (None) Transcribe(context.Context, string) (string, bool) { return "", false }
