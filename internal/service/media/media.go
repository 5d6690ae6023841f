// Package media downloads voice clips received over the linked-device
// transport and keeps them on the local filesystem until transcribed.
//
// Files live under {store}/media/{participant}/{message}/audio{ext} and are
// tracked in a Cache so redeliveries reuse the same file.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/utils/retry"
)

// CacheEntry is one downloaded clip.
type CacheEntry struct {
	MessageID string
	WaID      string
	MediaType string
	LocalPath string
	FileSize  int64
}

// Cache tracks downloaded clips.
type Cache interface {
	Put(ctx context.Context, e *CacheEntry) error
	GetLocalPath(ctx context.Context, messageID, waID string) (string, error)
	DeleteByParticipant(ctx context.Context, waID string) ([]string, error)
}

// Downloader fetches encrypted media from the WhatsApp CDN. It is
// satisfied by *whatsmeow.Client.
type Downloader interface {
	DownloadMediaWithPath(ctx context.Context, directPath string, encFileHash, fileHash, mediaKey []byte, fileLength int, mediaType whatsmeow.MediaType, mmsType string) ([]byte, error)
}

// Config tunes downloads.
type Config struct {
	MaxFileSizeMB int
	Retry         retry.Config
}

// MediaService downloads voice clips.
type MediaService struct {
	client    Downloader
	config    Config
	storePath string
	cache     Cache
	log       waLog.Logger
}

// NewMediaService creates a MediaService. cache may be nil.
func NewMediaService(client Downloader, cfg Config, storePath string, cache Cache, log waLog.Logger) *MediaService {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &MediaService{
		client:    client,
		config:    cfg,
		storePath: storePath,
		cache:     cache,
		log:       log.Sub("MediaService"),
	}
}

// SetClient updates the downloader (for delayed initialization).
func (s *MediaService) SetClient(client Downloader) {
	s.client = client
}

// DownloadAudio stores the clip of msg and returns its local path. A clip
// already on disk is reused.
func (s *MediaService) DownloadAudio(ctx context.Context, waID, messageID string, aud *waE2E.AudioMessage) (string, error) {
	if aud == nil || aud.GetDirectPath() == "" {
		return "", errors.New("message has no downloadable audio")
	}
	if s.config.MaxFileSizeMB > 0 && int64(aud.GetFileLength()) > int64(s.config.MaxFileSizeMB)*1024*1024 {
		return "", fmt.Errorf("audio %s: size %d exceeds limit", messageID, aud.GetFileLength())
	}

	if path := s.cached(ctx, waID, messageID); path != "" {
		s.log.Debugf("Audio already downloaded: %s", path)
		return path, nil
	}

	filePath := filepath.Join(
		s.storePath,
		"media",
		sanitizeID(waID),
		sanitizeID(messageID),
		"audio"+getExtension(aud.GetMimetype()),
	)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	data, err := retry.DoWithConfig(ctx, s.config.Retry, func() ([]byte, error) {
		if s.client == nil {
			return nil, retry.Permanent(errors.New("client not initialized"))
		}
		return s.client.DownloadMediaWithPath(
			ctx,
			aud.GetDirectPath(),
			aud.GetFileEncSHA256(),
			aud.GetFileSHA256(),
			aud.GetMediaKey(),
			int(aud.GetFileLength()),
			whatsmeow.MediaAudio,
			"",
		)
	})
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	s.log.Infof("Downloaded audio: %s (%d bytes)", filePath, len(data))

	if s.cache != nil {
		if err := s.cache.Put(ctx, &CacheEntry{
			MessageID: messageID,
			WaID:      waID,
			MediaType: "audio",
			LocalPath: filePath,
			FileSize:  int64(len(data)),
		}); err != nil {
			s.log.Warnf("Failed to update media cache for %s: %v", messageID, err)
		}
	}
	return filePath, nil
}

func (s *MediaService) cached(ctx context.Context, waID, messageID string) string {
	if s.cache == nil {
		return ""
	}
	path, err := s.cache.GetLocalPath(ctx, messageID, waID)
	if err != nil || path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Purge removes every clip of a participant from disk and from the cache.
func (s *MediaService) Purge(ctx context.Context, waID string) error {
	if s.cache == nil {
		return nil
	}
	paths, err := s.cache.DeleteByParticipant(ctx, waID)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.log.Warnf("Failed to remove %s: %v", p, err)
		}
	}
	return nil
}

// Sweep deletes clip files older than maxAge. The cache entries stay; a
// missing file is simply downloaded again on redelivery.
func (s *MediaService) Sweep(maxAge time.Duration) (int, error) {
	root := filepath.Join(s.storePath, "media")
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// sanitizeID creates a filesystem-safe path segment.
func sanitizeID(id string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"@", "_at_",
		"..", "_",
	)
	return replacer.Replace(id)
}

// getExtension maps an audio mimetype to a file extension.
func getExtension(mimetype string) string {
	for prefix, ext := range map[string]string{
		"audio/ogg":  ".ogg",
		"audio/mpeg": ".mp3",
		"audio/mp4":  ".m4a",
		"audio/aac":  ".aac",
		"audio/amr":  ".amr",
	} {
		if strings.HasPrefix(mimetype, prefix) {
			return ext
		}
	}
	return ".ogg"
}
