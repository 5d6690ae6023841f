// Package filestore is a single-process profile backend kept in one JSON
// document and rewritten atomically on every save.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/service/profile"
)

// ProfileBackend stores every profile under its id in one JSON object.
type ProfileBackend struct {
	path string
	log  waLog.Logger

	mu       sync.Mutex
	records  map[string]json.RawMessage
	versions map[string]int64
}

// NewProfileBackend opens (or creates) the document at path. An unreadable
// document is moved aside and replaced by an empty one.
func NewProfileBackend(path string, log waLog.Logger) (*ProfileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	b := &ProfileBackend{
		path:    path,
		log:     log.Sub("FileProfiles"),
		records:  make(map[string]json.RawMessage),
		versions: make(map[string]int64),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &b.records); err != nil {
			aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
			b.log.Errorf("Profile file %s is corrupted, moving it to %s: %v", path, aside, err)
			if err := os.Rename(path, aside); err != nil {
				return nil, fmt.Errorf("move corrupted profile file: %w", err)
			}
			b.records = make(map[string]json.RawMessage)
		}
	}
	for id := range b.records {
		b.versions[id] = 1
	}
	return b, nil
}

func (b *ProfileBackend) Load(_ context.Context, id string) ([]byte, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records[id], b.versions[id], nil
}

// Save replaces the record if it is still at version. Versions live in
// memory only; the document has a single writer process.
func (b *ProfileBackend) Save(_ context.Context, id string, data []byte, version int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.versions[id] != version {
		return profile.ErrConflict
	}
	prev, had := b.records[id]
	b.records[id] = append(json.RawMessage(nil), data...)
	if err := b.flush(); err != nil {
		if had {
			b.records[id] = prev
		} else {
			delete(b.records, id)
		}
		return err
	}
	b.versions[id] = version + 1
	return nil
}

func (b *ProfileBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, had := b.records[id]
	if !had {
		return nil
	}
	delete(b.records, id)
	if err := b.flush(); err != nil {
		b.records[id] = prev
		return err
	}
	delete(b.versions, id)
	return nil
}

func (b *ProfileBackend) List(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.records))
	for id := range b.records {
		ids = append(ids, id)
	}
	return ids, nil
}

// flush writes the document to a temp file in the same directory, syncs it
// and renames it over the previous version.
func (b *ProfileBackend) flush() error {
	data, err := json.Marshal(b.records)
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace profile file: %w", err)
	}
	return nil
}
