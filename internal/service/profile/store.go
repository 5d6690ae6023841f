// Package profile provides the durable participant profile store on top of
// a pluggable key-value backend.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/survey"
	"cabildo-bot/internal/utils/keylock"
)

// ErrNotFound is returned by Lookup and UpdateExisting for unknown ids.
var ErrNotFound = errors.New("profile not found")

// ErrConflict is returned by Backend.Save when the stored version moved on
// since the caller loaded it.
var ErrConflict = errors.New("profile changed concurrently")

// maxConflicts bounds the read-modify-write retries of one Update.
const maxConflicts = 16

// Backend persists encoded profiles. Load reports version 0 for unknown
// ids. Save stores data only if the record is still at version (0 meaning
// it must not exist yet) and returns ErrConflict otherwise. Save must be
// durable when it returns.
type Backend interface {
	Load(ctx context.Context, id string) (data []byte, version int64, err error)
	Save(ctx context.Context, id string, data []byte, version int64) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// Store is the single source of truth for survey progress. Writers in
// other processes are detected through the backend version and retried.
type Store struct {
	backend Backend
	locks   *keylock.Locker
	log     waLog.Logger
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, log waLog.Logger) *Store {
	return &Store{
		backend: backend,
		locks:   keylock.New(),
		log:     log.Sub("ProfileStore"),
	}
}

// Get returns the participant's profile, creating and persisting a default
// one on first contact. Undecodable records are replaced by a default
// profile.
func (s *Store) Get(ctx context.Context, id string) (*survey.Profile, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for i := 0; i < maxConflicts; i++ {
		p, version, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if version > 0 && p != nil {
			return p, nil
		}
		if p == nil {
			p = survey.NewProfile(id)
		}
		err = s.save(ctx, p, version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create profile %s: %w", id, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("create profile %s: %w", id, ErrConflict)
}

// Lookup returns the stored profile without creating one. It returns
// ErrNotFound for unknown ids and a default profile for undecodable ones.
func (s *Store) Lookup(ctx context.Context, id string) (*survey.Profile, error) {
	p, version, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, ErrNotFound
	}
	if p == nil {
		return survey.NewProfile(id), nil
	}
	return p, nil
}

// Update applies the named changes in one read-modify-write and returns the
// stored result. An unknown id starts from a default profile.
func (s *Store) Update(ctx context.Context, id string, changes ...survey.Change) (*survey.Profile, error) {
	return s.update(ctx, id, true, changes)
}

// UpdateExisting is Update for callers that must not bring back a profile
// deleted by a reset. It returns ErrNotFound when the id is unknown.
func (s *Store) UpdateExisting(ctx context.Context, id string, changes ...survey.Change) (*survey.Profile, error) {
	return s.update(ctx, id, false, changes)
}

func (s *Store) update(ctx context.Context, id string, create bool, changes []survey.Change) (*survey.Profile, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	names := make([]string, 0, len(changes))
	for _, c := range changes {
		names = append(names, c.Name())
	}
	label := strings.Join(names, ",")

	for i := 0; i < maxConflicts; i++ {
		p, version, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if version == 0 && !create {
			return nil, ErrNotFound
		}
		if p == nil {
			p = survey.NewProfile(id)
		}

		for _, c := range changes {
			c.Apply(p)
		}
		err = s.save(ctx, p, version)
		if errors.Is(err, ErrConflict) {
			s.log.Debugf("Profile %s changed while applying %s, retrying", id, label)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update profile %s (%s): %w", id, label, err)
		}
		s.log.Debugf("Updated profile %s: %s", id, label)
		return p, nil
	}
	return nil, fmt.Errorf("update profile %s (%s): %w", id, label, ErrConflict)
}

// Delete removes the participant's profile entirely.
func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	return nil
}

// ListIDs returns every known participant id, sorted.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// load decodes the stored record. p is nil when the id is unknown
// (version 0) or the record is undecodable (version > 0).
func (s *Store) load(ctx context.Context, id string) (*survey.Profile, int64, error) {
	data, version, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("load profile %s: %w", id, err)
	}
	if version == 0 {
		return nil, 0, nil
	}

	var p survey.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Warnf("Corrupted profile for %s, resetting to default: %v", id, err)
		return nil, version, nil
	}
	p.Normalize(id)
	return &p, version, nil
}

func (s *Store) save(ctx context.Context, p *survey.Profile, version int64) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.backend.Save(ctx, p.ID, data, version)
}

// MemoryBackend keeps encoded profiles in process memory. It is the
// degraded fallback used when no durable backend is configured, and the
// backend of choice in tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]memoryRecord
}

type memoryRecord struct {
	data    []byte
	version int64
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]memoryRecord)}
}

func (m *MemoryBackend) Load(_ context.Context, id string) ([]byte, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.data[id]
	return r.data, r.version, nil
}

func (m *MemoryBackend) Save(_ context.Context, id string, data []byte, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[id].version != version {
		return ErrConflict
	}
	m.data[id] = memoryRecord{data: append([]byte(nil), data...), version: version + 1}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *MemoryBackend) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids, nil
}
