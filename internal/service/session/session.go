// Package session holds the ephemeral conversational position of each
// participant. Sessions are disposable; survey progress lives in the
// profile store.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cabildo-bot/internal/survey"
)

// ErrNotFound is returned by Store.Get for participants without a session.
var ErrNotFound = errors.New("session not found")

// State is a conversation state.
type State string

const (
	StateStart          State = "start"
	StateMenu           State = "menu"
	StateAskCabildoName State = "ask_cabildo_name"
	StateDemographics   State = "demographics"
	StateStationMenu    State = "station_menu"
	StateStationInput   State = "station_input"
	StateAfterStation   State = "after_station"
	StateFinalPhrase    State = "post_all_stations_phrase"
	StateConsent        State = "consent"
	StateVentInput      State = "vent_input"
)

// Fragment is one piece of free text collected in a segment.
type Fragment struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Text     string    `json:"text,omitempty"`
	MediaRef string    `json:"mediaRef,omitempty"`
}

// Session is the in-flight state of one participant.
type Session struct {
	ParticipantID string `json:"waId"`
	// Generation identifies this session instance. A replacement session
	// for the same participant always gets a new generation.
	Generation       string     `json:"generation"`
	State            State      `json:"state"`
	DemographicIndex int        `json:"demographicIndex,omitempty"`
	CabildoName      string     `json:"cabildoName,omitempty"`
	StationsDone     []int      `json:"stationsDone,omitempty"`
	CurrentStation   int        `json:"currentStation,omitempty"`
	MessageBuffer    []Fragment `json:"messageBuffer,omitempty"`
	LastSeen         time.Time  `json:"lastSeen"`
}

// New creates a session in StateStart.
func New(participantID string, now time.Time) *Session {
	return &Session{
		ParticipantID: participantID,
		Generation:    uuid.NewString(),
		State:         StateStart,
		LastSeen:      now,
	}
}

// Expired reports whether the session has been idle for at least idle.
func (s *Session) Expired(now time.Time, idle time.Duration) bool {
	return idle > 0 && now.Sub(s.LastSeen) >= idle
}

// Hydrate merges the authoritative profile into the cached fields. The
// profile's cabildo name wins; completed stations are unioned.
func (s *Session) Hydrate(p *survey.Profile) {
	if p.LastCabildoName != "" {
		s.CabildoName = p.LastCabildoName
	}
	s.StationsDone = survey.UnionStations(s.StationsDone, p.StationsDone)
}

// MarkStationDone adds n to the completed set.
func (s *Session) MarkStationDone(n int) {
	s.StationsDone = survey.UnionStations(s.StationsDone, []int{n})
}

// Buffer appends a fragment to the current segment.
func (s *Session) Buffer(f Fragment) {
	s.MessageBuffer = append(s.MessageBuffer, f)
}

// ResetBuffer starts a new segment.
func (s *Session) ResetBuffer() {
	s.MessageBuffer = nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.StationsDone = append([]int(nil), s.StationsDone...)
	c.MessageBuffer = append([]Fragment(nil), s.MessageBuffer...)
	return &c
}

// Store is the session table.
type Store interface {
	Get(ctx context.Context, participantID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, participantID string) error
}

// Lister is implemented by stores that can enumerate live sessions.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// MemoryStore is a Store on a process-local map. It stores copies so
// callers never share a Session value.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Get(_ context.Context, participantID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[participantID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ParticipantID] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, participantID)
	return nil
}

func (m *MemoryStore) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
