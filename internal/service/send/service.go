// Package send delivers outbound text to participants over the configured
// transport and optionally records what was sent.
package send

import (
	"context"
	"sort"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// Sender delivers one text message to a participant. Implementations make
// at most one attempt.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// OutboxEntry is one recorded outbound message.
type OutboxEntry struct {
	ParticipantID string    `json:"waId"`
	Text          string    `json:"text"`
	At            time.Time `json:"at"`
}

// Outbox records outbound messages for inspection.
type Outbox interface {
	Record(ctx context.Context, participantID, body string) error
	List(ctx context.Context, participantID string) ([]OutboxEntry, error)
	Summary(ctx context.Context) (map[string]int, error)
	Clear(ctx context.Context, participantID string) error
}

// SendService records every message in the outbox and hands it to the
// transport.
type SendService struct {
	sender Sender
	outbox Outbox
	log    waLog.Logger
}

// NewSendService creates a SendService. outbox may be nil.
func NewSendService(sender Sender, outbox Outbox, log waLog.Logger) *SendService {
	return &SendService{
		sender: sender,
		outbox: outbox,
		log:    log.Sub("SendService"),
	}
}

// Send implements Sender.
func (s *SendService) Send(ctx context.Context, to, body string) error {
	if s.outbox != nil {
		if err := s.outbox.Record(ctx, to, body); err != nil {
			s.log.Warnf("Failed to record outbound message for %s: %v", to, err)
		}
	}
	return s.sender.Send(ctx, to, body)
}

// Outbox returns the outbox, or nil.
func (s *SendService) Outbox() Outbox {
	return s.outbox
}

// MemoryOutbox is an Outbox in process memory.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries map[string][]OutboxEntry
	now     func() time.Time
}

// NewMemoryOutbox creates an empty MemoryOutbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{entries: make(map[string][]OutboxEntry), now: time.Now}
}

func (o *MemoryOutbox) Record(_ context.Context, participantID, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[participantID] = append(o.entries[participantID], OutboxEntry{
		ParticipantID: participantID,
		Text:          body,
		At:            o.now(),
	})
	return nil
}

func (o *MemoryOutbox) List(_ context.Context, participantID string) ([]OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OutboxEntry(nil), o.entries[participantID]...), nil
}

func (o *MemoryOutbox) Summary(context.Context) (map[string]int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	counts := make(map[string]int, len(o.entries))
	for id, e := range o.entries {
		counts[id] = len(e)
	}
	return counts, nil
}

func (o *MemoryOutbox) Clear(_ context.Context, participantID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, participantID)
	return nil
}

// Texts returns the recorded bodies for a participant, oldest first.
func (o *MemoryOutbox) Texts(participantID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.entries[participantID]))
	for _, e := range o.entries[participantID] {
		out = append(out, e.Text)
	}
	return out
}

// Participants returns every participant with recorded messages, sorted.
func (o *MemoryOutbox) Participants() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.entries))
	for id := range o.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LogSender only logs. It is the dry-run transport.
type LogSender struct {
	log waLog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log waLog.Logger) *LogSender {
	return &LogSender{log: log.Sub("DryRun")}
}

func (s *LogSender) Send(_ context.Context, to, body string) error {
	s.log.Infof("[dry-run] to=%s: %s", to, body)
	return nil
}
