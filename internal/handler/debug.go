package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/service/jobs"
	"cabildo-bot/internal/service/send"
	"cabildo-bot/internal/service/session"
	"cabildo-bot/internal/survey"
)

// SessionAdmin is the slice of the engine the debug surface drives.
type SessionAdmin interface {
	Session(ctx context.Context, id string) (*session.Session, error)
	Reset(ctx context.Context, id string, full bool) error
}

// ProfileReader exposes stored profiles.
type ProfileReader interface {
	Get(ctx context.Context, id string) (*survey.Profile, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// DebugDeps are the collaborators of the debug surface. Queue and Sessions
// are optional.
type DebugDeps struct {
	Admin    SessionAdmin
	Profiles ProfileReader
	Outbox   send.Outbox
	Queue    jobs.StatsReporter
	Sessions session.Lister
}

// Debug serves the /_dev inspection endpoints. It has no authentication
// and is meant for a loopback listener.
type Debug struct {
	deps DebugDeps
	log  waLog.Logger
}

// NewDebug creates a Debug handler.
func NewDebug(deps DebugDeps, log waLog.Logger) *Debug {
	return &Debug{deps: deps, log: log.Sub("Debug")}
}

// Register mounts the debug routes.
func (d *Debug) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /_dev/outbox", d.outboxSummary)
	mux.HandleFunc("GET /_dev/outbox/{id}", d.outbox)
	mux.HandleFunc("GET /_dev/state/{id}", d.state)
	mux.HandleFunc("GET /_dev/profile/{id}", d.profile)
	mux.HandleFunc("GET /_dev/profiles", d.profiles)
	mux.HandleFunc("GET /_dev/sessions", d.sessions)
	mux.HandleFunc("GET /_dev/queue", d.queue)
	mux.HandleFunc("POST /_dev/reset/{id}", d.reset(false))
	mux.HandleFunc("POST /_dev/reset-full/{id}", d.reset(true))
}

func (d *Debug) outboxSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := d.deps.Outbox.Summary(r.Context())
	if err != nil {
		d.fail(w, err)
		return
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]interface{}{"waids": ids, "counts": counts})
}

func (d *Debug) outbox(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := d.deps.Outbox.List(r.Context(), id)
	if err != nil {
		d.fail(w, err)
		return
	}
	if entries == nil {
		entries = []send.OutboxEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"to": id, "count": len(entries), "messages": entries})
}

func (d *Debug) state(w http.ResponseWriter, r *http.Request) {
	s, err := d.deps.Admin.Session(r.Context(), r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		d.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (d *Debug) profile(w http.ResponseWriter, r *http.Request) {
	p, err := d.deps.Profiles.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		d.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (d *Debug) profiles(w http.ResponseWriter, r *http.Request) {
	ids, err := d.deps.Profiles.ListIDs(r.Context())
	if err != nil {
		d.fail(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"waids": ids})
}

func (d *Debug) sessions(w http.ResponseWriter, r *http.Request) {
	if d.deps.Sessions == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "session backend cannot list"})
		return
	}
	ids, err := d.deps.Sessions.List(r.Context())
	if err != nil {
		d.fail(w, err)
		return
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]interface{}{"waids": ids})
}

func (d *Debug) queue(w http.ResponseWriter, r *http.Request) {
	if d.deps.Queue == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "queue backend cannot report depth"})
		return
	}
	stats, err := d.deps.Queue.Stats(r.Context())
	if err != nil {
		d.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (d *Debug) reset(full bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := d.deps.Admin.Reset(r.Context(), id, full); err != nil {
			d.fail(w, err)
			return
		}
		d.log.Infof("Reset %s (full=%v)", id, full)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (d *Debug) fail(w http.ResponseWriter, err error) {
	d.log.Errorf("Debug request failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
