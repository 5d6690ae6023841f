package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabildo-bot/internal/infra/logger"
	"cabildo-bot/internal/service/conversation"
	"cabildo-bot/internal/service/dedup"
	"cabildo-bot/internal/service/jobs"
	"cabildo-bot/internal/service/profile"
	"cabildo-bot/internal/service/send"
	"cabildo-bot/internal/service/session"
)

type debugFixture struct {
	mux      *http.ServeMux
	engine   *conversation.Engine
	profiles *profile.Store
	outbox   *send.MemoryOutbox
}

func newDebugFixture(t *testing.T) *debugFixture {
	outbox := send.NewMemoryOutbox()
	sessions := session.NewMemoryStore()
	profiles := profile.NewStore(profile.NewMemoryBackend(), logger.Nop())
	broker := jobs.NewMemoryBroker()

	engine := conversation.NewEngine(conversation.Config{}, conversation.Deps{
		Dedup:    dedup.NewMemory(time.Minute),
		Sessions: sessions,
		Profiles: profiles,
		Sender:   send.NewSendService(send.NewLogSender(logger.Nop()), outbox, logger.Nop()),
		Queue:    broker,
		Outbox:   outbox,
	}, logger.Nop())
	t.Cleanup(engine.Close)

	mux := http.NewServeMux()
	NewDebug(DebugDeps{
		Admin:    engine,
		Profiles: profiles,
		Outbox:   outbox,
		Queue:    broker,
		Sessions: sessions,
	}, logger.Nop()).Register(mux)

	return &debugFixture{mux: mux, engine: engine, profiles: profiles, outbox: outbox}
}

func (f *debugFixture) say(t *testing.T, id, msgID, text string) {
	require.NoError(t, f.engine.Handle(context.Background(), conversation.Inbound{
		ParticipantID: id, MessageID: msgID, Kind: conversation.KindText, Text: text,
	}))
}

func (f *debugFixture) do(t *testing.T, method, path string, out interface{}) int {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestDebug_InspectAndReset(t *testing.T) {
	f := newDebugFixture(t)
	f.say(t, "519", "m1", "Hola")
	f.say(t, "519", "m2", "1")
	f.say(t, "519", "m3", "Cabildo Sur")

	var summary struct {
		WaIDs  []string       `json:"waids"`
		Counts map[string]int `json:"counts"`
	}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/_dev/outbox", &summary))
	assert.Equal(t, []string{"519"}, summary.WaIDs)
	assert.Equal(t, 3, summary.Counts["519"])

	var box struct {
		To       string             `json:"to"`
		Count    int                `json:"count"`
		Messages []send.OutboxEntry `json:"messages"`
	}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/_dev/outbox/519", &box))
	assert.Equal(t, 3, box.Count)
	assert.Equal(t, "519", box.Messages[0].ParticipantID)

	var state session.Session
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/_dev/state/519", &state))
	assert.Equal(t, session.StateDemographics, state.State)
	assert.Equal(t, "Cabildo Sur", state.CabildoName)

	var prof map[string]interface{}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/_dev/profile/519", &prof))
	assert.Equal(t, "Cabildo Sur", prof["lastCabildoName"])

	var ids struct {
		WaIDs []string `json:"waids"`
	}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/_dev/profiles", &ids))
	assert.Equal(t, []string{"519"}, ids.WaIDs)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/_dev/sessions", &ids))
	assert.Equal(t, []string{"519"}, ids.WaIDs)

	var stats jobs.Stats
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/_dev/queue", &stats))
	assert.Zero(t, stats.Pending)

	var ok map[string]bool
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/_dev/reset/519", &ok))
	assert.True(t, ok["ok"])

	var none interface{}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/_dev/state/519", &none))
	assert.Nil(t, none)
	assert.Empty(t, f.outbox.Participants())

	p, err := f.profiles.Get(context.Background(), "519")
	require.NoError(t, err)
	assert.Equal(t, "Cabildo Sur", p.LastCabildoName)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/_dev/reset-full/519", &ok))
	p, err = f.profiles.Get(context.Background(), "519")
	require.NoError(t, err)
	assert.Empty(t, p.LastCabildoName)
}

func TestDebug_ResetRequiresPost(t *testing.T) {
	f := newDebugFixture(t)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/_dev/reset/519", nil))
}
