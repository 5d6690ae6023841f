package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabildo-bot/internal/infra/logger"
	"cabildo-bot/internal/service/conversation"
)

type recordingInbound struct {
	mu  sync.Mutex
	got []conversation.Inbound
}

func (r *recordingInbound) Handle(_ context.Context, in conversation.Inbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, in)
	return nil
}

func (r *recordingInbound) all() []conversation.Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]conversation.Inbound(nil), r.got...)
}

type recordingReader struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingReader) MarkRead(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func newTestWebhook(cfg WebhookConfig) (*Webhook, *recordingInbound, *recordingReader, *http.ServeMux) {
	in := &recordingInbound{}
	rd := &recordingReader{}
	h := NewWebhook(cfg, in, rd, logger.Nop())
	mux := http.NewServeMux()
	h.Register(mux)
	return h, in, rd, mux
}

func delivery(message string) string {
	return `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[` + message + `]}}]}]}`
}

func post(mux *http.ServeMux, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_Verify(t *testing.T) {
	_, _, _, mux := newTestWebhook(WebhookConfig{VerifyToken: "secret"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhook_ReceiveKinds(t *testing.T) {
	h, in, rd, mux := newTestWebhook(WebhookConfig{MarkRead: true})

	bodies := []string{
		`{"from":"519","id":"m1","type":"text","text":{"body":"Hola"}}`,
		`{"from":"519","id":"m2","type":"button","button":{"text":"Sí"}}`,
		`{"from":"519","id":"m3","type":"interactive","interactive":{"list_reply":{"title":"Estación 2"}}}`,
		`{"from":"519","id":"m4","type":"interactive","interactive":{"button_reply":{"title":"1"}}}`,
		`{"from":"519","id":"m5","type":"audio","audio":{"id":"media-9"}}`,
		`{"from":"519","id":"m6","type":"sticker","sticker":{"id":"s"}}`,
	}
	for _, b := range bodies {
		assert.Equal(t, http.StatusOK, post(mux, delivery(b), nil).Code)
	}
	h.Wait()

	got := map[string]conversation.Inbound{}
	for _, m := range in.all() {
		got[m.MessageID] = m
	}
	require.Len(t, got, 6)
	assert.Equal(t, conversation.Inbound{ParticipantID: "519", MessageID: "m1", Kind: conversation.KindText, Text: "Hola"}, got["m1"])
	assert.Equal(t, "Sí", got["m2"].Text)
	assert.Equal(t, "Estación 2", got["m3"].Text)
	assert.Equal(t, "1", got["m4"].Text)
	assert.Equal(t, conversation.KindAudio, got["m5"].Kind)
	assert.Equal(t, "media-9", got["m5"].MediaRef)
	assert.Equal(t, conversation.AudioPlaceholder, got["m5"].Content())
	assert.Equal(t, conversation.ContentPlaceholder, got["m6"].Content())

	assert.Len(t, rd.ids, 6)
}

func TestWebhook_StatusOnlyDeliveryIsAcked(t *testing.T) {
	h, in, _, mux := newTestWebhook(WebhookConfig{})
	rec := post(mux, `{"entry":[{"changes":[{"value":{"statuses":[{"id":"x","status":"read"}]}}]}]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = post(mux, `not json`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	h.Wait()
	assert.Empty(t, in.all())
}

func TestWebhook_Signature(t *testing.T) {
	h, in, _, mux := newTestWebhook(WebhookConfig{AppSecret: "app-secret"})
	body := delivery(`{"from":"519","id":"m1","type":"text","text":{"body":"Hola"}}`)

	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(body))
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, http.StatusForbidden, post(mux, body, nil).Code)
	assert.Equal(t, http.StatusForbidden, post(mux, body, map[string]string{"X-Hub-Signature-256": "sha256=00"}).Code)
	assert.Equal(t, http.StatusOK, post(mux, body, map[string]string{"X-Hub-Signature-256": good}).Code)
	h.Wait()
	assert.Len(t, in.all(), 1)
}

func TestWebhook_Health(t *testing.T) {
	_, _, _, mux := newTestWebhook(WebhookConfig{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
