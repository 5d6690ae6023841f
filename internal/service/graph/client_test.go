package graph

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendTextAndMarkRead(t *testing.T) {
	var bodies []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/555/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var m map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		bodies = append(bodies, m)
		w.Write([]byte(`{"messages":[{"id":"wamid.x"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", APIVersion: "v21.0", Token: "tok", PhoneNumberID: "555"})
	require.NoError(t, c.SendText(context.Background(), "51999", "hola"))
	require.NoError(t, c.MarkRead(context.Background(), "wamid.in"))

	require.Len(t, bodies, 2)
	assert.Equal(t, "text", bodies[0]["type"])
	assert.Equal(t, map[string]interface{}{"body": "hola"}, bodies[0]["text"])
	assert.Equal(t, "read", bodies[1]["status"])
	assert.Equal(t, "wamid.in", bodies[1]["message_id"])
}

func TestClient_MediaRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/v21.0/media-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":"` + base + `/blob"}`))
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "audio/ogg")
		w.Write([]byte("OggS"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	c := NewClient(Config{BaseURL: srv.URL, APIVersion: "v21.0", Token: "tok"})
	u, err := c.MediaURL(context.Background(), "media-1")
	require.NoError(t, err)

	body, ct, err := c.Download(context.Background(), u)
	require.NoError(t, err)
	defer body.Close()
	data, _ := io.ReadAll(body)
	assert.Equal(t, "OggS", string(data))
	assert.Equal(t, "audio/ogg", ct)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIVersion: "v21.0", Token: "x", PhoneNumberID: "1"})
	err := c.SendText(context.Background(), "1", "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
