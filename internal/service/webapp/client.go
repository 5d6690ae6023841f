// Package webapp replicates survey data to the external survey web
// application and uses its transcription endpoint.
package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/survey"
	"cabildo-bot/internal/utils/retry"
)

// ErrNotConfigured is returned by calls that need a base URL when none is
// set.
var ErrNotConfigured = errors.New("web app base url not configured")

// CookieName is the linkage credential cookie issued by /api/profile.
const CookieName = "yt_profile"

// StatusError is a non-2xx response from the web app.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("web app %s: status %d: %s", e.Path, e.Status, e.Body)
}

// Client talks to the survey web app.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Config
	log     waLog.Logger

	mu      sync.Mutex
	cookies map[string]string
}

// New creates a Client. An empty baseURL disables replication.
func New(baseURL string, timeout time.Duration, log waLog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		retry:   retry.DefaultConfig(),
		log:     log.Sub("WebApp"),
		cookies: make(map[string]string),
	}
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type profileRequest struct {
	CabildoName  string            `json:"cabildoName"`
	Phone        string            `json:"phone"`
	Demographics map[string]string `json:"demographics"`
	Consent      bool              `json:"consent"`
}

type messageRequest struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SyncProfile upserts the profile and returns the linkage credential
// ("yt_profile=..."), or "" when the response carried none.
func (c *Client) SyncProfile(ctx context.Context, p *survey.Profile, cabildoName string) (string, error) {
	if !c.Configured() || cabildoName == "" {
		return "", nil
	}

	resp, err := c.postJSON(ctx, "/api/profile", profileRequest{
		CabildoName:  cabildoName,
		Phone:        p.ID,
		Demographics: p.DemographicValues(),
		Consent:      true,
	}, "")
	if err != nil || resp == nil {
		return "", err
	}

	for _, ck := range resp.Cookies() {
		if ck.Name == CookieName {
			pair := ck.Name + "=" + ck.Value
			c.mu.Lock()
			c.cookies[p.ID] = pair
			c.mu.Unlock()
			return pair, nil
		}
	}
	return "", nil
}

// SyncMessage sends one fragment of a segment, scoped by the participant's
// linkage credential when one is known.
func (c *Client) SyncMessage(ctx context.Context, p *survey.Profile, segment, text string) error {
	if !c.Configured() {
		return nil
	}

	cookie := p.ExternalLinkToken
	if cookie == "" {
		c.mu.Lock()
		cookie = c.cookies[p.ID]
		c.mu.Unlock()
	}

	_, err := c.postJSON(ctx, "/api/messages", messageRequest{Type: segment, Text: text}, cookie)
	return err
}

// Forget drops the cached credential of a participant.
func (c *Client) Forget(participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cookies, participantID)
}

// postJSON posts body with a short in-call retry. Server errors and
// transport failures are returned; client errors are logged and dropped,
// and a nil response is returned for them.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}, cookie string) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := retry.DoWithConfig(ctx, c.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
		return c.do(req, path)
	})

	var se *StatusError
	if errors.As(err, &se) && se.Status < 500 {
		c.log.Warnf("Web app rejected %s: %v", path, err)
		return nil, nil
	}
	return resp, err
}

func (c *Client) do(req *http.Request, path string) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if resp.StatusCode >= 500 {
		return nil, &StatusError{Path: path, Status: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode >= 300 {
		return nil, retry.Permanent(&StatusError{Path: path, Status: resp.StatusCode, Body: string(body)})
	}
	return resp, nil
}

// Transcribe uploads audio to /api/transcribe and returns the trimmed text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, contentType, lang string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := mw.WriteField("lang", lang); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transcribe", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req, "/api/transcribe")
	if err != nil {
		return "", err
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
