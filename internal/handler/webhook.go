// Package handler holds the inbound surfaces: the Cloud API webhook, the
// multi-device event handler and the debug endpoints.
package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/service/conversation"
)

// InboundHandler consumes normalized inbound messages.
type InboundHandler interface {
	Handle(ctx context.Context, in conversation.Inbound) error
}

// ReadMarker acknowledges a message as read on the platform.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID string) error
}

// WebhookConfig configures the Cloud API webhook.
type WebhookConfig struct {
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string
	// MarkRead sends read receipts for every inbound message.
	MarkRead bool
	// HandleTimeout bounds the asynchronous processing of one delivery.
	HandleTimeout time.Duration
}

// Webhook receives Cloud API deliveries. Deliveries are acknowledged before
// they are processed.
type Webhook struct {
	cfg     WebhookConfig
	inbound InboundHandler
	reader  ReadMarker
	log     waLog.Logger

	wg sync.WaitGroup
}

// NewWebhook creates a Webhook. reader may be nil.
func NewWebhook(cfg WebhookConfig, inbound InboundHandler, reader ReadMarker, log waLog.Logger) *Webhook {
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 2 * time.Minute
	}
	return &Webhook{
		cfg:     cfg,
		inbound: inbound,
		reader:  reader,
		log:     log.Sub("Webhook"),
	}
}

// Register mounts the webhook and health routes.
func (h *Webhook) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", h.verify)
	mux.HandleFunc("POST /webhook", h.receive)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cabildo bot up"))
	})
}

// Wait blocks until every accepted delivery has been processed.
func (h *Webhook) Wait() {
	h.wg.Wait()
}

func (h *Webhook) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.cfg.VerifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	w.WriteHeader(http.StatusForbidden)
}

func (h *Webhook) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if h.cfg.AppSecret != "" && !validSignature(h.cfg.AppSecret, r.Header.Get("X-Hub-Signature-256"), body) {
		h.log.Warnf("Rejected delivery with bad signature")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)

	in, ok := parseDelivery(body)
	if !ok {
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.HandleTimeout)
		defer cancel()

		if h.cfg.MarkRead && h.reader != nil && in.MessageID != "" {
			if err := h.reader.MarkRead(ctx, in.MessageID); err != nil {
				h.log.Debugf("Failed to mark %s as read: %v", in.MessageID, err)
			}
		}
		if err := h.inbound.Handle(ctx, in); err != nil {
			h.log.Errorf("Failed to handle message %s from %s: %v", in.MessageID, in.ParticipantID, err)
		}
	}()
}

func validSignature(secret, header string, body []byte) bool {
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

type deliveryPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []cloudMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Audio *struct {
		ID string `json:"id"`
	} `json:"audio"`
}

// parseDelivery extracts the first message of a delivery. Status-only
// deliveries and malformed bodies yield ok=false.
func parseDelivery(body []byte) (conversation.Inbound, bool) {
	var p deliveryPayload
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&p); err != nil {
		return conversation.Inbound{}, false
	}
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 || len(p.Entry[0].Changes[0].Value.Messages) == 0 {
		return conversation.Inbound{}, false
	}
	m := p.Entry[0].Changes[0].Value.Messages[0]
	if m.From == "" {
		return conversation.Inbound{}, false
	}

	in := conversation.Inbound{ParticipantID: m.From, MessageID: m.ID}
	switch m.Type {
	case "text":
		in.Kind = conversation.KindText
		if m.Text != nil {
			in.Text = m.Text.Body
		}
	case "button":
		in.Kind = conversation.KindButton
		if m.Button != nil {
			in.Text = m.Button.Text
		}
	case "interactive":
		in.Kind = conversation.KindInteractive
		if it := m.Interactive; it != nil {
			if it.ListReply != nil && it.ListReply.Title != "" {
				in.Text = it.ListReply.Title
			} else if it.ButtonReply != nil {
				in.Text = it.ButtonReply.Title
			}
		}
	case "audio":
		in.Kind = conversation.KindAudio
		if m.Audio != nil {
			in.MediaRef = m.Audio.ID
		}
	default:
		in.Kind = conversation.KindOther
	}
	return in, true
}
