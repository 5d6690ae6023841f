package send

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// WhatsmeowSender sends text through a linked multi-device session.
type WhatsmeowSender struct {
	client *whatsmeow.Client
	log    waLog.Logger
}

// NewWhatsmeowSender creates a WhatsmeowSender.
func NewWhatsmeowSender(client *whatsmeow.Client, log waLog.Logger) *WhatsmeowSender {
	return &WhatsmeowSender{client: client, log: log.Sub("WhatsmeowSender")}
}

// SetClient updates the whatsmeow client (for delayed initialization).
func (s *WhatsmeowSender) SetClient(client *whatsmeow.Client) {
	s.client = client
}

func (s *WhatsmeowSender) Send(ctx context.Context, to, body string) error {
	if s.client == nil {
		return fmt.Errorf("client not initialized")
	}
	jid, err := ParseRecipient(to)
	if err != nil {
		return err
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	s.log.Debugf("Sent message %s to %s", resp.ID, jid)
	return nil
}

// ParseRecipient accepts a full JID or a bare phone number.
func ParseRecipient(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		return jid, nil
	}
	phone := strings.TrimPrefix(strings.TrimSpace(to), "+")
	if phone == "" {
		return types.JID{}, fmt.Errorf("empty recipient")
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}
