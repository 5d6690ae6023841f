package send

import (
	"context"
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/service/graph"
)

// CloudSender sends text through the WhatsApp Cloud API.
type CloudSender struct {
	client *graph.Client
	log    waLog.Logger
}

// NewCloudSender creates a CloudSender.
func NewCloudSender(client *graph.Client, log waLog.Logger) *CloudSender {
	return &CloudSender{client: client, log: log.Sub("CloudSender")}
}

func (s *CloudSender) Send(ctx context.Context, to, body string) error {
	if err := s.client.SendText(ctx, to, body); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	s.log.Debugf("Sent %d chars to %s", len(body), to)
	return nil
}
