package handler

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"cabildo-bot/internal/event"
	"cabildo-bot/internal/service/conversation"
	"cabildo-bot/internal/service/transcribe"
)

// AudioDownloader stores a voice clip locally and returns its path.
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, waID, messageID string, aud *waE2E.AudioMessage) (string, error)
}

// MessageHandler feeds multi-device messages into the conversation engine.
//
// whatsmeow emits events from a single goroutine, so handling them inline
// keeps each participant's messages in arrival order.
type MessageHandler struct {
	event.BaseHandler
	inbound InboundHandler
	audio   AudioDownloader
	timeout time.Duration
	log     waLog.Logger
}

// NewMessageHandler creates a MessageHandler. audio may be nil, in which
// case voice clips reach the engine without a media reference.
func NewMessageHandler(inbound InboundHandler, audio AudioDownloader, log waLog.Logger) *MessageHandler {
	return &MessageHandler{
		inbound: inbound,
		audio:   audio,
		timeout: 2 * time.Minute,
		log:     log.Sub("MessageHandler"),
	}
}

// OnMessage converts direct messages and hands them to the engine.
func (h *MessageHandler) OnMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup || !isDirectChat(evt.Info.Chat) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	in := InboundFromEvent(evt)
	if in.Kind == conversation.KindAudio && h.audio != nil {
		path, err := h.audio.DownloadAudio(ctx, in.ParticipantID, in.MessageID, evt.Message.GetAudioMessage())
		if err != nil {
			h.log.Warnf("Failed to download audio %s from %s: %v", in.MessageID, in.ParticipantID, err)
		} else {
			in.MediaRef = transcribe.FileScheme + path
		}
	}

	if err := h.inbound.Handle(ctx, in); err != nil {
		h.log.Errorf("Failed to handle message %s from %s: %v", in.MessageID, in.ParticipantID, err)
	}
}

// InboundFromEvent extracts the text-bearing parts of a message event.
func InboundFromEvent(evt *events.Message) conversation.Inbound {
	in := conversation.Inbound{
		ParticipantID: ParticipantID(evt.Info.Chat),
		MessageID:     evt.Info.ID,
	}
	msg := evt.Message
	if msg == nil {
		in.Kind = conversation.KindOther
		return in
	}

	switch {
	case msg.GetConversation() != "":
		in.Kind = conversation.KindText
		in.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		in.Kind = conversation.KindText
		in.Text = msg.GetExtendedTextMessage().GetText()
	case msg.GetButtonsResponseMessage() != nil:
		in.Kind = conversation.KindButton
		in.Text = msg.GetButtonsResponseMessage().GetSelectedDisplayText()
	case msg.GetTemplateButtonReplyMessage() != nil:
		in.Kind = conversation.KindButton
		in.Text = msg.GetTemplateButtonReplyMessage().GetSelectedDisplayText()
	case msg.GetListResponseMessage() != nil:
		in.Kind = conversation.KindInteractive
		in.Text = msg.GetListResponseMessage().GetTitle()
	case msg.GetAudioMessage() != nil:
		in.Kind = conversation.KindAudio
	default:
		in.Kind = conversation.KindOther
	}
	return in
}

func isDirectChat(chat types.JID) bool {
	return chat.Server == types.DefaultUserServer || chat.Server == types.HiddenUserServer
}

// ParticipantID is the phone number for regular chats and the full JID
// otherwise, so replies can be addressed with either form.
func ParticipantID(chat types.JID) string {
	if chat.Server == types.DefaultUserServer {
		return chat.User
	}
	return chat.String()
}
