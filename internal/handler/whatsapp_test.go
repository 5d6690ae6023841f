package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"cabildo-bot/internal/event"
	"cabildo-bot/internal/infra/logger"
	"cabildo-bot/internal/service/conversation"
)

type fakeAudio struct {
	path string
	err  error
}

func (f fakeAudio) DownloadAudio(context.Context, string, string, *waE2E.AudioMessage) (string, error) {
	return f.path, f.err
}

func messageEvent(chat types.JID, msg *waE2E.Message) *events.Message {
	evt := &events.Message{Message: msg}
	evt.Info.ID = "3EB0ABC"
	evt.Info.Chat = chat
	evt.Info.Sender = chat
	return evt
}

var alice = types.NewJID("51999888777", types.DefaultUserServer)

func TestInboundFromEvent(t *testing.T) {
	cases := []struct {
		name string
		msg  *waE2E.Message
		kind conversation.Kind
		text string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("Hola")}, conversation.KindText, "Hola"},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("1")}}, conversation.KindText, "1"},
		{"buttons", &waE2E.Message{ButtonsResponseMessage: &waE2E.ButtonsResponseMessage{
			Response: &waE2E.ButtonsResponseMessage_SelectedDisplayText{SelectedDisplayText: "Sí"},
		}}, conversation.KindButton, "Sí"},
		{"list", &waE2E.Message{ListResponseMessage: &waE2E.ListResponseMessage{Title: proto.String("Estación 3")}}, conversation.KindInteractive, "Estación 3"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{PTT: proto.Bool(true)}}, conversation.KindAudio, ""},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, conversation.KindOther, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := InboundFromEvent(messageEvent(alice, tc.msg))
			assert.Equal(t, "51999888777", in.ParticipantID)
			assert.Equal(t, "3EB0ABC", in.MessageID)
			assert.Equal(t, tc.kind, in.Kind)
			assert.Equal(t, tc.text, in.Text)
		})
	}
}

func TestParticipantID(t *testing.T) {
	assert.Equal(t, "51999888777", ParticipantID(alice))
	lid := types.NewJID("123456", types.HiddenUserServer)
	assert.Equal(t, "123456@lid", ParticipantID(lid))
}

func TestMessageHandler_RoutesThroughDispatcher(t *testing.T) {
	rec := &recordingInbound{}
	h := NewMessageHandler(rec, fakeAudio{path: "/tmp/clip.ogg"}, logger.Nop())
	d := event.NewDispatcher(logger.Nop())
	d.Register(h)

	d.Handle(messageEvent(alice, &waE2E.Message{AudioMessage: &waE2E.AudioMessage{DirectPath: proto.String("/v/x")}}))

	fromMe := messageEvent(alice, &waE2E.Message{Conversation: proto.String("echo")})
	fromMe.Info.IsFromMe = true
	d.Handle(fromMe)

	group := messageEvent(types.NewJID("1203630", types.GroupServer), &waE2E.Message{Conversation: proto.String("hola grupo")})
	group.Info.IsGroup = true
	d.Handle(group)

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, "file:///tmp/clip.ogg", got[0].MediaRef)
	assert.Equal(t, conversation.KindAudio, got[0].Kind)
}

func TestMessageHandler_AudioDownloadFailureStillDelivers(t *testing.T) {
	rec := &recordingInbound{}
	h := NewMessageHandler(rec, fakeAudio{err: errors.New("cdn down")}, logger.Nop())
	h.OnMessage(messageEvent(alice, &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}))

	got := rec.all()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].MediaRef)
	assert.Equal(t, conversation.AudioPlaceholder, got[0].Content())
}
