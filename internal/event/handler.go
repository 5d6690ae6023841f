package event

import (
	"go.mau.fi/whatsmeow/types/events"
)

// Handler defines the interface for handling WhatsApp events.
// Implement only the methods you need; unimplemented methods are no-ops.
type Handler interface {
	// Connection events
	OnConnected(*events.Connected)
	OnDisconnected(*events.Disconnected)
	OnLoggedOut(*events.LoggedOut)
	OnPairSuccess(*events.PairSuccess)
	OnStreamReplaced(*events.StreamReplaced)
	OnTemporaryBan(*events.TemporaryBan)

	// Message events
	OnMessage(*events.Message)
	OnUndecryptableMessage(*events.UndecryptableMessage)
}

// BaseHandler provides default no-op implementations for all Handler methods.
// Embed this in your handler to only implement the methods you need.
type BaseHandler struct{}

// Connection events
func (h *BaseHandler) OnConnected(*events.Connected)           {}
func (h *BaseHandler) OnDisconnected(*events.Disconnected)     {}
func (h *BaseHandler) OnLoggedOut(*events.LoggedOut)           {}
func (h *BaseHandler) OnPairSuccess(*events.PairSuccess)       {}
func (h *BaseHandler) OnStreamReplaced(*events.StreamReplaced) {}
func (h *BaseHandler) OnTemporaryBan(*events.TemporaryBan)     {}

// Message events
func (h *BaseHandler) OnMessage(*events.Message)                           {}
func (h *BaseHandler) OnUndecryptableMessage(*events.UndecryptableMessage) {}
