package event

import (
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Dispatcher routes WhatsApp events to registered handlers.
type Dispatcher struct {
	handlers []Handler
	log      waLog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(log waLog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make([]Handler, 0),
		log:      log.Sub("Dispatcher"),
	}
}

// Register adds a handler to the dispatcher.
func (d *Dispatcher) Register(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Handle processes a WhatsApp event and routes it to all registered handlers.
func (d *Dispatcher) Handle(evt interface{}) {
	switch e := evt.(type) {
	// Connection events
	case *events.Connected:
		d.log.Infof("Connected to WhatsApp")
		for _, h := range d.handlers {
			h.OnConnected(e)
		}
	case *events.Disconnected:
		d.log.Warnf("Disconnected from WhatsApp")
		for _, h := range d.handlers {
			h.OnDisconnected(e)
		}
	case *events.LoggedOut:
		d.log.Errorf("Logged out: %v", e.Reason)
		for _, h := range d.handlers {
			h.OnLoggedOut(e)
		}
	case *events.PairSuccess:
		d.log.Infof("Paired successfully as %s", e.ID)
		for _, h := range d.handlers {
			h.OnPairSuccess(e)
		}
	case *events.StreamReplaced:
		d.log.Warnf("Stream replaced by another connection")
		for _, h := range d.handlers {
			h.OnStreamReplaced(e)
		}
	case *events.TemporaryBan:
		d.log.Warnf("Temporary ban: code=%d, expires=%s", e.Code, e.Expire)
		for _, h := range d.handlers {
			h.OnTemporaryBan(e)
		}

	// Message events
	case *events.Message:
		d.log.Debugf("Message %s from %s in %s", e.Info.ID, e.Info.Sender, e.Info.Chat)
		for _, h := range d.handlers {
			h.OnMessage(e)
		}
	case *events.UndecryptableMessage:
		d.log.Warnf("Undecryptable message from %s", e.Info.Sender)
		for _, h := range d.handlers {
			h.OnUndecryptableMessage(e)
		}

	default:
		d.log.Debugf("Unhandled event type: %T", evt)
	}
}
