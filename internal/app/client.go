package app

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	appstore "cabildo-bot/internal/data/store"
	"cabildo-bot/internal/infra/config"
)

// Client wraps whatsmeow.Client for the multi-device transport.
type Client struct {
	WAClient *whatsmeow.Client
	Device   *store.Device
	Log      waLog.Logger
}

// NewClient loads (or creates) the device from the sqlite store.
func NewClient(ctx context.Context, cfg *config.Config, appStore *appstore.Store, log waLog.Logger) (*Client, error) {
	if cfg.WhatsApp.DeviceName != "" {
		store.DeviceProps.Os = proto.String(cfg.WhatsApp.DeviceName)
	}

	device, err := appStore.GetDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	waClient := whatsmeow.NewClient(device, log.Sub("whatsmeow"))
	waClient.EnableAutoReconnect = true
	waClient.AutoTrustIdentity = true

	return &Client{
		WAClient: waClient,
		Device:   device,
		Log:      log.Sub("Client"),
	}, nil
}

// AddEventHandler adds an event handler function.
func (c *Client) AddEventHandler(handler func(interface{})) {
	c.WAClient.AddEventHandler(handler)
}

// Connect connects to WhatsApp.
func (c *Client) Connect() error {
	if c.IsLoggedIn() {
		c.Log.Infof("Already logged in, connecting...")
	} else {
		c.Log.Infof("Not logged in, need to pair with QR code")
	}
	return c.WAClient.Connect()
}

// Disconnect disconnects from WhatsApp.
func (c *Client) Disconnect() {
	c.WAClient.Disconnect()
}

// IsLoggedIn returns true if the client has stored credentials.
func (c *Client) IsLoggedIn() bool {
	return c.Device.ID != nil
}

// GetJID returns the client's JID.
func (c *Client) GetJID() types.JID {
	if c.Device.ID != nil {
		return *c.Device.ID
	}
	return types.JID{}
}

// GetQRChannel returns a channel for QR code events.
func (c *Client) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	return c.WAClient.GetQRChannel(ctx)
}
