package auth

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// QRHandler handles QR code display and pairing flow.
type QRHandler struct {
	log    waLog.Logger
	out    io.Writer
	qrFile string
}

// NewQRHandler creates a new QRHandler. When qrFile is set every code is
// also written there as a PNG, for headless hosts.
func NewQRHandler(log waLog.Logger, qrFile string) *QRHandler {
	return &QRHandler{log: log.Sub("QR"), out: os.Stdout, qrFile: qrFile}
}

// HandleQRChannel processes QR channel items until pairing succeeds, fails
// or ctx is done.
func (h *QRHandler) HandleQRChannel(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-qrChan:
			if !ok {
				return nil
			}
			switch item.Event {
			case "code":
				h.log.Infof("Scan the QR code below with WhatsApp (Linked Devices)")
				h.displayQR(item.Code)
				if h.qrFile != "" {
					if err := h.SaveQRToFile(item.Code, h.qrFile); err != nil {
						h.log.Warnf("%v", err)
					}
				}
			case "timeout":
				h.log.Warnf("QR code timeout - please restart to get a new QR code")
				return fmt.Errorf("QR code timeout")
			case "success":
				h.log.Infof("Successfully paired!")
				if h.qrFile != "" {
					os.Remove(h.qrFile)
				}
				return nil
			case "error":
				h.log.Errorf("QR error: %v", item.Error)
				return item.Error
			}
		}
	}
}

// displayQR displays a QR code in the terminal.
func (h *QRHandler) displayQR(code string) {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		h.log.Errorf("Failed to generate QR code: %v", err)
		fmt.Fprintln(h.out, "QR Code content:", code)
		return
	}

	fmt.Fprintln(h.out)
	fmt.Fprintln(h.out, qr.ToSmallString(false))
	fmt.Fprintln(h.out)
}

// SaveQRToFile saves the QR code to a file.
func (h *QRHandler) SaveQRToFile(code, filepath string) error {
	err := qrcode.WriteFile(code, qrcode.Medium, 256, filepath)
	if err != nil {
		return fmt.Errorf("failed to save QR code: %w", err)
	}
	h.log.Infof("QR code saved to %s", filepath)
	return nil
}
