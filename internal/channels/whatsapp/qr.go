package whatsapp

import (
	"fmt"
	"io"
	"os"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"golang.org/x/term"

	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

// consumeQR renders pairing codes for epoch until the channel closes.
func (s *Session) consumeQR(epoch uint64, ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if !s.isCurrent(epoch) {
			continue
		}
		switch item.Event {
		case "code":
			renderQR(s.config.QROutput, item.Code)
		case "success":
			L_info("whatsapp: device paired", "epoch", epoch)
		case "timeout":
			L_warn("whatsapp: QR code expired")
			s.scheduleReconnect(epoch, "qr timeout")
		default:
			L_error("whatsapp: pairing failed", "event", item.Event, "error", item.Error)
		}
	}
}

// renderQR draws code as half blocks when out is a terminal and logs the
// raw code otherwise.
func renderQR(out io.Writer, code string) {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(out, "Scan with WhatsApp > Settings > Linked Devices > Link a Device:")
		qrterminal.GenerateHalfBlock(code, qrterminal.L, out)
		fmt.Fprintln(out)
		return
	}
	L_info("whatsapp: QR code (render it with any QR tool to pair)", "code", code)
}
