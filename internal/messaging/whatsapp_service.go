package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/IntakePipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// Session states reported by WhatsAppService.ConnectionState.
const (
	StateOpen  = "open"
	StateClose = "close"
)

// WhatsAppService sends replies over a direct whatsmeow session.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // nil when client is a mock
}

// Compile-time checks that WhatsAppService implements Sender and StateReporter.
var (
	_ Sender        = (*WhatsAppService)(nil)
	_ StateReporter = (*WhatsAppService)(nil)
)

// NewWhatsAppService wraps client.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{client: client}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

// SendText canonicalizes phone to digits and sends text.
func (s *WhatsAppService) SendText(ctx context.Context, phone, text string) error {
	if text == "" {
		return ErrEmptyText
	}
	canonical, err := CanonicalizePhone(phone)
	if err != nil {
		slog.Error("WhatsAppService.SendText: validation error", "error", err, "phone", phone)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, text); err != nil {
		slog.Error("WhatsAppService.SendText: send error", "error", err, "phone", canonical)
		return fmt.Errorf("failed to send text via whatsapp: %w", err)
	}
	slog.Info("WhatsAppService.SendText: message sent", "phone", canonical)
	return nil
}

// Subscribe hands every inbound message event to fn. It is a no-op for mock clients.
func (s *WhatsAppService) Subscribe(fn func(*events.Message)) {
	if s.waClient == nil {
		slog.Debug("WhatsAppService.Subscribe: no full client available, skipping")
		return
	}
	s.waClient.OnMessage(fn)
	slog.Debug("WhatsAppService.Subscribe: event handler registered")
}

// ConnectionState reports "open" while the session is connected.
func (s *WhatsAppService) ConnectionState(ctx context.Context) (string, error) {
	if s.waClient == nil || s.waClient.IsConnected() {
		return StateOpen, nil
	}
	return StateClose, nil
}
