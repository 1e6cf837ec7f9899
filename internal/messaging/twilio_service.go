package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/IntakePipe/internal/twiliowhatsapp"
)

// TwilioService sends replies through Twilio's WhatsApp API.
type TwilioService struct {
	client twiliowhatsapp.TwilioWhatsAppSender // real Twilio client or MockClient
}

// Compile-time check that TwilioService implements Sender.
var _ Sender = (*TwilioService)(nil)

// NewTwilioService wraps client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{client: client}
}

// SendText canonicalizes phone to digits and sends text.
func (s *TwilioService) SendText(ctx context.Context, phone, text string) error {
	if text == "" {
		return ErrEmptyText
	}
	canonical, err := CanonicalizePhone(phone)
	if err != nil {
		slog.Error("TwilioService.SendText: validation error", "error", err, "phone", phone)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, text); err != nil {
		return fmt.Errorf("failed to send text via twilio: %w", err)
	}
	slog.Debug("TwilioService.SendText: message sent", "phone", canonical)
	return nil
}
