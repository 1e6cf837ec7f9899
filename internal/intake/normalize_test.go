package intake

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestEvolutionPayload_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		phone   string
		text    string
		sender  string
		id      string
		wantErr error
	}{
		{
			name:   "conversation text",
			body:   `{"event":"messages.upsert","data":{"key":{"remoteJid":"5511999990000@s.whatsapp.net","id":"M1"},"pushName":"Ana","message":{"conversation":"Olá"}}}`,
			phone:  "5511999990000",
			text:   "Olá",
			sender: "Ana",
			id:     "M1",
		},
		{
			name:   "extended text and default sender",
			body:   `{"data":{"key":{"remoteJid":"5511@s.whatsapp.net"},"message":{"extendedTextMessage":{"text":"link aqui"}}}}`,
			phone:  "5511",
			text:   "link aqui",
			sender: models.DefaultSenderName,
		},
		{
			name:   "no text",
			body:   `{"data":{"key":{"remoteJid":"5511@s.whatsapp.net"},"message":{"imageMessage":{}}}}`,
			phone:  "5511",
			text:   "",
			sender: models.DefaultSenderName,
		},
		{
			name:   "unusual jid propagates",
			body:   `{"data":{"key":{"remoteJid":"120363-99@g.us"},"pushName":"Grupo","message":{"conversation":"oi"}}}`,
			phone:  "120363-99@g.us",
			text:   "oi",
			sender: "Grupo",
		},
		{name: "other event", body: `{"event":"connection.update","data":{}}`, wantErr: models.ErrIgnoredEvent},
		{name: "from me", body: `{"data":{"key":{"remoteJid":"5511@s.whatsapp.net","fromMe":true}}}`, wantErr: models.ErrIgnoredEvent},
		{name: "no jid", body: `{"data":{"message":{"conversation":"oi"}}}`, wantErr: models.ErrIgnoredEvent},
		{name: "malformed json", body: `{"data":`, wantErr: models.ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := EvolutionPayload(tt.body).Normalize(fixedNow)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if msg.Phone != tt.phone || msg.Message != tt.text || msg.SenderName != tt.sender || msg.MessageID != tt.id {
				t.Errorf("unexpected message %+v", msg)
			}
			if !msg.Timestamp.Equal(fixedNow) || msg.Source != models.SourceEvolution {
				t.Errorf("unexpected timestamp/source %v %q", msg.Timestamp, msg.Source)
			}
		})
	}
}

func TestTwilioPayload_Normalize(t *testing.T) {
	form := url.Values{
		"From":        {"whatsapp:+5511999990000"},
		"Body":        {"Quero uma proposta"},
		"ProfileName": {"João"},
		"MessageSid":  {"SM123"},
	}
	msg, err := TwilioPayload(form).Normalize(fixedNow)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if msg.Phone != "5511999990000" || msg.Message != "Quero uma proposta" || msg.SenderName != "João" || msg.MessageID != "SM123" {
		t.Errorf("unexpected message %+v", msg)
	}

	if _, err := TwilioPayload(url.Values{"Body": {"oi"}}).Normalize(fixedNow); !errors.Is(err, models.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload without From, got %v", err)
	}
}

func whatsAppEvent(user, text string, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender:   types.NewJID(user, types.DefaultUserServer),
				IsFromMe: fromMe,
			},
			ID:       "WA1",
			PushName: "Ana",
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestWhatsAppEvent_Normalize(t *testing.T) {
	msg, err := WhatsAppEvent{Event: whatsAppEvent("5511999990000", "bom dia", false)}.Normalize(fixedNow)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if msg.Phone != "5511999990000" || msg.Message != "bom dia" || msg.SenderName != "Ana" || msg.MessageID != "WA1" || msg.Source != models.SourceWhatsApp {
		t.Errorf("unexpected message %+v", msg)
	}

	ext := whatsAppEvent("5511", "", false)
	ext.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("com link")}}
	msg, err = WhatsAppEvent{Event: ext}.Normalize(fixedNow)
	if err != nil || msg.Message != "com link" {
		t.Errorf("expected extended text, got %q (%v)", msg.Message, err)
	}

	if _, err := (WhatsAppEvent{Event: whatsAppEvent("5511", "eco", true)}).Normalize(fixedNow); !errors.Is(err, models.ErrIgnoredEvent) {
		t.Errorf("expected from-me message to be ignored, got %v", err)
	}
	if _, err := (WhatsAppEvent{}).Normalize(fixedNow); !errors.Is(err, models.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for nil event, got %v", err)
	}
}
