// Package intake runs the conversation-intake pipeline for inbound WhatsApp
// messages.
//
// A Payload is normalized into a models.InboundMessage, the per-phone
// Conversation is created or merge-updated under a lease, the decision
// service is asked for a reply, the reply is dispatched, and a proposal is
// requested when the decision asks for one. Finalize turns the outcome into
// the answer for the caller that triggered the run.
package intake

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"go.mau.fi/whatsmeow/types/events"
)

// JIDSuffix is stripped from Evolution remote JIDs to obtain the phone.
const JIDSuffix = "@s.whatsapp.net"

// EvolutionMessageEvent is the only Evolution event type that carries an inbound message.
const EvolutionMessageEvent = "messages.upsert"

// Payload is a raw trigger payload that can be normalized.
type Payload interface {
	Normalize(now time.Time) (models.InboundMessage, error)
}

// evolutionWebhook mirrors the fields read from an Evolution API webhook body.
type evolutionWebhook struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
	} `json:"data"`
}

// EvolutionPayload is the JSON body of an Evolution API webhook.
type EvolutionPayload []byte

// Normalize extracts the message. The phone is the remote JID without the
// fixed suffix and is not otherwise validated.
func (p EvolutionPayload) Normalize(now time.Time) (models.InboundMessage, error) {
	var w evolutionWebhook
	if err := json.Unmarshal(p, &w); err != nil {
		return models.InboundMessage{}, fmt.Errorf("%w: %w", models.ErrInvalidPayload, err)
	}
	if w.Event != "" && w.Event != EvolutionMessageEvent {
		return models.InboundMessage{}, fmt.Errorf("%w: event type %q", models.ErrIgnoredEvent, w.Event)
	}
	if w.Data.Key.FromMe {
		return models.InboundMessage{}, fmt.Errorf("%w: message sent by this instance", models.ErrIgnoredEvent)
	}
	if w.Data.Key.RemoteJID == "" {
		return models.InboundMessage{}, fmt.Errorf("%w: no remote jid", models.ErrIgnoredEvent)
	}

	text := w.Data.Message.Conversation
	if text == "" {
		text = w.Data.Message.ExtendedTextMessage.Text
	}
	return models.InboundMessage{
		Phone:      strings.Replace(w.Data.Key.RemoteJID, JIDSuffix, "", 1),
		Message:    text,
		SenderName: senderOrDefault(w.Data.PushName),
		Timestamp:  now,
		MessageID:  w.Data.Key.ID,
		Source:     models.SourceEvolution,
	}, nil
}

// TwilioPayload is the parsed form of a Twilio WhatsApp webhook.
type TwilioPayload url.Values

// Normalize extracts the message from the From, Body, ProfileName and MessageSid fields.
func (p TwilioPayload) Normalize(now time.Time) (models.InboundMessage, error) {
	form := url.Values(p)
	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		return models.InboundMessage{}, fmt.Errorf("%w: missing From", models.ErrInvalidPayload)
	}
	phone := strings.TrimPrefix(strings.TrimPrefix(from, "whatsapp:"), "+")
	return models.InboundMessage{
		Phone:      phone,
		Message:    form.Get("Body"),
		SenderName: senderOrDefault(form.Get("ProfileName")),
		Timestamp:  now,
		MessageID:  form.Get("MessageSid"),
		Source:     models.SourceTwilio,
	}, nil
}

// WhatsAppEvent wraps a message event from a direct whatsmeow session.
type WhatsAppEvent struct {
	Event *events.Message
}

// Normalize extracts the sender user part, text, push name and message id.
func (p WhatsAppEvent) Normalize(now time.Time) (models.InboundMessage, error) {
	evt := p.Event
	if evt == nil {
		return models.InboundMessage{}, fmt.Errorf("%w: nil message event", models.ErrInvalidPayload)
	}
	if evt.Info.IsFromMe {
		return models.InboundMessage{}, fmt.Errorf("%w: message sent by this session", models.ErrIgnoredEvent)
	}
	if evt.Info.IsGroup {
		return models.InboundMessage{}, fmt.Errorf("%w: group message", models.ErrIgnoredEvent)
	}
	if evt.Info.Sender.User == "" {
		return models.InboundMessage{}, fmt.Errorf("%w: no sender", models.ErrIgnoredEvent)
	}

	var text string
	if m := evt.Message; m != nil {
		text = m.GetConversation()
		if text == "" {
			text = m.GetExtendedTextMessage().GetText()
		}
	}
	return models.InboundMessage{
		Phone:      evt.Info.Sender.User,
		Message:    text,
		SenderName: senderOrDefault(evt.Info.PushName),
		Timestamp:  now,
		MessageID:  evt.Info.ID,
		Source:     models.SourceWhatsApp,
	}, nil
}

func senderOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return models.DefaultSenderName
	}
	return name
}
