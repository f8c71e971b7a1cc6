package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/wadialog/pkg/domain"
)

// Webhook is the envelope of a Cloud API webhook notification.
type Webhook struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes of one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one notification of an Entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the messages or statuses of a Change.
type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []map[string]any `json:"messages"`
	Statuses         []map[string]any `json:"statuses"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile attached to a message.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Parse decodes a webhook payload.
func Parse(payload []byte) (*Webhook, error) {
	var w Webhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, &domain.ProtocolError{Msg: "malformed webhook payload", Err: err}
	}
	return &w, nil
}

// value returns the first change value when it carries a WhatsApp message.
func (w *Webhook) value() (*Value, bool) {
	if len(w.Entry) == 0 || len(w.Entry[0].Changes) == 0 {
		return nil, false
	}
	v := &w.Entry[0].Changes[0].Value
	if v.MessagingProduct != "whatsapp" || len(v.Messages) == 0 {
		return nil, false
	}
	return v, true
}

// IsValid reports whether payload carries a user message.
func IsValid(payload []byte) bool {
	w, err := Parse(payload)
	if err != nil {
		return false
	}
	_, ok := w.value()
	return ok
}

// Normalize extracts the sender and the classified message of a webhook.
// Webhooks without a message (e.g. delivery statuses) return domain.ErrNoMessage.
// Unrecognized message types are classified, never rejected.
func Normalize(payload []byte) (domain.User, domain.Input, error) {
	w, err := Parse(payload)
	if err != nil {
		return domain.User{}, domain.Input{}, err
	}
	v, ok := w.value()
	if !ok {
		return domain.User{}, domain.Input{}, domain.ErrNoMessage
	}

	msg := v.Messages[0]
	user := domain.User{
		MessageID: str(msg["id"]),
		Timestamp: parseTimestamp(str(msg["timestamp"])),
	}
	if len(v.Contacts) > 0 {
		user.ID = v.Contacts[0].WaID
		user.Name = v.Contacts[0].Profile.Name
	}
	if user.ID == "" {
		user.ID = str(msg["from"])
	}
	if user.ID == "" {
		return domain.User{}, domain.Input{}, &domain.ProtocolError{Msg: "message has no sender"}
	}

	in := Classify(msg)
	var fields []string
	switch in.Kind {
	case domain.MessageText:
		fields = []string{"body"}
	case domain.MessageButton, domain.MessageInteractiveButton, domain.MessageInteractiveList:
		fields = []string{"text", "title", "id", "payload"}
	}
	if err := sanitizeBody(in.Body, fields...); err != nil {
		return domain.User{}, domain.Input{}, &domain.ProtocolError{Msg: "rejected message text", Err: err}
	}
	return user, in, nil
}

// Classify maps one raw message object to its kind and kind-specific body.
func Classify(msg map[string]any) domain.Input {
	if loc, ok := msg["location"].(map[string]any); ok {
		return domain.Input{Kind: domain.MessageLocation, Body: loc}
	}
	if contacts, ok := msg["contacts"]; ok {
		return domain.Input{Kind: domain.MessageContacts, Body: map[string]any{"contacts": contacts}}
	}

	typ := str(msg["type"])
	switch typ {
	case "interactive":
		return classifyInteractive(object(msg["interactive"]))
	case "text":
		return domain.Input{Kind: domain.MessageText, Body: object(msg[typ])}
	case "button":
		return domain.Input{Kind: domain.MessageButton, Body: object(msg[typ])}
	case "image":
		return domain.Input{Kind: domain.MessageImage, Body: object(msg[typ])}
	case "audio":
		return domain.Input{Kind: domain.MessageAudio, Body: object(msg[typ])}
	case "video":
		return domain.Input{Kind: domain.MessageVideo, Body: object(msg[typ])}
	case "document":
		return domain.Input{Kind: domain.MessageDocument, Body: object(msg[typ])}
	case "sticker":
		return domain.Input{Kind: domain.MessageSticker, Body: object(msg[typ])}
	case "order":
		return domain.Input{Kind: domain.MessageOrder, Body: object(msg[typ])}
	case "reaction":
		return domain.Input{Kind: domain.MessageReaction, Body: object(msg[typ])}
	case "unsupported":
		return domain.Input{Kind: domain.MessageUnsupported, Body: object(msg["errors"])}
	}
	return domain.Input{Kind: domain.MessageUnknown, Body: object(msg[typ])}
}

func classifyInteractive(inner map[string]any) domain.Input {
	switch str(inner["type"]) {
	case "list_reply":
		return domain.Input{Kind: domain.MessageInteractiveList, Body: object(inner["list_reply"])}
	case "button_reply":
		return domain.Input{Kind: domain.MessageInteractiveButton, Body: object(inner["button_reply"])}
	case "nfm_reply":
		body := object(inner["nfm_reply"])
		if raw, ok := body["response_json"].(string); ok {
			var resp map[string]any
			if err := json.Unmarshal([]byte(raw), &resp); err == nil {
				body["response"] = resp
			}
		}
		return domain.Input{Kind: domain.MessageInteractiveFlow, Body: body}
	}
	return domain.Input{Kind: domain.MessageInteractive, Body: inner}
}

func parseTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// object returns v as a map, wrapping lists so bodies are always maps.
func object(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"value": m}
	}
}
