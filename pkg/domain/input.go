package domain

import "time"

// MessageKind classifies an inbound message.
type MessageKind string

const (
	MessageText              MessageKind = "text"
	MessageButton            MessageKind = "button"
	MessageInteractiveButton MessageKind = "interactive_button"
	MessageInteractiveList   MessageKind = "interactive_list"
	MessageInteractiveFlow   MessageKind = "interactive_flow"
	MessageInteractive       MessageKind = "interactive"
	MessageLocation          MessageKind = "location"
	MessageImage             MessageKind = "image"
	MessageAudio             MessageKind = "audio"
	MessageVideo             MessageKind = "video"
	MessageDocument          MessageKind = "document"
	MessageSticker           MessageKind = "sticker"
	MessageContacts          MessageKind = "contacts"
	MessageOrder             MessageKind = "order"
	MessageReaction          MessageKind = "reaction"
	MessageUnsupported       MessageKind = "unsupported"
	MessageUnknown           MessageKind = "unknown"
)

// Processable reports whether the engine should run a turn for this kind.
func (k MessageKind) Processable() bool {
	return k != MessageUnknown && k != MessageUnsupported && k != ""
}

// Triggerable reports whether input of this kind is checked against triggers.
func (k MessageKind) Triggerable() bool {
	switch k {
	case MessageText, MessageButton, MessageInteractiveButton, MessageInteractiveList:
		return true
	}
	return false
}

// User identifies the sender of an inbound message.
type User struct {
	ID        string    `json:"wa_id"`
	Name      string    `json:"name"`
	MessageID string    `json:"msg_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Input is a classified inbound message.
// Body holds the kind-specific object of the platform payload.
type Input struct {
	Kind MessageKind
	Body map[string]any
}

// Text extracts the scalar reply used for trigger and route matching.
// It is empty for kinds that only carry structured data.
func (in Input) Text() string {
	switch in.Kind {
	case MessageText:
		s, _ := in.Body["body"].(string)
		return s
	case MessageButton, MessageInteractiveButton, MessageInteractiveList:
		if s, ok := in.Body["text"].(string); ok {
			return s
		}
		if s, ok := in.Body["id"].(string); ok {
			return s
		}
	}
	return ""
}

// Structured reports whether the reply is delivered through HookArg.Data
// rather than as scalar text.
func (in Input) Structured() bool {
	switch in.Kind {
	case MessageInteractiveButton, MessageInteractiveList:
		_, hasText := in.Body["text"]
		return !hasText
	case MessageLocation, MessageInteractive, MessageInteractiveFlow,
		MessageImage, MessageSticker, MessageDocument, MessageAudio, MessageVideo:
		return true
	}
	return false
}
