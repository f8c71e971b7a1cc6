package domain

import "time"

// Role identifies who produced a history entry.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// HistoryEntry is one recorded message of a conversation.
type HistoryEntry struct {
	Role        Role           `json:"role"`
	MessageKind string         `json:"message_kind"`
	Stage       string         `json:"stage,omitempty"`
	Content     string         `json:"content,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SendResult is what a sender reports back after delivering a stage.
type SendResult struct {
	MessageID string
	Delivered bool
}
