package ports

import (
	"context"

	"github.com/aretw0/wadialog/pkg/domain"
)

// Sender renders a resolved stage into platform requests and delivers it.
type Sender interface {
	// Send delivers stage to the user in arg.
	// A nil error with Delivered == false means the platform did not confirm delivery.
	Send(ctx context.Context, stage domain.Stage, arg *domain.HookArg) (domain.SendResult, error)

	// MarkRead acknowledges an inbound message (read receipt).
	MarkRead(ctx context.Context, messageID string) error
}

// HistoryLogger records conversation messages.
type HistoryLogger interface {
	Log(ctx context.Context, sessionID string, entry domain.HistoryEntry) error
	Recent(ctx context.Context, sessionID string, limit int) ([]domain.HistoryEntry, error)
}
