package ports

import (
	"context"

	"github.com/aretw0/wadialog/pkg/domain"
)

// StageStorage defines how the engine retrieves stage definitions.
// This allows the storage layer (YAML, Memory, a database) to be decoupled.
type StageStorage interface {
	// Stage returns the definition of the named stage.
	// Returns domain.ErrStageNotFound if it does not exist.
	Stage(ctx context.Context, name string) (domain.Stage, error)

	// Triggers returns the stage-independent triggers in evaluation order.
	Triggers(ctx context.Context) ([]domain.Trigger, error)
}

// StageLister is implemented by storages that can enumerate their stages.
// It is used for validation tooling (e.g. 'wadialog validate').
type StageLister interface {
	ListStages(ctx context.Context) ([]string, error)
}
