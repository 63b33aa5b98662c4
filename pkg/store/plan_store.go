// Package store persists DailyPlan records. It follows the workflow rule
// that each stage writes only its own output field plus status/current_step,
// and that two writers racing to complete the same stage are serialized.
package store

import (
	"context"
	"errors"

	"github.com/fieldops/dayplan/pkg/contracts"
)

var (
	// ErrNotFound is returned when no plan exists for the given id.
	ErrNotFound = errors.New("plan not found")
	// ErrConflict is returned when an active plan already exists for the
	// (user, date), or when a guarded update lost the race.
	ErrConflict = errors.New("plan conflict")
)

// PlanPatch is an atomic partial update. Nil fields are left untouched.
// When ExpectStatus is set the update only applies if the persisted status
// still matches; a mismatch returns ErrConflict and writes nothing, so two
// writers racing to complete the same stage can never interleave output.
type PlanPatch struct {
	Status      *contracts.PlanStatus
	CurrentStep *contracts.PlanStep

	Dispatch  *contracts.DispatchOutput
	Route     *contracts.RouteOutput
	Inventory *contracts.InventoryOutput

	Modifications *contracts.UserModifications
	ErrorState    *contracts.ErrorState

	// ClearError removes any recorded error state.
	ClearError bool
	// ClearOutputs removes all stage outputs and pending modifications
	// (used by reset).
	ClearOutputs bool

	ExpectStatus *contracts.PlanStatus
}

// PlanStore is the single source of truth for workflow state.
type PlanStore interface {
	// Create persists a new plan. It fails with ErrConflict if an active
	// plan already exists for the same (user, date).
	Create(ctx context.Context, plan *contracts.DailyPlan) error

	// Get returns the plan by id, or ErrNotFound.
	Get(ctx context.Context, planID string) (*contracts.DailyPlan, error)

	// GetActive returns the active plan for (user, date), or nil when none.
	GetActive(ctx context.Context, userID, date string) (*contracts.DailyPlan, error)

	// Update applies an atomic partial patch and returns the updated plan.
	Update(ctx context.Context, planID string, patch PlanPatch) (*contracts.DailyPlan, error)
}
