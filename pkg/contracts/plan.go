// Package contracts defines the shared domain types for the daily-planning
// workflow: the persisted DailyPlan aggregate, the per-stage outputs, and the
// external job/preference inputs.
package contracts

import "time"

// PlanStatus is the workflow status of a DailyPlan.
type PlanStatus string

const (
	StatusPending           PlanStatus = "pending"
	StatusDispatchComplete  PlanStatus = "dispatch_complete"
	StatusRouteComplete     PlanStatus = "route_complete"
	StatusInventoryComplete PlanStatus = "inventory_complete"
	StatusReadyForExecution PlanStatus = "ready_for_execution"
	StatusApproved          PlanStatus = "approved"
	StatusError             PlanStatus = "error"
)

// PlanStep names the next stage to run, or "complete" when none remain.
type PlanStep string

const (
	StepDispatch  PlanStep = "dispatch"
	StepRoute     PlanStep = "route"
	StepInventory PlanStep = "inventory"
	StepComplete  PlanStep = "complete"
)

// StepForStatus returns the step that must accompany a non-error status.
// A persisted (status, step) pair outside this mapping is corrupt state.
// StatusError keeps whatever step failed, so it has no fixed mapping.
func StepForStatus(s PlanStatus) (PlanStep, bool) {
	switch s {
	case StatusPending:
		return StepDispatch, true
	case StatusDispatchComplete:
		return StepRoute, true
	case StatusRouteComplete:
		return StepInventory, true
	case StatusInventoryComplete, StatusReadyForExecution, StatusApproved:
		return StepComplete, true
	}
	return "", false
}

// DailyPlan is the root aggregate for one user's plan on one date.
// It is owned exclusively by the plan store; each stage writes its output
// exactly once per attempt.
type DailyPlan struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	PlannedDate string     `json:"planned_date"` // YYYY-MM-DD
	JobIDs      []string   `json:"job_ids"`      // immutable after creation
	Status      PlanStatus `json:"status"`
	CurrentStep PlanStep   `json:"current_step"`

	Dispatch  *DispatchOutput  `json:"dispatch_output,omitempty"`
	Route     *RouteOutput     `json:"route_output,omitempty"`
	Inventory *InventoryOutput `json:"inventory_output,omitempty"`

	Modifications UserModifications `json:"user_modifications"`
	ErrorState    *ErrorState       `json:"error_state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the plan still blocks creation of a new plan for
// the same (user, date). Approved plans are done; error plans stay active
// until reset so the user can inspect what succeeded before retrying.
func (p *DailyPlan) Active() bool {
	return p.Status != StatusApproved
}

// ErrorState records the failure of a stage attempt.
type ErrorState struct {
	Stage     PlanStep  `json:"stage"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Error kinds recorded in ErrorState.
const (
	ErrorKindCapability  = "capability"
	ErrorKindConsistency = "consistency"
)

// UserModifications accumulates human edits saved between stages. Each
// confirm operation merges and clears the changes for the stage it confirms.
type UserModifications struct {
	DispatchChanges  *DispatchChanges  `json:"dispatch_changes,omitempty"`
	RouteChanges     *RouteChanges     `json:"route_changes,omitempty"`
	InventoryChanges *InventoryChanges `json:"inventory_changes,omitempty"`
}

// Empty reports whether no modifications are pending.
func (m UserModifications) Empty() bool {
	return m.DispatchChanges == nil && m.RouteChanges == nil && m.InventoryChanges == nil
}

// DispatchChanges reorders or removes scheduled jobs before routing.
type DispatchChanges struct {
	// JobOrder lists job ids in the user's preferred order. Scheduled jobs
	// absent from the list keep their relative order after the listed ones.
	JobOrder []string `json:"job_order,omitempty"`
	// RemoveJobIDs are dropped from the schedule entirely.
	RemoveJobIDs []string `json:"remove_job_ids,omitempty"`
}

// RouteChanges reorders waypoints before inventory reconciliation.
type RouteChanges struct {
	WaypointOrder []string `json:"waypoint_order,omitempty"`
}

// InventoryChanges overrides shopping-list quantities or removes items.
type InventoryChanges struct {
	// QuantityOverrides maps item id to the replacement quantity. A zero or
	// negative override removes the line.
	QuantityOverrides map[string]int `json:"quantity_overrides,omitempty"`
	RemoveItemIDs     []string       `json:"remove_item_ids,omitempty"`
}
