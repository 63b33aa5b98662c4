// Package planner sequences the dispatch, route, and inventory stages over
// a persisted DailyPlan. It is the only writer of plan state: the
// confirmation gate calls into it, each stage runs single-flight per plan,
// and every transition is guarded by the plan's persisted status so
// redundant calls (at-least-once delivery) are safe.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/dayplan/pkg/capabilities"
	"github.com/fieldops/dayplan/pkg/contracts"
	"github.com/fieldops/dayplan/pkg/dispatch"
	"github.com/fieldops/dayplan/pkg/inventory"
	"github.com/fieldops/dayplan/pkg/observability"
	"github.com/fieldops/dayplan/pkg/route"
	"github.com/fieldops/dayplan/pkg/store"
)

var (
	// ErrPrecondition is returned when an operation's status precondition
	// does not hold. The plan is never mutated in that case.
	ErrPrecondition = errors.New("planner: status precondition not met")
	// ErrBusy is returned while a stage is mid-execution for the plan.
	ErrBusy = errors.New("planner: plan is busy running a stage")
	// ErrCorruptState is returned when the persisted (status, current_step)
	// pair is inconsistent. The orchestrator refuses to guess.
	ErrCorruptState = errors.New("planner: corrupt plan state")
)

// Orchestrator drives the daily-planning state machine.
type Orchestrator struct {
	store store.PlanStore
	jobs  capabilities.JobSource
	prefs capabilities.PreferenceSource
	stock capabilities.StockSource

	dispatch  *dispatch.Stage
	route     *route.Stage
	inventory *inventory.Stage

	obs    *observability.Provider
	logger *slog.Logger
	events *eventBus

	mu   sync.Mutex
	busy map[string]bool
}

// New constructs an orchestrator. obs may be nil to disable telemetry.
func New(planStore store.PlanStore, jobs capabilities.JobSource, prefs capabilities.PreferenceSource, stock capabilities.StockSource,
	dispatchStage *dispatch.Stage, routeStage *route.Stage, inventoryStage *inventory.Stage, obs *observability.Provider) *Orchestrator {
	return &Orchestrator{
		store:     planStore,
		jobs:      jobs,
		prefs:     prefs,
		stock:     stock,
		dispatch:  dispatchStage,
		route:     routeStage,
		inventory: inventoryStage,
		obs:       obs,
		logger:    slog.Default().With("component", "planner"),
		events:    newEventBus(),
	}
}

// GetPlan returns the current plan snapshot.
func (o *Orchestrator) GetPlan(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	return o.store.Get(ctx, planID)
}

// Subscribe returns a channel of plan snapshots emitted on every persisted
// transition, plus a cancel function.
func (o *Orchestrator) Subscribe(planID string) (<-chan contracts.DailyPlan, func()) {
	return o.events.Subscribe(planID)
}

// Start creates the plan for (user, date) and synchronously runs the
// dispatch stage. An empty job list is rejected before anything persists.
func (o *Orchestrator) Start(ctx context.Context, userID, date string, jobIDs []string) (*contracts.DailyPlan, error) {
	if len(jobIDs) == 0 {
		return nil, dispatch.ErrNoJobs
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("planner: bad planned date %q: %w", date, err)
	}

	now := time.Now().UTC()
	plan := &contracts.DailyPlan{
		ID:          uuid.NewString(),
		UserID:      userID,
		PlannedDate: date,
		JobIDs:      jobIDs,
		Status:      contracts.StatusPending,
		CurrentStep: contracts.StepDispatch,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.Create(ctx, plan); err != nil {
		return nil, err
	}
	o.events.Publish(plan)

	if err := o.acquire(plan.ID); err != nil {
		return plan, err
	}
	defer o.release(plan.ID)
	return o.runDispatch(ctx, plan)
}

// ConfirmDispatch merges pending dispatch changes and runs the route stage.
// Only valid when status is dispatch_complete.
func (o *Orchestrator) ConfirmDispatch(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	plan, err := o.checkout(ctx, planID, contracts.StatusDispatchComplete)
	if err != nil {
		return nil, err
	}
	defer o.release(planID)

	if plan, err = o.mergeDispatchChanges(ctx, plan); err != nil {
		return nil, err
	}
	return o.runRoute(ctx, plan)
}

// ConfirmRoute merges pending route changes and runs the inventory stage.
// Only valid when status is route_complete.
func (o *Orchestrator) ConfirmRoute(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	plan, err := o.checkout(ctx, planID, contracts.StatusRouteComplete)
	if err != nil {
		return nil, err
	}
	defer o.release(planID)

	if plan, err = o.mergeRouteChanges(ctx, plan); err != nil {
		return nil, err
	}
	return o.runInventory(ctx, plan)
}

// ConfirmInventory merges pending inventory changes and approves the plan.
// Only valid when status is inventory_complete.
func (o *Orchestrator) ConfirmInventory(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	plan, err := o.checkout(ctx, planID, contracts.StatusInventoryComplete)
	if err != nil {
		return nil, err
	}
	defer o.release(planID)

	if plan, err = o.mergeInventoryChanges(ctx, plan); err != nil {
		return nil, err
	}

	plan, err = o.transition(ctx, plan, contracts.StatusReadyForExecution, contracts.StepComplete, store.PlanPatch{})
	if err != nil {
		return nil, err
	}
	return o.transition(ctx, plan, contracts.StatusApproved, contracts.StepComplete, store.PlanPatch{})
}

// ApprovePlan is an alias for ConfirmInventory.
func (o *Orchestrator) ApprovePlan(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	return o.ConfirmInventory(ctx, planID)
}

// SaveUserModifications appends human edits without triggering a stage.
// Valid in every status except approved and error.
func (o *Orchestrator) SaveUserModifications(ctx context.Context, planID string, patch contracts.UserModifications) (*contracts.DailyPlan, error) {
	if err := o.acquire(planID); err != nil {
		return nil, err
	}
	defer o.release(planID)

	plan, err := o.load(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status == contracts.StatusApproved || plan.Status == contracts.StatusError {
		return nil, fmt.Errorf("cannot save modifications in status %s: %w", plan.Status, ErrPrecondition)
	}

	merged := plan.Modifications
	if patch.DispatchChanges != nil {
		merged.DispatchChanges = patch.DispatchChanges
	}
	if patch.RouteChanges != nil {
		merged.RouteChanges = patch.RouteChanges
	}
	if patch.InventoryChanges != nil {
		merged.InventoryChanges = patch.InventoryChanges
	}

	updated, err := o.store.Update(ctx, planID, store.PlanPatch{
		Modifications: &merged,
		ExpectStatus:  &plan.Status,
	})
	if err != nil {
		return nil, err
	}
	o.events.Publish(updated)
	return updated, nil
}

// RetryPlanning re-invokes only the stage named by current_step, using the
// plan's already-persisted inputs. Valid when status is error, and also for a
// pending plan still at the dispatch step: an input error during start (bad
// preferences, unresolvable jobs) leaves the plan pending with no error
// state, and retry is its recovery path once the inputs are fixed.
func (o *Orchestrator) RetryPlanning(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	if err := o.acquire(planID); err != nil {
		return nil, err
	}
	defer o.release(planID)

	plan, err := o.load(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != contracts.StatusError {
		if plan.Status == contracts.StatusPending && plan.CurrentStep == contracts.StepDispatch {
			return o.runDispatch(ctx, plan)
		}
		return nil, fmt.Errorf("retry requires status %s, plan is %s: %w",
			contracts.StatusError, plan.Status, ErrPrecondition)
	}

	switch plan.CurrentStep {
	case contracts.StepDispatch:
		return o.runDispatch(ctx, plan)
	case contracts.StepRoute:
		if plan.Dispatch == nil {
			return nil, fmt.Errorf("retry at step %s without dispatch output: %w", plan.CurrentStep, ErrCorruptState)
		}
		return o.runRoute(ctx, plan)
	case contracts.StepInventory:
		if plan.Dispatch == nil || plan.Route == nil {
			return nil, fmt.Errorf("retry at step %s without prior outputs: %w", plan.CurrentStep, ErrCorruptState)
		}
		return o.runInventory(ctx, plan)
	default:
		return nil, fmt.Errorf("retry at step %s: %w", plan.CurrentStep, ErrCorruptState)
	}
}

// ResetPlan clears all stage outputs, modifications, and error state, and
// returns the plan to pending. The original job_ids are kept: reset is a
// fresh attempt over the same inputs, not a new plan.
func (o *Orchestrator) ResetPlan(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	if err := o.acquire(planID); err != nil {
		return nil, err
	}
	defer o.release(planID)

	// Reset is the escape hatch: it skips the consistency check so it also
	// works from corrupt state.
	if _, err := o.store.Get(ctx, planID); err != nil {
		return nil, err
	}

	status := contracts.StatusPending
	step := contracts.StepDispatch
	updated, err := o.store.Update(ctx, planID, store.PlanPatch{
		Status:       &status,
		CurrentStep:  &step,
		ClearOutputs: true,
		ClearError:   true,
	})
	if err != nil {
		return nil, err
	}
	o.events.Publish(updated)
	return updated, nil
}

// --- stage execution ---

func (o *Orchestrator) runDispatch(ctx context.Context, plan *contracts.DailyPlan) (*contracts.DailyPlan, error) {
	ctx, done := o.track(ctx, "plan.dispatch")
	var err error
	defer func() { done(err) }()

	jobs, err := o.jobs.JobsByID(ctx, plan.JobIDs)
	if err != nil {
		return o.failStage(ctx, plan, contracts.StepDispatch, fmt.Errorf("job source: %w", err))
	}
	prefs, err := o.prefs.PreferencesFor(ctx, plan.UserID)
	if err != nil {
		return o.failStage(ctx, plan, contracts.StepDispatch, fmt.Errorf("preference source: %w", err))
	}

	out, err := o.dispatch.Run(ctx, jobs, prefs)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoJobs) || errors.Is(err, dispatch.ErrBadPreferences) {
			// Input error: the plan stays in its current status.
			return plan, err
		}
		return o.failStage(ctx, plan, contracts.StepDispatch, err)
	}

	var updated *contracts.DailyPlan
	updated, err = o.transition(ctx, plan, contracts.StatusDispatchComplete, contracts.StepRoute, store.PlanPatch{
		Dispatch:   out,
		ClearError: true,
	})
	return updated, err
}

func (o *Orchestrator) runRoute(ctx context.Context, plan *contracts.DailyPlan) (*contracts.DailyPlan, error) {
	ctx, done := o.track(ctx, "plan.route")
	var err error
	defer func() { done(err) }()

	jobs, err := o.jobs.JobsByID(ctx, plan.JobIDs)
	if err != nil {
		return o.failStage(ctx, plan, contracts.StepRoute, fmt.Errorf("job source: %w", err))
	}
	prefs, err := o.prefs.PreferencesFor(ctx, plan.UserID)
	if err != nil {
		return o.failStage(ctx, plan, contracts.StepRoute, fmt.Errorf("preference source: %w", err))
	}

	out, err := o.route.Run(ctx, plan.Dispatch, jobs, prefs)
	if err != nil {
		return o.failStage(ctx, plan, contracts.StepRoute, err)
	}

	var updated *contracts.DailyPlan
	updated, err = o.transition(ctx, plan, contracts.StatusRouteComplete, contracts.StepInventory, store.PlanPatch{
		Route:      out,
		ClearError: true,
	})
	return updated, err
}

func (o *Orchestrator) runInventory(ctx context.Context, plan *contracts.DailyPlan) (*contracts.DailyPlan, error) {
	ctx, done := o.track(ctx, "plan.inventory")
	var err error
	defer func() { done(err) }()

	scheduledIDs := make([]string, 0, len(plan.Dispatch.Jobs))
	for _, sj := range plan.Dispatch.Jobs {
		scheduledIDs = append(scheduledIDs, sj.JobID)
	}
	jobs, err := o.jobs.JobsByID(ctx, scheduledIDs)
	if err != nil {
		return o.failStage(ctx, plan, contracts.StepInventory, fmt.Errorf("job source: %w", err))
	}
	prefs, err := o.prefs.PreferencesFor(ctx, plan.UserID)
	if err != nil {
		return o.failStage(ctx, plan, contracts.StepInventory, fmt.Errorf("preference source: %w", err))
	}
	stock, err := o.stock.OnHand(ctx, plan.UserID)
	if err != nil {
		return o.failStage(ctx, plan, contracts.StepInventory, fmt.Errorf("stock source: %w", err))
	}

	out, err := o.inventory.Run(ctx, plan.Dispatch, jobs, stock, prefs)
	if err != nil {
		return o.failStage(ctx, plan, contracts.StepInventory, err)
	}

	var updated *contracts.DailyPlan
	updated, err = o.transition(ctx, plan, contracts.StatusInventoryComplete, contracts.StepComplete, store.PlanPatch{
		Inventory:  out,
		ClearError: true,
	})
	return updated, err
}

// transition persists a stage completion guarded by the status the stage ran
// under, so a racing writer for the same stage loses with ErrConflict
// instead of interleaving output.
func (o *Orchestrator) transition(ctx context.Context, plan *contracts.DailyPlan, status contracts.PlanStatus, step contracts.PlanStep, patch store.PlanPatch) (*contracts.DailyPlan, error) {
	from := plan.Status
	patch.Status = &status
	patch.CurrentStep = &step
	patch.ExpectStatus = &from

	updated, err := o.store.Update(ctx, plan.ID, patch)
	if err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "plan transition",
		"plan_id", plan.ID, "from", from, "to", status, "step", step)
	o.events.Publish(updated)
	return updated, nil
}

// failStage records a fatal capability failure. Earlier stage outputs stay
// intact so the user can inspect what succeeded before retrying.
func (o *Orchestrator) failStage(ctx context.Context, plan *contracts.DailyPlan, stage contracts.PlanStep, cause error) (*contracts.DailyPlan, error) {
	status := contracts.StatusError
	updated, uerr := o.store.Update(ctx, plan.ID, store.PlanPatch{
		Status:      &status,
		CurrentStep: &stage,
		ErrorState: &contracts.ErrorState{
			Stage:     stage,
			Kind:      contracts.ErrorKindCapability,
			Message:   cause.Error(),
			Timestamp: time.Now().UTC(),
		},
		ExpectStatus: &plan.Status,
	})
	if uerr != nil {
		o.logger.ErrorContext(ctx, "failed to record stage error",
			"plan_id", plan.ID, "stage", stage, "stage_error", cause, "store_error", uerr)
		return nil, fmt.Errorf("%v (recording error state also failed: %w)", cause, uerr)
	}
	o.logger.WarnContext(ctx, "stage failed",
		"plan_id", plan.ID, "stage", stage, "error", cause)
	o.events.Publish(updated)
	return updated, cause
}

// --- plumbing ---

// checkout acquires the plan's single-flight slot, loads it, verifies
// consistency, and checks the status precondition. The caller must release.
func (o *Orchestrator) checkout(ctx context.Context, planID string, want contracts.PlanStatus) (*contracts.DailyPlan, error) {
	if err := o.acquire(planID); err != nil {
		return nil, err
	}
	plan, err := o.load(ctx, planID)
	if err != nil {
		o.release(planID)
		return nil, err
	}
	if plan.Status != want {
		o.release(planID)
		return nil, fmt.Errorf("operation requires status %s, plan is %s: %w", want, plan.Status, ErrPrecondition)
	}
	return plan, nil
}

// load fetches the plan and verifies the (status, current_step) invariant.
func (o *Orchestrator) load(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	plan, err := o.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != contracts.StatusError {
		want, ok := contracts.StepForStatus(plan.Status)
		if !ok || want != plan.CurrentStep {
			return nil, fmt.Errorf("status %s with current_step %s: %w", plan.Status, plan.CurrentStep, ErrCorruptState)
		}
	} else if plan.CurrentStep == contracts.StepComplete {
		return nil, fmt.Errorf("status %s with current_step %s: %w", plan.Status, plan.CurrentStep, ErrCorruptState)
	}
	return plan, nil
}

func (o *Orchestrator) acquire(planID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy == nil {
		o.busy = make(map[string]bool)
	}
	if o.busy[planID] {
		return ErrBusy
	}
	o.busy[planID] = true
	return nil
}

func (o *Orchestrator) release(planID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.busy, planID)
}

func (o *Orchestrator) track(ctx context.Context, name string) (context.Context, func(error)) {
	if o.obs == nil {
		return ctx, func(error) {}
	}
	return o.obs.TrackOperation(ctx, name)
}
