package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/dayplan/pkg/capabilities"
	"github.com/fieldops/dayplan/pkg/contracts"
	"github.com/fieldops/dayplan/pkg/dispatch"
	"github.com/fieldops/dayplan/pkg/inventory"
	"github.com/fieldops/dayplan/pkg/route"
	"github.com/fieldops/dayplan/pkg/store"
)

func testPrefs() contracts.PlanningPreferences {
	return contracts.PlanningPreferences{
		WorkStart:         "08:00",
		WorkEnd:           "17:00",
		LunchStart:        "12:00",
		LunchEnd:          "13:00",
		BufferMinutes:     15,
		JobGapMinutes:     10,
		EmergencyJobTypes: []string{"burst_pipe"},
		HomeBase:          contracts.Coordinates{Lat: 40.0, Lon: -105.0},
		LowStockThreshold: 2,
	}
}

func testJobs() []contracts.Job {
	return []contracts.Job{
		{
			ID: "j1", Title: "Burst pipe", Type: "burst_pipe", Priority: contracts.PriorityUrgent,
			CustomerID: "c1", DurationMinutes: 60,
			Location: contracts.Coordinates{Lat: 40.01, Lon: -105.0},
			RequiredParts: []contracts.PartRequirement{
				{ItemID: "pipe-15", Name: "15mm pipe", Quantity: 2},
			},
		},
		{
			ID: "j2", Title: "Boiler service", Type: "maintenance", Priority: contracts.PriorityMedium,
			CustomerID: "c2", DurationMinutes: 45,
			Location: contracts.Coordinates{Lat: 40.02, Lon: -105.0},
			RequiredParts: []contracts.PartRequirement{
				{ItemID: "gasket", Name: "Gasket", Quantity: 1},
			},
		},
		{
			ID: "j3", Title: "Tap install", Type: "install", Priority: contracts.PriorityLow,
			CustomerID: "c3", DurationMinutes: 30,
			Location: contracts.Coordinates{Lat: 40.03, Lon: -105.0},
		},
	}
}

type fixture struct {
	store    *store.MemoryPlanStore
	jobs     *capabilities.FakeJobSource
	prefs    *capabilities.FakePreferences
	stock    *capabilities.FakeStock
	solver   *capabilities.FakeSolver
	supplier *capabilities.FakeSupplier
}

func newFixture() *fixture {
	return &fixture{
		store:    store.NewMemoryPlanStore(),
		jobs:     &capabilities.FakeJobSource{Jobs: testJobs()},
		prefs:    &capabilities.FakePreferences{Prefs: testPrefs()},
		stock:    &capabilities.FakeStock{Stock: map[string]int{"pipe-15": 1, "gasket": 5}},
		solver:   &capabilities.FakeSolver{},
		supplier: &capabilities.FakeSupplier{},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(
		f.store,
		f.jobs, f.prefs, f.stock,
		dispatch.New(&capabilities.FakeReasoning{}, time.Second),
		route.New(f.solver, time.Second),
		inventory.New(f.supplier, time.Second),
		nil,
	)
}

func jobIDs() []string { return []string{"j1", "j2", "j3"} }

func TestFullWorkflowHappyPath(t *testing.T) {
	ctx := context.Background()
	o := newFixture().orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDispatchComplete, plan.Status)
	assert.Equal(t, contracts.StepRoute, plan.CurrentStep)
	require.NotNil(t, plan.Dispatch)
	assert.Len(t, plan.Dispatch.Jobs, 3)
	assert.Equal(t, "j1", plan.Dispatch.Jobs[0].JobID, "emergency job ranks first")

	plan, err = o.ConfirmDispatch(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusRouteComplete, plan.Status)
	assert.Equal(t, contracts.StepInventory, plan.CurrentStep)
	require.NotNil(t, plan.Route)
	assert.Len(t, plan.Route.Waypoints, 3)

	plan, err = o.ConfirmRoute(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusInventoryComplete, plan.Status)
	assert.Equal(t, contracts.StepComplete, plan.CurrentStep)
	require.NotNil(t, plan.Inventory)
	// j1 needs 2 pipes but only 1 is on hand.
	require.Len(t, plan.Inventory.ShoppingList, 1)
	assert.Equal(t, "pipe-15", plan.Inventory.ShoppingList[0].ItemID)

	plan, err = o.ConfirmInventory(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusApproved, plan.Status)
	assert.Equal(t, contracts.StepComplete, plan.CurrentStep)

	// An approved plan no longer blocks a new one for the same day.
	active, err := o.store.GetActive(ctx, "u1", "2026-08-24")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStartRejectsEmptyJobList(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	o := f.orchestrator()

	_, err := o.Start(ctx, "u1", "2026-08-24", nil)
	require.ErrorIs(t, err, dispatch.ErrNoJobs)

	// Nothing may persist on an input error before creation.
	active, err := f.store.GetActive(ctx, "u1", "2026-08-24")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStartRejectsBadDate(t *testing.T) {
	o := newFixture().orchestrator()
	_, err := o.Start(context.Background(), "u1", "tomorrow", jobIDs())
	require.Error(t, err)
}

func TestStartConflictsWithActivePlan(t *testing.T) {
	ctx := context.Background()
	o := newFixture().orchestrator()

	_, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)

	_, err = o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestBadPreferencesLeavePlanPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.prefs.Prefs.WorkStart = "whenever"
	o := f.orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.ErrorIs(t, err, dispatch.ErrBadPreferences)
	require.NotNil(t, plan, "the created plan is returned alongside the input error")

	stored, err := f.store.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusPending, stored.Status, "input errors never move the plan to error")
	assert.Nil(t, stored.ErrorState)
}

func TestConfirmRequiresMatchingStatus(t *testing.T) {
	ctx := context.Background()
	o := newFixture().orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)

	// Plan is dispatch_complete; route and inventory confirms are premature.
	_, err = o.ConfirmRoute(ctx, plan.ID)
	require.ErrorIs(t, err, ErrPrecondition)
	_, err = o.ConfirmInventory(ctx, plan.ID)
	require.ErrorIs(t, err, ErrPrecondition)

	// Redundant dispatch confirm after the first one succeeded.
	_, err = o.ConfirmDispatch(ctx, plan.ID)
	require.NoError(t, err)
	_, err = o.ConfirmDispatch(ctx, plan.ID)
	require.ErrorIs(t, err, ErrPrecondition)
}

func TestConfirmUnknownPlan(t *testing.T) {
	o := newFixture().orchestrator()
	_, err := o.ConfirmDispatch(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRouteFailureRecordsErrorState(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.solver.Err = errors.New("solver unavailable")
	o := f.orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)

	failed, err := o.ConfirmDispatch(ctx, plan.ID)
	require.Error(t, err)
	require.NotNil(t, failed, "the error-state snapshot is returned with the cause")
	assert.Equal(t, contracts.StatusError, failed.Status)
	assert.Equal(t, contracts.StepRoute, failed.CurrentStep)
	require.NotNil(t, failed.ErrorState)
	assert.Equal(t, contracts.StepRoute, failed.ErrorState.Stage)
	assert.Equal(t, contracts.ErrorKindCapability, failed.ErrorState.Kind)
	assert.Contains(t, failed.ErrorState.Message, "solver unavailable")

	// The dispatch output must survive the route failure.
	require.NotNil(t, failed.Dispatch)
	assert.Len(t, failed.Dispatch.Jobs, 3)
}

func TestRetryRerunsOnlyTheFailedStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.solver.Err = errors.New("solver unavailable")
	o := f.orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)
	failed, _ := o.ConfirmDispatch(ctx, plan.ID)
	require.Equal(t, contracts.StatusError, failed.Status)
	dispatchBefore := failed.Dispatch

	// Solver recovers; retry must re-run route only.
	f.solver.Err = nil
	f.solver.Calls = 0
	retried, err := o.RetryPlanning(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusRouteComplete, retried.Status)
	assert.Equal(t, contracts.StepInventory, retried.CurrentStep)
	assert.Nil(t, retried.ErrorState)
	require.NotNil(t, retried.Route)
	assert.Equal(t, 1, f.solver.Calls)
	assert.Equal(t, dispatchBefore, retried.Dispatch, "dispatch output is reused, not recomputed")
}

func TestRetryRecoversPendingPlanAfterBadPreferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.prefs.Prefs.WorkStart = "whenever"
	o := f.orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.ErrorIs(t, err, dispatch.ErrBadPreferences)
	require.NotNil(t, plan)

	// The pending plan blocks the date, so it must not be a dead end.
	_, err = o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.ErrorIs(t, err, store.ErrConflict)
	_, err = o.ConfirmDispatch(ctx, plan.ID)
	require.ErrorIs(t, err, ErrPrecondition)

	// Once the preferences are fixed, retry re-runs dispatch.
	f.prefs.Prefs = testPrefs()
	retried, err := o.RetryPlanning(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDispatchComplete, retried.Status)
	assert.Equal(t, contracts.StepRoute, retried.CurrentStep)
	require.NotNil(t, retried.Dispatch)
	assert.Len(t, retried.Dispatch.Jobs, 3)
}

func TestRetryRecoversPendingPlanAfterUnresolvableJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.jobs.Jobs = nil
	o := f.orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.ErrorIs(t, err, dispatch.ErrNoJobs)
	require.NotNil(t, plan)

	stored, err := f.store.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusPending, stored.Status)
	assert.Nil(t, stored.ErrorState)

	// The jobs become resolvable; retry picks the plan up from pending.
	f.jobs.Jobs = testJobs()
	retried, err := o.RetryPlanning(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDispatchComplete, retried.Status)
}

func TestRetryRequiresErrorStatus(t *testing.T) {
	ctx := context.Background()
	o := newFixture().orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)

	_, err = o.RetryPlanning(ctx, plan.ID)
	require.ErrorIs(t, err, ErrPrecondition)
}

func TestResetReturnsPlanToPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.solver.Err = errors.New("solver unavailable")
	o := f.orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)
	_, _ = o.ConfirmDispatch(ctx, plan.ID)

	reset, err := o.ResetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusPending, reset.Status)
	assert.Equal(t, contracts.StepDispatch, reset.CurrentStep)
	assert.Nil(t, reset.Dispatch)
	assert.Nil(t, reset.Route)
	assert.Nil(t, reset.Inventory)
	assert.Nil(t, reset.ErrorState)
	assert.True(t, reset.Modifications.Empty())
	assert.Equal(t, jobIDs(), reset.JobIDs, "reset keeps the original job ids")
}

func TestSaveAndApplyDispatchModifications(t *testing.T) {
	ctx := context.Background()
	o := newFixture().orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)

	// Drop j2 and put j3 ahead of j1.
	saved, err := o.SaveUserModifications(ctx, plan.ID, contracts.UserModifications{
		DispatchChanges: &contracts.DispatchChanges{
			JobOrder:     []string{"j3", "j1"},
			RemoveJobIDs: []string{"j2"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, saved.Modifications.DispatchChanges)
	assert.Equal(t, contracts.StatusDispatchComplete, saved.Status, "saving edits does not advance the workflow")

	confirmed, err := o.ConfirmDispatch(ctx, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, confirmed.Dispatch)
	require.Len(t, confirmed.Dispatch.Jobs, 2)
	assert.Equal(t, "j3", confirmed.Dispatch.Jobs[0].JobID)
	assert.Equal(t, 1, confirmed.Dispatch.Jobs[0].PriorityRank)
	assert.Equal(t, "j1", confirmed.Dispatch.Jobs[1].JobID)
	assert.Equal(t, 2, confirmed.Dispatch.Jobs[1].PriorityRank)
	assert.Contains(t, confirmed.Dispatch.UnscheduledJobIDs, "j2")
	assert.Nil(t, confirmed.Modifications.DispatchChanges, "consumed changes are cleared")

	// The route only visits the remaining jobs.
	require.NotNil(t, confirmed.Route)
	assert.Len(t, confirmed.Route.Waypoints, 2)
}

func TestSaveModificationsRejectedWhenDone(t *testing.T) {
	ctx := context.Background()
	o := newFixture().orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)
	plan, err = o.ConfirmDispatch(ctx, plan.ID)
	require.NoError(t, err)
	plan, err = o.ConfirmRoute(ctx, plan.ID)
	require.NoError(t, err)
	plan, err = o.ConfirmInventory(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusApproved, plan.Status)

	_, err = o.SaveUserModifications(ctx, plan.ID, contracts.UserModifications{
		RouteChanges: &contracts.RouteChanges{WaypointOrder: []string{"j2"}},
	})
	require.ErrorIs(t, err, ErrPrecondition)
}

func TestCorruptStateIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	o := f.orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)

	// Force a (status, current_step) pair outside the state machine.
	badStep := contracts.StepDispatch
	_, err = f.store.Update(ctx, plan.ID, store.PlanPatch{CurrentStep: &badStep})
	require.NoError(t, err)

	_, err = o.ConfirmDispatch(ctx, plan.ID)
	require.ErrorIs(t, err, ErrCorruptState)

	// Reset is the escape hatch out of corrupt state.
	reset, err := o.ResetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusPending, reset.Status)
	assert.Equal(t, contracts.StepDispatch, reset.CurrentStep)
}

func TestBusyPlanRejectsConcurrentOperations(t *testing.T) {
	ctx := context.Background()
	o := newFixture().orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)

	require.NoError(t, o.acquire(plan.ID))
	defer o.release(plan.ID)

	_, err = o.ConfirmDispatch(ctx, plan.ID)
	require.ErrorIs(t, err, ErrBusy)
	_, err = o.SaveUserModifications(ctx, plan.ID, contracts.UserModifications{})
	require.ErrorIs(t, err, ErrBusy)
	_, err = o.RetryPlanning(ctx, plan.ID)
	require.ErrorIs(t, err, ErrBusy)
}

// updateFailStore fails Update for one target status so a stage can run
// successfully and then hit a broken completion write.
type updateFailStore struct {
	store.PlanStore
	failStatus contracts.PlanStatus
	err        error
}

func (s *updateFailStore) Update(ctx context.Context, planID string, patch store.PlanPatch) (*contracts.DailyPlan, error) {
	if patch.Status != nil && *patch.Status == s.failStatus {
		return nil, s.err
	}
	return s.PlanStore.Update(ctx, planID, patch)
}

func TestStageCompletionWriteFailurePropagates(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	broken := &updateFailStore{
		PlanStore:  f.store,
		failStatus: contracts.StatusRouteComplete,
		err:        errors.New("disk full"),
	}
	o := New(
		broken,
		f.jobs, f.prefs, f.stock,
		dispatch.New(&capabilities.FakeReasoning{}, time.Second),
		route.New(f.solver, time.Second),
		inventory.New(f.supplier, time.Second),
		nil,
	)

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)

	// The route stage succeeds but persisting its completion fails; the
	// failure must surface, and the plan must keep its last durable state.
	_, err = o.ConfirmDispatch(ctx, plan.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stored, err := f.store.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDispatchComplete, stored.Status)
	assert.Nil(t, stored.Route)
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	ctx := context.Background()
	o := newFixture().orchestrator()

	plan, err := o.Start(ctx, "u1", "2026-08-24", jobIDs())
	require.NoError(t, err)

	ch, cancel := o.Subscribe(plan.ID)
	defer cancel()

	_, err = o.ConfirmDispatch(ctx, plan.ID)
	require.NoError(t, err)

	select {
	case snapshot := <-ch:
		assert.Equal(t, contracts.StatusRouteComplete, snapshot.Status)
	case <-time.After(time.Second):
		t.Fatal("no plan event received")
	}
}

func TestApplyRouteChangesReordersWaypoints(t *testing.T) {
	out := &contracts.RouteOutput{Waypoints: []contracts.Waypoint{
		{JobID: "a", Sequence: 1},
		{JobID: "b", Sequence: 2},
		{JobID: "c", Sequence: 3},
	}}
	merged := applyRouteChanges(out, &contracts.RouteChanges{WaypointOrder: []string{"c", "b"}})

	require.Len(t, merged.Waypoints, 3)
	assert.Equal(t, "c", merged.Waypoints[0].JobID)
	assert.Equal(t, "b", merged.Waypoints[1].JobID)
	assert.Equal(t, "a", merged.Waypoints[2].JobID, "unmentioned waypoints keep relative order at the end")
	for i, wp := range merged.Waypoints {
		assert.Equal(t, i+1, wp.Sequence)
	}
	assert.Equal(t, 1, out.Waypoints[0].Sequence, "input is not mutated")
}

func TestApplyInventoryChanges(t *testing.T) {
	out := &contracts.InventoryOutput{ShoppingList: []contracts.ShoppingItem{
		{ItemID: "a", Quantity: 2},
		{ItemID: "b", Quantity: 4},
		{ItemID: "c", Quantity: 1},
	}}
	merged := applyInventoryChanges(out, &contracts.InventoryChanges{
		QuantityOverrides: map[string]int{"a": 5, "b": 0},
		RemoveItemIDs:     []string{"c"},
	})

	require.Len(t, merged.ShoppingList, 1)
	assert.Equal(t, "a", merged.ShoppingList[0].ItemID)
	assert.Equal(t, 5, merged.ShoppingList[0].Quantity)
}
