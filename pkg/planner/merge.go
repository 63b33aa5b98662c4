package planner

import (
	"context"

	"github.com/fieldops/dayplan/pkg/contracts"
	"github.com/fieldops/dayplan/pkg/store"
)

// User modifications are merged into the prior stage's output right before
// the next stage consumes it, then cleared. The merged output is persisted
// first so a later stage failure does not lose the user's edits.

func (o *Orchestrator) mergeDispatchChanges(ctx context.Context, plan *contracts.DailyPlan) (*contracts.DailyPlan, error) {
	changes := plan.Modifications.DispatchChanges
	if changes == nil {
		return plan, nil
	}

	merged := applyDispatchChanges(plan.Dispatch, changes)
	mods := plan.Modifications
	mods.DispatchChanges = nil
	return o.persistMerge(ctx, plan, store.PlanPatch{Dispatch: merged, Modifications: &mods})
}

func (o *Orchestrator) mergeRouteChanges(ctx context.Context, plan *contracts.DailyPlan) (*contracts.DailyPlan, error) {
	changes := plan.Modifications.RouteChanges
	if changes == nil {
		return plan, nil
	}

	merged := applyRouteChanges(plan.Route, changes)
	mods := plan.Modifications
	mods.RouteChanges = nil
	return o.persistMerge(ctx, plan, store.PlanPatch{Route: merged, Modifications: &mods})
}

func (o *Orchestrator) mergeInventoryChanges(ctx context.Context, plan *contracts.DailyPlan) (*contracts.DailyPlan, error) {
	changes := plan.Modifications.InventoryChanges
	if changes == nil {
		return plan, nil
	}

	merged := applyInventoryChanges(plan.Inventory, changes)
	mods := plan.Modifications
	mods.InventoryChanges = nil
	return o.persistMerge(ctx, plan, store.PlanPatch{Inventory: merged, Modifications: &mods})
}

func (o *Orchestrator) persistMerge(ctx context.Context, plan *contracts.DailyPlan, patch store.PlanPatch) (*contracts.DailyPlan, error) {
	patch.ExpectStatus = &plan.Status
	updated, err := o.store.Update(ctx, plan.ID, patch)
	if err != nil {
		return nil, err
	}
	o.events.Publish(updated)
	return updated, nil
}

// applyDispatchChanges removes jobs and reorders the schedule. Removed jobs
// move to the unscheduled list; ranks are reassigned contiguously so the
// 1..N' permutation invariant survives the edit.
func applyDispatchChanges(out *contracts.DispatchOutput, changes *contracts.DispatchChanges) *contracts.DispatchOutput {
	merged := *out
	remove := make(map[string]bool, len(changes.RemoveJobIDs))
	for _, id := range changes.RemoveJobIDs {
		remove[id] = true
	}

	kept := make([]contracts.ScheduledJob, 0, len(out.Jobs))
	unscheduled := append([]string(nil), out.UnscheduledJobIDs...)
	for _, sj := range out.Jobs {
		if remove[sj.JobID] {
			unscheduled = append(unscheduled, sj.JobID)
			continue
		}
		kept = append(kept, sj)
	}

	if len(changes.JobOrder) > 0 {
		byID := make(map[string]contracts.ScheduledJob, len(kept))
		for _, sj := range kept {
			byID[sj.JobID] = sj
		}
		reordered := make([]contracts.ScheduledJob, 0, len(kept))
		taken := make(map[string]bool, len(kept))
		for _, id := range changes.JobOrder {
			if sj, ok := byID[id]; ok && !taken[id] {
				reordered = append(reordered, sj)
				taken[id] = true
			}
		}
		// Jobs the user did not mention keep their relative order at the end.
		for _, sj := range kept {
			if !taken[sj.JobID] {
				reordered = append(reordered, sj)
			}
		}
		kept = reordered
	}

	for i := range kept {
		kept[i].PriorityRank = i + 1
	}
	merged.Jobs = kept
	merged.UnscheduledJobIDs = unscheduled
	return &merged
}

// applyRouteChanges reorders waypoints per the user's order and resequences.
// Waypoints absent from the order keep their relative position at the end.
func applyRouteChanges(out *contracts.RouteOutput, changes *contracts.RouteChanges) *contracts.RouteOutput {
	merged := *out
	if len(changes.WaypointOrder) == 0 {
		return &merged
	}

	byID := make(map[string]contracts.Waypoint, len(out.Waypoints))
	for _, wp := range out.Waypoints {
		byID[wp.JobID] = wp
	}
	reordered := make([]contracts.Waypoint, 0, len(out.Waypoints))
	taken := make(map[string]bool, len(out.Waypoints))
	for _, id := range changes.WaypointOrder {
		if wp, ok := byID[id]; ok && !taken[id] {
			reordered = append(reordered, wp)
			taken[id] = true
		}
	}
	for _, wp := range out.Waypoints {
		if !taken[wp.JobID] {
			reordered = append(reordered, wp)
		}
	}
	for i := range reordered {
		reordered[i].Sequence = i + 1
	}
	merged.Waypoints = reordered
	return &merged
}

// applyInventoryChanges overrides shopping-list quantities and removes
// items. A zero or negative override removes the line.
func applyInventoryChanges(out *contracts.InventoryOutput, changes *contracts.InventoryChanges) *contracts.InventoryOutput {
	merged := *out
	remove := make(map[string]bool, len(changes.RemoveItemIDs))
	for _, id := range changes.RemoveItemIDs {
		remove[id] = true
	}

	kept := make([]contracts.ShoppingItem, 0, len(out.ShoppingList))
	for _, item := range out.ShoppingList {
		if remove[item.ItemID] {
			continue
		}
		if qty, ok := changes.QuantityOverrides[item.ItemID]; ok {
			if qty <= 0 {
				continue
			}
			item.Quantity = qty
		}
		kept = append(kept, item)
	}
	merged.ShoppingList = kept
	return &merged
}
