// Package route turns a dispatched job order into a sequenced travel route
// by invoking the external routing solver. The solver's order is
// authoritative and may differ from dispatch priority rank; the only
// guarantee is that every dispatched job appears exactly once.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldops/dayplan/pkg/capabilities"
	"github.com/fieldops/dayplan/pkg/contracts"
)

// Stage runs the route step of the planning workflow.
type Stage struct {
	solver  capabilities.RoutingSolver
	timeout time.Duration
	logger  *slog.Logger
}

func New(solver capabilities.RoutingSolver, timeout time.Duration) *Stage {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Stage{
		solver:  solver,
		timeout: timeout,
		logger:  slog.Default().With("component", "route"),
	}
}

// Run builds the routing request from the dispatch output and maps the
// solver's steps to waypoints. Any solver error is fatal for the stage.
func (s *Stage) Run(ctx context.Context, dispatched *contracts.DispatchOutput, jobs []contracts.Job, prefs contracts.PlanningPreferences) (*contracts.RouteOutput, error) {
	if dispatched == nil || len(dispatched.Jobs) == 0 {
		return nil, fmt.Errorf("route: no dispatched jobs")
	}

	byID := make(map[string]contracts.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	stops := make([]capabilities.Stop, 0, len(dispatched.Jobs))
	for _, sj := range dispatched.Jobs {
		job, ok := byID[sj.JobID]
		if !ok {
			return nil, fmt.Errorf("route: dispatched job %s missing from job list", sj.JobID)
		}
		stops = append(stops, capabilities.Stop{
			JobID:          sj.JobID,
			Location:       job.Location,
			ServiceMinutes: job.DurationMinutes + sj.BufferMinutes,
			WindowStart:    prefs.WorkStart,
			WindowEnd:      prefs.WorkEnd,
		})
	}
	vehicle := capabilities.Vehicle{
		Start:       prefs.HomeBase,
		End:         prefs.HomeBase,
		WindowStart: prefs.WorkStart,
		WindowEnd:   prefs.WorkEnd,
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	plan, err := s.solver.Solve(sctx, stops, vehicle)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}

	out, err := mapPlan(plan, byID, len(dispatched.Jobs))
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "route complete",
		"waypoints", len(out.Waypoints),
		"total_distance_km", out.TotalDistanceKm,
		"total_travel_min", out.TotalTravelTimeMin,
	)
	return out, nil
}

// mapPlan converts solver steps to waypoints in solver order and verifies
// the one-visit-per-job contract.
func mapPlan(plan *capabilities.RoutePlan, jobs map[string]contracts.Job, dispatched int) (*contracts.RouteOutput, error) {
	if len(plan.Steps) != dispatched {
		return nil, fmt.Errorf("route: solver returned %d steps for %d jobs", len(plan.Steps), dispatched)
	}

	seen := make(map[string]bool, len(plan.Steps))
	out := &contracts.RouteOutput{
		TotalDistanceKm:    plan.TotalDistanceKm,
		TotalTravelTimeMin: plan.TotalTravelTimeMin,
		TotalDurationMin:   plan.TotalDurationMin,
	}
	for i, step := range plan.Steps {
		job, ok := jobs[step.JobID]
		if !ok {
			return nil, fmt.Errorf("route: solver visited unknown job %s", step.JobID)
		}
		if seen[step.JobID] {
			return nil, fmt.Errorf("route: solver visited job %s twice", step.JobID)
		}
		seen[step.JobID] = true
		out.Waypoints = append(out.Waypoints, contracts.Waypoint{
			JobID:               step.JobID,
			Sequence:            i + 1,
			Location:            job.Location,
			Arrival:             step.Arrival,
			Departure:           step.Departure,
			TravelTimeToNextMin: step.TravelTimeToNextMin,
			DistanceToNextKm:    step.DistanceToNextKm,
		})
	}
	return out, nil
}
