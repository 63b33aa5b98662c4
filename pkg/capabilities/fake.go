package capabilities

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/dayplan/pkg/contracts"
)

// Deterministic fakes for unit tests. None of them touch the network.

// FakeReasoning returns a canned narrative, or Err when set.
type FakeReasoning struct {
	Narrative string
	Err       error
	// Delay simulates a slow provider so timeout handling can be exercised.
	Delay time.Duration
	Calls int
}

func (f *FakeReasoning) Narrate(ctx context.Context, summary string) (string, error) {
	f.Calls++
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.Err != nil {
		return "", f.Err
	}
	if f.Narrative != "" {
		return f.Narrative, nil
	}
	return "Fake narrative: " + summary, nil
}

// FakeSolver visits stops in request order (or Order when set), with a fixed
// 15-minute, 8 km leg between consecutive stops.
type FakeSolver struct {
	Err   error
	Order []string
	Calls int
}

const (
	fakeLegMinutes = 15
	fakeLegKm      = 8.0
)

func (f *FakeSolver) Solve(ctx context.Context, stops []Stop, vehicle Vehicle) (*RoutePlan, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if len(stops) == 0 {
		return nil, fmt.Errorf("fake solver: no stops")
	}

	byID := make(map[string]Stop, len(stops))
	for _, s := range stops {
		byID[s.JobID] = s
	}
	order := f.Order
	if order == nil {
		for _, s := range stops {
			order = append(order, s.JobID)
		}
	}

	cursor, err := contracts.ParseClock(vehicle.WindowStart)
	if err != nil {
		return nil, fmt.Errorf("fake solver: bad vehicle window: %w", err)
	}
	plan := &RoutePlan{}
	for i, id := range order {
		stop, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("fake solver: unknown stop %s", id)
		}
		cursor += fakeLegMinutes
		step := RouteStep{
			JobID:     id,
			Arrival:   contracts.FormatClock(cursor),
			Departure: contracts.FormatClock(cursor + stop.ServiceMinutes),
		}
		if i < len(order)-1 {
			step.TravelTimeToNextMin = fakeLegMinutes
			step.DistanceToNextKm = fakeLegKm
		}
		cursor += stop.ServiceMinutes
		plan.Steps = append(plan.Steps, step)
		plan.TotalDistanceKm += fakeLegKm
		plan.TotalTravelTimeMin += fakeLegMinutes
	}
	// Return leg to home base.
	plan.TotalDistanceKm += fakeLegKm
	plan.TotalTravelTimeMin += fakeLegMinutes
	start, _ := contracts.ParseClock(vehicle.WindowStart)
	plan.TotalDurationMin = cursor + fakeLegMinutes - start
	return plan, nil
}

// FakeSupplier offers every requested item from a single store.
type FakeSupplier struct {
	Err       error
	UnitPrice float64
	Calls     int
}

func (f *FakeSupplier) FindStores(ctx context.Context, items []ShortfallItem, near contracts.Coordinates) ([]StoreOffer, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	price := f.UnitPrice
	if price == 0 {
		price = 9.99
	}
	offer := StoreOffer{
		Store: contracts.SupplierStore{
			Name:       "Fake Hardware Supply",
			Address:    "1 Warehouse Way",
			Location:   contracts.Coordinates{Lat: near.Lat + 0.01, Lon: near.Lon - 0.01},
			DistanceKm: 2.4,
		},
		EstimatedVisitMinutes: 10 + 5*len(items),
	}
	for _, it := range items {
		offer.Items = append(offer.Items, ItemQuote{ItemID: it.ItemID, InStock: true, UnitPrice: price})
	}
	return []StoreOffer{offer}, nil
}

// FakeJobSource serves jobs from a fixed set, preserving request order.
type FakeJobSource struct {
	Jobs []contracts.Job
}

func (f *FakeJobSource) JobsByID(ctx context.Context, jobIDs []string) ([]contracts.Job, error) {
	byID := make(map[string]contracts.Job, len(f.Jobs))
	for _, j := range f.Jobs {
		byID[j.ID] = j
	}
	var out []contracts.Job
	for _, id := range jobIDs {
		if j, ok := byID[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

// FakePreferences returns the same preferences for every user, or Err when
// set.
type FakePreferences struct {
	Prefs contracts.PlanningPreferences
	Err   error
}

func (f *FakePreferences) PreferencesFor(ctx context.Context, userID string) (contracts.PlanningPreferences, error) {
	if f.Err != nil {
		return contracts.PlanningPreferences{}, f.Err
	}
	return f.Prefs, nil
}

// FakeStock returns a fixed stock map, or Err when set.
type FakeStock struct {
	Stock map[string]int
	Err   error
}

func (f *FakeStock) OnHand(ctx context.Context, userID string) (map[string]int, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Stock == nil {
		return map[string]int{}, nil
	}
	return f.Stock, nil
}

