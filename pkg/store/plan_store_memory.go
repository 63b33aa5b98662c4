package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fieldops/dayplan/pkg/contracts"
)

// MemoryPlanStore is an in-memory PlanStore for tests and single-shot runs.
// Plans are deep-copied through JSON on the way in and out so callers can
// never alias the stored record.
type MemoryPlanStore struct {
	mu    sync.Mutex
	plans map[string]*contracts.DailyPlan
}

func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{plans: make(map[string]*contracts.DailyPlan)}
}

func (s *MemoryPlanStore) Create(ctx context.Context, plan *contracts.DailyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.plans {
		if existing.UserID == plan.UserID && existing.PlannedDate == plan.PlannedDate && existing.Active() {
			return fmt.Errorf("active plan exists for user %s on %s: %w", plan.UserID, plan.PlannedDate, ErrConflict)
		}
	}
	s.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (s *MemoryPlanStore) Get(ctx context.Context, planID string) (*contracts.DailyPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlan(p), nil
}

func (s *MemoryPlanStore) GetActive(ctx context.Context, userID, date string) (*contracts.DailyPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.plans {
		if p.UserID == userID && p.PlannedDate == date && p.Active() {
			return clonePlan(p), nil
		}
	}
	return nil, nil
}

func (s *MemoryPlanStore) Update(ctx context.Context, planID string, patch PlanPatch) (*contracts.DailyPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.ExpectStatus != nil && p.Status != *patch.ExpectStatus {
		return nil, fmt.Errorf("plan %s changed status concurrently: %w", planID, ErrConflict)
	}

	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.CurrentStep != nil {
		p.CurrentStep = *patch.CurrentStep
	}
	if patch.Dispatch != nil {
		p.Dispatch = patch.Dispatch
	}
	if patch.Route != nil {
		p.Route = patch.Route
	}
	if patch.Inventory != nil {
		p.Inventory = patch.Inventory
	}
	if patch.Modifications != nil {
		p.Modifications = *patch.Modifications
	}
	if patch.ErrorState != nil {
		p.ErrorState = patch.ErrorState
	}
	if patch.ClearError {
		p.ErrorState = nil
	}
	if patch.ClearOutputs {
		p.Dispatch = nil
		p.Route = nil
		p.Inventory = nil
		p.Modifications = contracts.UserModifications{}
	}
	p.UpdatedAt = time.Now().UTC()

	s.plans[planID] = clonePlan(p)
	return clonePlan(p), nil
}

func clonePlan(p *contracts.DailyPlan) *contracts.DailyPlan {
	data, _ := json.Marshal(p)
	var out contracts.DailyPlan
	_ = json.Unmarshal(data, &out)
	return &out
}
