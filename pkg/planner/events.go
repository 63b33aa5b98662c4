package planner

import (
	"sync"

	"github.com/fieldops/dayplan/pkg/contracts"
)

// eventBus fans plan snapshots out to subscribers. Delivery is best-effort:
// a slow subscriber's channel drops snapshots rather than blocking the
// orchestrator, and clients are expected to re-read the plan (at-least-once
// observation, not a transaction log).
type eventBus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan contracts.DailyPlan
	next int
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[string]map[int]chan contracts.DailyPlan)}
}

// Subscribe returns a snapshot channel for one plan and a cancel function.
func (b *eventBus) Subscribe(planID string) (<-chan contracts.DailyPlan, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[planID] == nil {
		b.subs[planID] = make(map[int]chan contracts.DailyPlan)
	}
	id := b.next
	b.next++
	ch := make(chan contracts.DailyPlan, 8)
	b.subs[planID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[planID][id]; ok {
			delete(b.subs[planID], id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *eventBus) Publish(plan *contracts.DailyPlan) {
	if plan == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[plan.ID] {
		select {
		case ch <- *plan:
		default:
		}
	}
}
