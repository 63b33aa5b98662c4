// Package inventory reconciles the dispatched jobs' required parts against
// on-hand stock: it builds the parts manifest, computes shortfalls into a
// shopping list, resolves a supply run via the supplier lookup (best-effort),
// and emits stock alerts.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fieldops/dayplan/pkg/capabilities"
	"github.com/fieldops/dayplan/pkg/contracts"
)

// Stage runs the inventory step of the planning workflow.
type Stage struct {
	supplier capabilities.SupplierLookup
	timeout  time.Duration
	logger   *slog.Logger
}

func New(supplier capabilities.SupplierLookup, timeout time.Duration) *Stage {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Stage{
		supplier: supplier,
		timeout:  timeout,
		logger:   slog.Default().With("component", "inventory"),
	}
}

// Run reconciles parts for the dispatched jobs. jobs must contain the jobs
// named by dispatched; stock maps item id to on-hand quantity. A supplier
// lookup failure degrades to an unresolved shopping list plus an alert, it
// never fails the stage.
func (s *Stage) Run(ctx context.Context, dispatched *contracts.DispatchOutput, jobs []contracts.Job, stock map[string]int, prefs contracts.PlanningPreferences) (*contracts.InventoryOutput, error) {
	if dispatched == nil {
		return nil, fmt.Errorf("inventory: missing dispatch output")
	}

	byID := make(map[string]contracts.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	classOf := make(map[string]contracts.JobClass, len(dispatched.Jobs))
	for _, sj := range dispatched.Jobs {
		classOf[sj.JobID] = sj.Classification
	}

	out := &contracts.InventoryOutput{}
	shortfalls := s.buildManifest(out, dispatched, byID, classOf, stock)
	s.addStockAlerts(out, stock, prefs.LowStockThreshold)

	if len(shortfalls) == 0 {
		return out, nil
	}
	s.resolveSupplyRun(ctx, out, shortfalls, prefs.HomeBase)
	return out, nil
}

// itemShortfall tracks one distinct item's shortfall across all jobs.
type itemShortfall struct {
	item   capabilities.ShortfallItem
	urgent bool
}

// buildManifest fills PartsManifest and ShoppingList and returns the
// distinct shortfall items in manifest order.
func (s *Stage) buildManifest(out *contracts.InventoryOutput, dispatched *contracts.DispatchOutput, jobs map[string]contracts.Job, classOf map[string]contracts.JobClass, stock map[string]int) []itemShortfall {
	// Walk jobs in rank order so the manifest and shopping list are stable.
	remaining := make(map[string]int, len(stock))
	for id, qty := range stock {
		remaining[id] = qty
	}

	shortfallByItem := make(map[string]*itemShortfall)
	var order []string

	for _, sj := range dispatched.Jobs {
		job, ok := jobs[sj.JobID]
		if !ok {
			continue
		}
		for _, part := range job.RequiredParts {
			available := remaining[part.ItemID]
			covered := min(available, part.Quantity)
			remaining[part.ItemID] = available - covered

			out.PartsManifest = append(out.PartsManifest, contracts.ManifestLine{
				JobID:     job.ID,
				ItemID:    part.ItemID,
				Name:      part.Name,
				Needed:    part.Quantity,
				Available: covered,
			})

			short := part.Quantity - covered
			if short <= 0 {
				continue
			}
			sf, ok := shortfallByItem[part.ItemID]
			if !ok {
				sf = &itemShortfall{item: capabilities.ShortfallItem{ItemID: part.ItemID, Name: part.Name}}
				shortfallByItem[part.ItemID] = sf
				order = append(order, part.ItemID)
			}
			sf.item.Quantity += short
			if class := classOf[job.ID]; class == contracts.ClassEmergency || class == contracts.ClassDemand {
				sf.urgent = true
			}
		}
	}

	shortfalls := make([]itemShortfall, 0, len(order))
	for _, id := range order {
		sf := shortfallByItem[id]
		shortfalls = append(shortfalls, *sf)
		priority := contracts.ShoppingPriorityNormal
		if sf.urgent {
			priority = contracts.ShoppingPriorityUrgent
		}
		out.ShoppingList = append(out.ShoppingList, contracts.ShoppingItem{
			ItemID:   sf.item.ItemID,
			Name:     sf.item.Name,
			Quantity: sf.item.Quantity,
			Priority: priority,
		})
	}
	return shortfalls
}

// resolveSupplyRun asks the supplier lookup for nearby stores and, on
// success, prices the shopping list and synthesizes the hardware-store
// pseudo-job. On failure the shopping list stays unresolved and an alert is
// added.
func (s *Stage) resolveSupplyRun(ctx context.Context, out *contracts.InventoryOutput, shortfalls []itemShortfall, near contracts.Coordinates) {
	items := make([]capabilities.ShortfallItem, 0, len(shortfalls))
	for _, sf := range shortfalls {
		items = append(items, sf.item)
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	offers, err := s.supplier.FindStores(sctx, items, near)
	if err != nil || len(offers) == 0 {
		s.logger.WarnContext(ctx, "supplier lookup failed, returning unresolved shopping list", "error", err)
		out.Alerts = append(out.Alerts, contracts.InventoryAlert{
			Kind:    contracts.AlertSupplierUnavailable,
			Message: "supplier lookup failed; shopping list has no assigned store",
		})
		return
	}

	// Nearest store first.
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Store.DistanceKm < offers[j].Store.DistanceKm
	})
	best := offers[0]
	quotes := make(map[string]capabilities.ItemQuote, len(best.Items))
	for _, q := range best.Items {
		quotes[q.ItemID] = q
	}

	var stocked []string
	for i := range out.ShoppingList {
		line := &out.ShoppingList[i]
		q, ok := quotes[line.ItemID]
		if !ok || !q.InStock {
			continue
		}
		store := best.Store
		line.Store = &store
		line.UnitPrice = q.UnitPrice
		stocked = append(stocked, line.ItemID)
	}
	if len(stocked) == 0 {
		out.Alerts = append(out.Alerts, contracts.InventoryAlert{
			Kind:    contracts.AlertSupplierUnavailable,
			Message: fmt.Sprintf("%s has none of the needed items in stock", best.Store.Name),
		})
		return
	}

	out.HardwareStoreJob = &contracts.HardwareStoreJob{
		Store:           best.Store,
		DurationMinutes: best.EstimatedVisitMinutes,
		ItemIDs:         stocked,
	}
}

// addStockAlerts flags items below the low-stock threshold or fully out of
// stock, in stable item-id order.
func (s *Stage) addStockAlerts(out *contracts.InventoryOutput, stock map[string]int, lowThreshold int) {
	if lowThreshold <= 0 {
		lowThreshold = 1
	}
	ids := make([]string, 0, len(stock))
	for id := range stock {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		switch qty := stock[id]; {
		case qty <= 0:
			out.Alerts = append(out.Alerts, contracts.InventoryAlert{
				ItemID:  id,
				Kind:    contracts.AlertOutOfStock,
				Message: fmt.Sprintf("item %s is out of stock", id),
			})
		case qty <= lowThreshold:
			out.Alerts = append(out.Alerts, contracts.InventoryAlert{
				ItemID:  id,
				Kind:    contracts.AlertLowStock,
				Message: fmt.Sprintf("item %s is low on stock (%d left)", id, qty),
			})
		}
	}
}
