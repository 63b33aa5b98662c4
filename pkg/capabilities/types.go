// Package capabilities defines the narrow interfaces for the external
// services the planning stages call: the reasoning provider (best-effort),
// the routing solver (authoritative), the supplier/stock lookup
// (best-effort), and the read-only job/preference/stock sources.
//
// Every interface has an HTTP implementation and a deterministic fake, so
// unit tests never touch the network.
package capabilities

import (
	"context"

	"github.com/fieldops/dayplan/pkg/contracts"
)

// ReasoningProvider produces a short natural-language narrative for a
// schedule summary. Failures must never fail the calling stage.
type ReasoningProvider interface {
	Narrate(ctx context.Context, summary string) (string, error)
}

// Stop is one job visit in a routing request.
type Stop struct {
	JobID          string                `json:"job_id"`
	Location       contracts.Coordinates `json:"location"`
	ServiceMinutes int                   `json:"service_minutes"`
	WindowStart    string                `json:"window_start"` // "15:04"
	WindowEnd      string                `json:"window_end"`
}

// Vehicle describes the single vehicle in a routing request.
type Vehicle struct {
	Start       contracts.Coordinates `json:"start"`
	End         contracts.Coordinates `json:"end"`
	WindowStart string                `json:"window_start"`
	WindowEnd   string                `json:"window_end"`
}

// RouteStep is one solver-ordered visit.
type RouteStep struct {
	JobID               string  `json:"job_id"`
	Arrival             string  `json:"arrival"`
	Departure           string  `json:"departure"`
	TravelTimeToNextMin int     `json:"travel_time_to_next_min"`
	DistanceToNextKm    float64 `json:"distance_to_next_km"`
}

// RoutePlan is the solver's answer. Step order is authoritative.
type RoutePlan struct {
	Steps              []RouteStep `json:"steps"`
	TotalDistanceKm    float64     `json:"total_distance_km"`
	TotalTravelTimeMin int         `json:"total_travel_time_min"`
	TotalDurationMin   int         `json:"total_duration_min"`
}

// RoutingSolver computes a travel route. Any error, including "no feasible
// route", is fatal for the route stage.
type RoutingSolver interface {
	Solve(ctx context.Context, stops []Stop, vehicle Vehicle) (*RoutePlan, error)
}

// ShortfallItem is one item the user must buy.
type ShortfallItem struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// ItemQuote is a store's stock and price for one shortfall item.
type ItemQuote struct {
	ItemID    string  `json:"item_id"`
	InStock   bool    `json:"in_stock"`
	UnitPrice float64 `json:"unit_price"`
}

// StoreOffer is one nearby store able to cover part of the shortfall.
type StoreOffer struct {
	Store                 contracts.SupplierStore `json:"store"`
	Items                 []ItemQuote             `json:"items"`
	EstimatedVisitMinutes int                     `json:"estimated_visit_minutes"`
}

// SupplierLookup resolves shortfall items to nearby stores. Best-effort:
// the inventory stage degrades gracefully when it fails.
type SupplierLookup interface {
	FindStores(ctx context.Context, items []ShortfallItem, near contracts.Coordinates) ([]StoreOffer, error)
}

// JobSource is the read-only list of pending jobs.
type JobSource interface {
	JobsByID(ctx context.Context, jobIDs []string) ([]contracts.Job, error)
}

// PreferenceSource supplies a user's scheduling preferences.
type PreferenceSource interface {
	PreferencesFor(ctx context.Context, userID string) (contracts.PlanningPreferences, error)
}

// StockSource supplies current on-hand stock levels by item id.
type StockSource interface {
	OnHand(ctx context.Context, userID string) (map[string]int, error)
}
