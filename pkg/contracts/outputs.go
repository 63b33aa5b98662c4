package contracts

// JobClass is the dispatch classification of a job.
type JobClass string

const (
	ClassEmergency   JobClass = "emergency"
	ClassDemand      JobClass = "demand"
	ClassMaintenance JobClass = "maintenance"
)

// ScheduledJob is one dispatched job with its rank and time slot.
type ScheduledJob struct {
	JobID          string   `json:"job_id"`
	PriorityRank   int      `json:"priority_rank"` // 1..N', contiguous, no gaps
	Classification JobClass `json:"classification"`
	PriorityScore  int      `json:"priority_score"`
	StartTime      string   `json:"start_time"` // "15:04"
	EndTime        string   `json:"end_time"`
	BufferMinutes  int      `json:"buffer_minutes"`
	Reason         string   `json:"reason"`
}

// SchedulingConstraints records the constraints the dispatch stage actually
// used, so a reloaded plan can be audited without the original preferences.
type SchedulingConstraints struct {
	WorkStart     string `json:"work_start"`
	WorkEnd       string `json:"work_end"`
	LunchStart    string `json:"lunch_start"`
	LunchEnd      string `json:"lunch_end"`
	BufferMinutes int    `json:"buffer_minutes"`
	JobGapMinutes int    `json:"job_gap_minutes"`
}

// DispatchOutput is the dispatch stage's result.
type DispatchOutput struct {
	Jobs []ScheduledJob `json:"jobs"`
	// UnscheduledJobIDs lists jobs that did not fit the work window. They are
	// excluded from the schedule, never half-placed.
	UnscheduledJobIDs []string              `json:"unscheduled_job_ids,omitempty"`
	Constraints       SchedulingConstraints `json:"constraints"`
	ClassCounts       map[JobClass]int      `json:"class_counts"`
	Narrative         string                `json:"narrative"`
}

// Waypoint is one stop on the computed route.
type Waypoint struct {
	JobID               string      `json:"job_id"`
	Sequence            int         `json:"sequence"`
	Location            Coordinates `json:"location"`
	Arrival             string      `json:"arrival"` // "15:04"
	Departure           string      `json:"departure"`
	TravelTimeToNextMin int         `json:"travel_time_to_next_min"`
	DistanceToNextKm    float64     `json:"distance_to_next_km"`
}

// RouteOutput is the route stage's result. Waypoint order is the solver's
// order; it is not guaranteed to follow dispatch priority rank.
type RouteOutput struct {
	Waypoints          []Waypoint `json:"waypoints"`
	TotalDistanceKm    float64    `json:"total_distance_km"`
	TotalTravelTimeMin int        `json:"total_travel_time_min"`
	TotalDurationMin   int        `json:"total_duration_min"`
}

// ManifestLine is one required part for one job, annotated with stock.
type ManifestLine struct {
	JobID     string `json:"job_id"`
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Needed    int    `json:"needed"`
	Available int    `json:"available"`
}

// SupplierStore identifies a resolved store for a shopping run.
type SupplierStore struct {
	Name       string      `json:"name"`
	Address    string      `json:"address,omitempty"`
	Location   Coordinates `json:"location"`
	DistanceKm float64     `json:"distance_km"`
}

// ShoppingItem is one shortfall line on the shopping list. Store and
// UnitPrice are unset when the supplier lookup failed or had no stock.
type ShoppingItem struct {
	ItemID    string         `json:"item_id"`
	Name      string         `json:"name"`
	Quantity  int            `json:"quantity"`
	Priority  string         `json:"priority"` // "urgent" when an emergency/demand job needs it
	Store     *SupplierStore `json:"store,omitempty"`
	UnitPrice float64        `json:"unit_price,omitempty"`
}

// HardwareStoreJob is a synthesized supply-run pseudo-job the client may
// insert into the plan for display.
type HardwareStoreJob struct {
	Store           SupplierStore `json:"store"`
	DurationMinutes int           `json:"duration_minutes"`
	ItemIDs         []string      `json:"item_ids"`
}

// Shopping-list priorities.
const (
	ShoppingPriorityUrgent = "urgent"
	ShoppingPriorityNormal = "normal"
)

// InventoryAlert flags a stock problem the user should see.
type InventoryAlert struct {
	ItemID  string `json:"item_id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Inventory alert kinds.
const (
	AlertLowStock            = "low_stock"
	AlertOutOfStock          = "out_of_stock"
	AlertSupplierUnavailable = "supplier_unavailable"
)

// InventoryOutput is the inventory stage's result.
type InventoryOutput struct {
	PartsManifest    []ManifestLine    `json:"parts_manifest"`
	ShoppingList     []ShoppingItem    `json:"shopping_list"`
	HardwareStoreJob *HardwareStoreJob `json:"hardware_store_job,omitempty"`
	Alerts           []InventoryAlert  `json:"alerts,omitempty"`
}
