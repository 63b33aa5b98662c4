package contracts

// PriorityLevel is the customer-facing urgency of a job.
type PriorityLevel string

const (
	PriorityUrgent PriorityLevel = "urgent"
	PriorityHigh   PriorityLevel = "high"
	PriorityMedium PriorityLevel = "medium"
	PriorityLow    PriorityLevel = "low"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PartRequirement is one line of a job's required-parts list.
type PartRequirement struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Job is an external input to the workflow, read-only to this core.
type Job struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Type            string            `json:"type"`
	Priority        PriorityLevel     `json:"priority"`
	CustomerID      string            `json:"customer_id"`
	Location        Coordinates       `json:"location"`
	DurationMinutes int               `json:"duration_minutes"`
	RequiredParts   []PartRequirement `json:"required_parts,omitempty"`
}

// PlanningPreferences are the user's scheduling preferences, supplied by the
// external preferences source (or a YAML profile).
type PlanningPreferences struct {
	WorkStart  string `json:"work_start" yaml:"work_start"`   // "08:00"
	WorkEnd    string `json:"work_end" yaml:"work_end"`       // "17:00"
	LunchStart string `json:"lunch_start" yaml:"lunch_start"` // "12:00"
	LunchEnd   string `json:"lunch_end" yaml:"lunch_end"`     // "13:00"

	BufferMinutes int `json:"buffer_minutes" yaml:"buffer_minutes"`
	JobGapMinutes int `json:"job_gap_minutes" yaml:"job_gap_minutes"`

	EmergencyJobTypes []string `json:"emergency_job_types" yaml:"emergency_job_types"`
	VIPCustomerIDs    []string `json:"vip_customer_ids" yaml:"vip_customer_ids"`

	HomeBase          Coordinates `json:"home_base" yaml:"home_base"`
	LowStockThreshold int         `json:"low_stock_threshold" yaml:"low_stock_threshold"`
}
