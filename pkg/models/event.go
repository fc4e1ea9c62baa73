package models

import "time"

// LeakEvent is one (AS, day) route leak handed to the output sinks.
type LeakEvent struct {
	RunID         string                 `json:"run_id"`
	CountryCode   string                 `json:"country_code,omitempty"`
	EventType     string                 `json:"event_type"` // always "leak" for now
	Severity      string                 `json:"severity"`   // low, medium, high, critical
	EventCategory string                 `json:"event_category"`
	AffectedASN   uint32                 `json:"affected_asn"`
	LeakDay       int                    `json:"leak_day"`
	LeakDate      string                 `json:"leak_date,omitempty"` // YYYY-MM-DD, empty when no start date is known
	Details       map[string]interface{} `json:"details,omitempty"`
	DetectedAt    time.Time              `json:"detected_at"`
}

// Severity levels
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Event types
const (
	EventTypeLeak = "leak"
)

// Event categories
const (
	CategoryMisconfiguration = "misconfiguration"
)
