package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// System event types emitted by the engine.
const (
	SystemEventEntityChanged         = "ENTITY_CHANGED"
	SystemEventKPIThresholdReached   = "KPI_THRESHOLD_REACHED"
	SystemEventMonthlyActivityReport = "MONTHLY_ACTIVITY_REPORT"
)

// SystemEventSeverity grades a system event for downstream alerting.
type SystemEventSeverity string

const (
	SeverityInfo     SystemEventSeverity = "info"
	SeverityWarning  SystemEventSeverity = "warning"
	SeverityCritical SystemEventSeverity = "critical"
)

// SystemEvent is a lightweight notification written alongside audit records
// and consumed by downstream alerting. The aggregation paths never query it.
type SystemEvent struct {
	ID        uuid.UUID           `json:"id"`
	CompanyID uuid.UUID           `json:"company_id"`
	EventType string              `json:"event_type"`
	Severity  SystemEventSeverity `json:"severity"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
	Processed bool                `json:"processed"`
	CreatedAt time.Time           `json:"created_at"`
}
