// Package models contains domain types for bookpulse-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditOperation represents the raw mutation applied to an entity.
const (
	AuditOperationCreate = "create"
	AuditOperationUpdate = "update"
	AuditOperationDelete = "delete"
)

// ChangeKind classifies what a mutation meant, inferred from the before/after
// snapshots rather than taken from the caller.
type ChangeKind string

const (
	ChangeKindCreated      ChangeKind = "created"
	ChangeKindDeleted      ChangeKind = "deleted"
	ChangeKindStatusChange ChangeKind = "status_change"
	ChangeKindUpdated      ChangeKind = "updated"
)

// EntityState is a structured snapshot of an entity before or after a mutation.
// A nil state means the entity did not exist on that side of the change.
type EntityState map[string]any

// AuditRecord is one immutable entry in the audit trail. Records are only
// ever written by the ingestion path and removed by the retention jobs;
// nothing updates them in place.
// Stored in the audit_records table, partitioned by month.
type AuditRecord struct {
	ID         uuid.UUID `json:"id"`
	CompanyID  uuid.UUID `json:"company_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	TableName  string    `json:"table_name"` // owning table, derived from EntityType
	Operation  string    `json:"operation"`  // 'create', 'update', 'delete'
	ChangeKind ChangeKind `json:"change_kind"`

	BeforeState   EntityState `json:"before_state,omitempty"`
	AfterState    EntityState `json:"after_state,omitempty"`
	ChangedFields []string    `json:"changed_fields,omitempty"`

	// Who/how
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	AppSource string     `json:"app_source,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// ImpactScore weights the change for reporting. Base 10, boosted for
	// creates, deletes, status changes and high-impact states, capped at 100.
	ImpactScore int `json:"impact_score"`

	// Calendar decomposition of OccurredAt, denormalized so aggregation
	// queries can prune partitions without date arithmetic.
	Calendar CalendarParts `json:"calendar"`

	OccurredAt time.Time `json:"occurred_at"`
}

// CalendarParts is the calendar decomposition of an event timestamp.
type CalendarParts struct {
	Year      int `json:"year"`
	Month     int `json:"month"`
	Day       int `json:"day"`
	DayOfWeek int `json:"day_of_week"` // 0 = Sunday, matching time.Weekday
	ISOWeek   int `json:"iso_week"`
	Quarter   int `json:"quarter"`
	Hour      int `json:"hour"`
}

// DecomposeTimestamp splits a timestamp into its calendar parts.
func DecomposeTimestamp(t time.Time) CalendarParts {
	_, isoWeek := t.ISOWeek()
	return CalendarParts{
		Year:      t.Year(),
		Month:     int(t.Month()),
		Day:       t.Day(),
		DayOfWeek: int(t.Weekday()),
		ISOWeek:   isoWeek,
		Quarter:   (int(t.Month())-1)/3 + 1,
		Hour:      t.Hour(),
	}
}

// AuditContext carries actor and request information into the ingestion path.
// CompanyID is required; everything else is optional.
type AuditContext struct {
	CompanyID uuid.UUID
	UserID    *uuid.UUID
	SessionID string
	AppSource string
	IPAddress string
	Endpoint  string
	UserAgent string
}
