package models

import (
	"time"
)

// IncidentStatus defines the lifecycle state of an incident
type IncidentStatus string

const (
	IncidentStatusOpen   IncidentStatus = "OPEN"
	IncidentStatusAck    IncidentStatus = "ACK"
	IncidentStatusClosed IncidentStatus = "CLOSED"
)

// Active reports whether the status still counts toward the
// one-active-incident-per-(store,rule) dedup contract.
func (s IncidentStatus) Active() bool {
	return s == IncidentStatusOpen || s == IncidentStatusAck
}

// Incident is the deduplicated, accumulating record of one continuously-true
// (store, rule) condition. At most one OPEN/ACK incident exists per pair.
type Incident struct {
	ID                string         `json:"id" db:"id"`
	RuleID            string         `json:"rule_id" db:"rule_id"`
	StoreID           string         `json:"store_id" db:"store_id"`
	EventType         string         `json:"event_type" db:"event_type"`
	Severity          string         `json:"severity" db:"severity"`
	Summary           string         `json:"summary" db:"summary"`
	Status            IncidentStatus `json:"status" db:"status"`
	RelatedEntityType *string        `json:"related_entity_type,omitempty" db:"related_entity_type"`
	RelatedEntityID   *string        `json:"related_entity_id,omitempty" db:"related_entity_id"`
	AssignedToUserID  *string        `json:"assigned_to_user_id,omitempty" db:"assigned_to_user_id"`
	FirstOccurredAt   time.Time      `json:"first_occurred_at" db:"first_occurred_at"`
	LastOccurrenceAt  time.Time      `json:"last_occurrence_at" db:"last_occurrence_at"`
	OccurrenceCount   int64          `json:"occurrence_count" db:"occurrence_count"`
	LastNotifiedAt    *time.Time     `json:"last_notified_at,omitempty" db:"last_notified_at"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// Accumulate records one more occurrence. lastOccurrenceAt is a high-water
// mark: an out-of-order occurredAt still counts but never moves it backward.
func (i *Incident) Accumulate(occurredAt time.Time) {
	if occurredAt.After(i.LastOccurrenceAt) {
		i.LastOccurrenceAt = occurredAt
	}
	i.OccurrenceCount++
}

// IncidentFilter for querying incidents
type IncidentFilter struct {
	StoreID  *string         `json:"store_id,omitempty"`
	RuleID   *string         `json:"rule_id,omitempty"`
	Status   *IncidentStatus `json:"status,omitempty"`
	Severity *string         `json:"severity,omitempty"`
	Since    *time.Time      `json:"since,omitempty"`
	Until    *time.Time      `json:"until,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// IncidentStats provides per-store incident counts for dashboard consumers
type IncidentStats struct {
	StoreID string                   `json:"store_id,omitempty"`
	Total   int64                    `json:"total"`
	ByState map[IncidentStatus]int64 `json:"by_state"`
}
