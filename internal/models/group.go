package models

import (
	"time"
)

// Escalation steps for a notification group. The step only moves forward.
const (
	EscalationStepNone     = 0 // nothing sent beyond the initial alert
	EscalationStepReminded = 1 // reminder sent
	EscalationStepManager  = 2 // escalation sent, sequence exhausted
)

// NotificationGroup tracks escalation progress for one
// (store, rule, recipient) triple, independent of individual messages.
// Groups are created lazily on the first notification-worthy signal and
// never deleted.
type NotificationGroup struct {
	ID               string         `json:"id" db:"id"`
	DedupKey         string         `json:"dedup_key" db:"dedup_key"`
	RecipientUserID  string         `json:"recipient_user_id" db:"recipient_user_id"`
	StoreID          string         `json:"store_id" db:"store_id"`
	RuleID           string         `json:"rule_id" db:"rule_id"`
	Status           IncidentStatus `json:"status" db:"status"`
	EscalationStep   int            `json:"escalation_step" db:"escalation_step"`
	FirstOccurredAt  time.Time      `json:"first_occurred_at" db:"first_occurred_at"`
	LastOccurrenceAt time.Time      `json:"last_occurrence_at" db:"last_occurrence_at"`
	LastNotifiedAt   *time.Time     `json:"last_notified_at,omitempty" db:"last_notified_at"`
	OccurrenceCount  int64          `json:"occurrence_count" db:"occurrence_count"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// Accumulate records one more occurrence on the group. firstOccurredAt is
// fixed at creation; only the high-water lastOccurrenceAt moves.
func (g *NotificationGroup) Accumulate(occurredAt time.Time) {
	if occurredAt.After(g.LastOccurrenceAt) {
		g.LastOccurrenceAt = occurredAt
	}
	g.OccurrenceCount++
}

// AdvanceEscalation moves the escalation step forward. The step is
// monotone: attempts to move it backward are ignored.
func (g *NotificationGroup) AdvanceEscalation(step int) {
	if step > g.EscalationStep {
		g.EscalationStep = step
	}
}

// MarkNotified records when the group last produced a notification.
func (g *NotificationGroup) MarkNotified(at time.Time) {
	t := at
	g.LastNotifiedAt = &t
}
