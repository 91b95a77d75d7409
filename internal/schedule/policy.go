// Package schedule maps rule categories to reminder/escalation thresholds.
// Everything here is pure: time is always an explicit parameter.
package schedule

import (
	"strings"
	"time"

	"github.com/fieldops/storealert/internal/models"
)

// NeverDays is the sentinel threshold for categories with no escalation
// policy. Large enough that no realistic elapsed-days value reaches it,
// small enough that comparisons cannot overflow.
const NeverDays = 1 << 30

// Known rule families. Matching is case-insensitive substring containment.
const (
	FamilyPOS = "POS"
	FamilyQSC = "QSC"
)

// Thresholds returns (remindDays, escalationDays) for a rule category.
// POS-family rules remind after 7 days and escalate after 14; QSC-family
// rules after 3 and 7. Unrecognized categories (including empty input)
// never trigger automatically.
func Thresholds(eventCategory string) (remindDays, escalationDays int) {
	c := strings.ToUpper(eventCategory)
	switch {
	case strings.Contains(c, FamilyPOS):
		return 7, 14
	case strings.Contains(c, FamilyQSC):
		return 3, 7
	default:
		return NeverDays, NeverDays
	}
}

// Notifiable reports whether the category belongs to a family with a
// defined escalation policy. Signals outside these families are recorded
// but produce no notifications, which keeps operational-only event
// families from generating notification storms.
func Notifiable(eventCategory string) bool {
	remind, _ := Thresholds(eventCategory)
	return remind != NeverDays
}

// RuleThresholds resolves the effective thresholds for a rule: positive
// rule-level values override the category defaults, otherwise the static
// family table applies.
func RuleThresholds(rule *models.Rule) (remindDays, escalationDays int) {
	remindDays, escalationDays = Thresholds(rule.EventCategory)
	if rule.ReminderDays > 0 {
		remindDays = rule.ReminderDays
	}
	if rule.EscalationDays > 0 {
		escalationDays = rule.EscalationDays
	}
	return remindDays, escalationDays
}

// PersistedDays returns the whole days elapsed between firstOccurredAt and
// now, floored. Never negative: a now before firstOccurredAt counts as 0,
// which keeps the result monotonic in now.
func PersistedDays(firstOccurredAt, now time.Time) int {
	d := now.Sub(firstOccurredAt)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// SameCalendarDay reports whether a and b fall on the same calendar day in
// the given location. Used by the sweep's once-per-day idempotency guard.
func SameCalendarDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
