package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fieldops/storealert/internal/models"
)

func TestThresholds(t *testing.T) {
	tests := []struct {
		name           string
		category       string
		wantRemind     int
		wantEscalation int
	}{
		{"pos family", "POS", 7, 14},
		{"pos family lowercase", "pos", 7, 14},
		{"pos family substring", "pos-sales-daily", 7, 14},
		{"qsc family", "QSC", 3, 7},
		{"qsc family substring", "store-qsc-audit", 3, 7},
		{"unknown category", "inventory", NeverDays, NeverDays},
		{"empty category", "", NeverDays, NeverDays},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remind, escalation := Thresholds(tt.category)
			assert.Equal(t, tt.wantRemind, remind)
			assert.Equal(t, tt.wantEscalation, escalation)
		})
	}
}

func TestNotifiable(t *testing.T) {
	assert.True(t, Notifiable("POS"))
	assert.True(t, Notifiable("qsc-weekly"))
	assert.False(t, Notifiable("inventory"))
	assert.False(t, Notifiable(""))
}

func TestRuleThresholds(t *testing.T) {
	// Category defaults when the rule carries no override
	rule := &models.Rule{EventCategory: "POS"}
	remind, escalation := RuleThresholds(rule)
	assert.Equal(t, 7, remind)
	assert.Equal(t, 14, escalation)

	// Positive rule-level values win over the family table
	rule = &models.Rule{EventCategory: "POS", ReminderDays: 2, EscalationDays: 5}
	remind, escalation = RuleThresholds(rule)
	assert.Equal(t, 2, remind)
	assert.Equal(t, 5, escalation)

	// Partial override keeps the other default
	rule = &models.Rule{EventCategory: "QSC", EscalationDays: 10}
	remind, escalation = RuleThresholds(rule)
	assert.Equal(t, 3, remind)
	assert.Equal(t, 10, escalation)

	// Overrides on an unrecognized category still apply
	rule = &models.Rule{EventCategory: "inventory", ReminderDays: 1, EscalationDays: 2}
	remind, escalation = RuleThresholds(rule)
	assert.Equal(t, 1, remind)
	assert.Equal(t, 2, escalation)
}

func TestPersistedDays(t *testing.T) {
	first := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, PersistedDays(first, first))
	assert.Equal(t, 0, PersistedDays(first, first.Add(23*time.Hour)))
	assert.Equal(t, 1, PersistedDays(first, first.Add(24*time.Hour)))
	assert.Equal(t, 1, PersistedDays(first, first.Add(47*time.Hour)))
	assert.Equal(t, 7, PersistedDays(first, first.AddDate(0, 0, 7)))

	// now before firstOccurredAt clamps to 0 instead of going negative
	assert.Equal(t, 0, PersistedDays(first, first.Add(-48*time.Hour)))
}

func TestPersistedDaysMonotonic(t *testing.T) {
	first := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	prev := -1
	for h := 0; h <= 24*20; h += 6 {
		days := PersistedDays(first, first.Add(time.Duration(h)*time.Hour))
		assert.GreaterOrEqual(t, days, prev)
		prev = days
	}
}

func TestSameCalendarDay(t *testing.T) {
	loc := time.UTC
	a := time.Date(2025, 3, 1, 0, 30, 0, 0, loc)
	b := time.Date(2025, 3, 1, 23, 45, 0, 0, loc)
	c := time.Date(2025, 3, 2, 0, 5, 0, 0, loc)

	assert.True(t, SameCalendarDay(a, b, loc))
	assert.False(t, SameCalendarDay(b, c, loc))
}
