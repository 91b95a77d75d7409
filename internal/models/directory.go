package models

import (
	"time"
)

// Store describes the affected store, as resolved by the caller
type Store struct {
	ID               string    `json:"id" db:"id"`
	DisplayName      string    `json:"display_name" db:"display_name"`
	SupervisorUserID string    `json:"supervisor_user_id" db:"supervisor_user_id"`
	Department       string    `json:"department" db:"department"` // department of the supervisor
	Active           bool      `json:"active" db:"active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Rule describes the classification rule that tripped. EventCategory drives
// the notification schedule ("POS"/"QSC" families); ReminderDays and
// EscalationDays, when positive, override the category defaults.
type Rule struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	EventCategory  string    `json:"event_category" db:"event_category"`
	ReminderDays   int       `json:"reminder_days" db:"reminder_days"`
	EscalationDays int       `json:"escalation_days" db:"escalation_days"`
	Active         bool      `json:"active" db:"active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// User is a notification recipient
type User struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Department string    `json:"department" db:"department"`
	Role       string    `json:"role" db:"role"`
	Active     bool      `json:"active" db:"active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

const RoleManager = "manager"
