package models

import (
	"time"
)

// NotificationKind defines the tier of a notification record
type NotificationKind string

const (
	NotificationKindInitial    NotificationKind = "INITIAL"
	NotificationKindRemind     NotificationKind = "REMIND"
	NotificationKindEscalation NotificationKind = "ESCALATION"
)

// Notification is an immutable, append-only message produced by the engine
// for a downstream delivery mechanism. Only the read flag mutates, and only
// through a read-acknowledgement outside the engine.
type Notification struct {
	ID         string           `json:"id" db:"id"`
	GroupID    string           `json:"group_id" db:"group_id"`
	IncidentID *string          `json:"incident_id,omitempty" db:"incident_id"`
	UserID     string           `json:"user_id" db:"user_id"`
	Kind       NotificationKind `json:"kind" db:"kind"`
	Title      string           `json:"title" db:"title"`
	Body       string           `json:"body" db:"body"`
	IsRead     bool             `json:"is_read" db:"is_read"`
	ReadAt     *time.Time       `json:"read_at,omitempty" db:"read_at"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

// NotificationFilter for querying a recipient's inbox
type NotificationFilter struct {
	UserID     *string           `json:"user_id,omitempty"`
	Kind       *NotificationKind `json:"kind,omitempty"`
	UnreadOnly bool              `json:"unread_only,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}
