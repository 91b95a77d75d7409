// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/fieldops/storealert/internal/models"
)

// Storage defines the interface for alert engine persistence
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Incident operations
	SaveIncident(ctx context.Context, incident *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	GetActiveIncident(ctx context.Context, storeID, ruleID string) (*models.Incident, error)
	UpdateIncident(ctx context.Context, incident *models.Incident) error
	GetIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error)
	GetIncidentCount(ctx context.Context, filter models.IncidentFilter) (int64, error)
	GetIncidentStats(ctx context.Context, storeID string) (*models.IncidentStats, error)

	// Notification group operations
	SaveGroup(ctx context.Context, group *models.NotificationGroup) error
	GetGroupByDedupKey(ctx context.Context, dedupKey string) (*models.NotificationGroup, error)
	UpdateGroup(ctx context.Context, group *models.NotificationGroup) error
	GetOpenGroups(ctx context.Context) ([]*models.NotificationGroup, error)

	// Notification operations
	SaveNotification(ctx context.Context, notification *models.Notification) error
	GetNotifications(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int64, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error

	// Directory operations (reference data for stores, rules, recipients)
	SaveStore(ctx context.Context, store *models.Store) error
	GetStore(ctx context.Context, id string) (*models.Store, error)
	SaveRule(ctx context.Context, rule *models.Rule) error
	GetRule(ctx context.Context, id string) (*models.Rule, error)
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindActiveManager(ctx context.Context, department string) (*models.User, error)

	// Statistics and monitoring
	GetHealth() *StorageHealth
	GetStats(ctx context.Context) (*StorageStats, error)
}

// StorageHealth reports backend health
type StorageHealth struct {
	StorageType string            `json:"storage_type"`
	Healthy     bool              `json:"healthy"`
	Details     map[string]string `json:"details,omitempty"`
	LastPing    time.Time         `json:"last_ping"`
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalIncidents     int64 `json:"total_incidents"`
	ActiveIncidents    int64 `json:"active_incidents"`
	TotalGroups        int64 `json:"total_groups"`
	OpenGroups         int64 `json:"open_groups"`
	TotalNotifications int64 `json:"total_notifications"`
	UnreadNotifications int64 `json:"unread_notifications"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
