package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/storealert/internal/models"
	"github.com/fieldops/storealert/pkg/utils"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) Storage {
	t.Helper()

	cfg := &StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "alerts.db"),
		MaxConnections:   2,
		MaxIdleTime:      time.Minute,
	}

	store, err := NewStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return store
}

func makeIncident(id, storeID, ruleID string, status models.IncidentStatus) *models.Incident {
	return &models.Incident{
		ID:               id,
		RuleID:           ruleID,
		StoreID:          storeID,
		EventType:        "audit.finding",
		Severity:         "high",
		Summary:          "Cooler temperature out of range",
		Status:           status,
		FirstOccurredAt:  baseTime,
		LastOccurrenceAt: baseTime,
		OccurrenceCount:  1,
		CreatedAt:        baseTime,
		UpdatedAt:        baseTime,
	}
}

func makeGroup(id, dedupKey string) *models.NotificationGroup {
	return &models.NotificationGroup{
		ID:               id,
		DedupKey:         dedupKey,
		RecipientUserID:  "user-1",
		StoreID:          "store-1",
		RuleID:           "rule-1",
		Status:           models.IncidentStatusOpen,
		EscalationStep:   models.EscalationStepNone,
		FirstOccurredAt:  baseTime,
		LastOccurrenceAt: baseTime,
		OccurrenceCount:  1,
		CreatedAt:        baseTime,
		UpdatedAt:        baseTime,
	}
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := NewStorage(&StorageConfig{Type: "mongodb", ConnectionString: "x"})
	assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))

	err = ValidateStorageConfig(&StorageConfig{Type: "sqlite", ConnectionString: "x", MaxConnections: 5})
	assert.NoError(t, err)

	err = ValidateStorageConfig(&StorageConfig{Type: "sqlite", MaxConnections: 5})
	assert.Error(t, err)
}

func TestActiveIncidentUniqueness(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveIncident(ctx, makeIncident("inc-1", "store-1", "rule-1", models.IncidentStatusOpen)))

	// A second active incident for the same pair violates the partial
	// unique index and surfaces as a conflict.
	err := store.SaveIncident(ctx, makeIncident("inc-2", "store-1", "rule-1", models.IncidentStatusOpen))
	assert.True(t, utils.HasCode(err, utils.ErrCodeConflict))

	// A different pair is unaffected.
	require.NoError(t, store.SaveIncident(ctx, makeIncident("inc-3", "store-2", "rule-1", models.IncidentStatusOpen)))

	active, err := store.GetActiveIncident(ctx, "store-1", "rule-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "inc-1", active.ID)
}

func TestClosedIncidentFreesThePair(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	incident := makeIncident("inc-1", "store-1", "rule-1", models.IncidentStatusOpen)
	require.NoError(t, store.SaveIncident(ctx, incident))

	incident.Status = models.IncidentStatusClosed
	require.NoError(t, store.UpdateIncident(ctx, incident))

	active, err := store.GetActiveIncident(ctx, "store-1", "rule-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	// The pair is free again for a new active incident.
	require.NoError(t, store.SaveIncident(ctx, makeIncident("inc-2", "store-1", "rule-1", models.IncidentStatusOpen)))
}

func TestAckStillCountsAsActive(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	incident := makeIncident("inc-1", "store-1", "rule-1", models.IncidentStatusOpen)
	require.NoError(t, store.SaveIncident(ctx, incident))

	incident.Status = models.IncidentStatusAck
	require.NoError(t, store.UpdateIncident(ctx, incident))

	active, err := store.GetActiveIncident(ctx, "store-1", "rule-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.IncidentStatusAck, active.Status)

	err = store.SaveIncident(ctx, makeIncident("inc-2", "store-1", "rule-1", models.IncidentStatusOpen))
	assert.True(t, utils.HasCode(err, utils.ErrCodeConflict))
}

func TestIncidentFiltersAndStats(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveIncident(ctx, makeIncident("inc-1", "store-1", "rule-1", models.IncidentStatusOpen)))
	require.NoError(t, store.SaveIncident(ctx, makeIncident("inc-2", "store-1", "rule-2", models.IncidentStatusClosed)))
	require.NoError(t, store.SaveIncident(ctx, makeIncident("inc-3", "store-2", "rule-1", models.IncidentStatusOpen)))

	storeID := "store-1"
	incidents, err := store.GetIncidents(ctx, models.IncidentFilter{StoreID: &storeID})
	require.NoError(t, err)
	assert.Len(t, incidents, 2)

	status := models.IncidentStatusOpen
	count, err := store.GetIncidentCount(ctx, models.IncidentFilter{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	stats, err := store.GetIncidentStats(ctx, "store-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByState[models.IncidentStatusOpen])
	assert.Equal(t, int64(1), stats.ByState[models.IncidentStatusClosed])
}

func TestGroupDedupKeyUniqueness(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	dedupKey := utils.DedupKey("store-1", "rule-1", "user-1")
	require.NoError(t, store.SaveGroup(ctx, makeGroup("grp-1", dedupKey)))

	err := store.SaveGroup(ctx, makeGroup("grp-2", dedupKey))
	assert.True(t, utils.HasCode(err, utils.ErrCodeConflict))

	group, err := store.GetGroupByDedupKey(ctx, dedupKey)
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, "grp-1", group.ID)

	missing, err := store.GetGroupByDedupKey(ctx, "no:such:key")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGroupUpdateAndOpenListing(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	older := makeGroup("grp-1", "a:b:c")
	require.NoError(t, store.SaveGroup(ctx, older))

	newer := makeGroup("grp-2", "a:b:d")
	newer.FirstOccurredAt = baseTime.Add(48 * time.Hour)
	require.NoError(t, store.SaveGroup(ctx, newer))

	older.EscalationStep = models.EscalationStepReminded
	notified := baseTime.Add(3 * 24 * time.Hour)
	older.LastNotifiedAt = &notified
	require.NoError(t, store.UpdateGroup(ctx, older))

	open, err := store.GetOpenGroups(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "grp-1", open[0].ID, "oldest first")
	assert.Equal(t, models.EscalationStepReminded, open[0].EscalationStep)
	require.NotNil(t, open[0].LastNotifiedAt)

	// A closed group disappears from the sweep's work list.
	newer.Status = models.IncidentStatusClosed
	require.NoError(t, store.UpdateGroup(ctx, newer))

	open, err = store.GetOpenGroups(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "grp-1", open[0].ID)
}

func TestNotificationInbox(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveGroup(ctx, makeGroup("grp-1", "a:b:c")))

	save := func(id string, kind models.NotificationKind, at time.Time) {
		require.NoError(t, store.SaveNotification(ctx, &models.Notification{
			ID:        id,
			GroupID:   "grp-1",
			UserID:    "user-1",
			Kind:      kind,
			Title:     "Downtown 12 - Cooler check",
			Body:      "Cooler temperature out of range",
			CreatedAt: at,
		}))
	}
	save("ntf-1", models.NotificationKindInitial, baseTime)
	save("ntf-2", models.NotificationKindRemind, baseTime.Add(3*24*time.Hour))
	save("ntf-3", models.NotificationKindEscalation, baseTime.Add(7*24*time.Hour))

	userID := "user-1"
	inbox, err := store.GetNotifications(ctx, models.NotificationFilter{UserID: &userID})
	require.NoError(t, err)
	require.Len(t, inbox, 3)
	assert.Equal(t, "ntf-3", inbox[0].ID, "newest first")

	kind := models.NotificationKindRemind
	reminders, err := store.GetNotifications(ctx, models.NotificationFilter{UserID: &userID, Kind: &kind})
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, "ntf-2", reminders[0].ID)

	unread, err := store.CountUnreadNotifications(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	readAt := baseTime.Add(8 * 24 * time.Hour)
	require.NoError(t, store.MarkNotificationRead(ctx, "ntf-1", readAt))

	unread, err = store.CountUnreadNotifications(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	unreadOnly, err := store.GetNotifications(ctx, models.NotificationFilter{UserID: &userID, UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unreadOnly, 2)

	err = store.MarkNotificationRead(ctx, "no-such-id", readAt)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))
}

func TestDirectoryRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveStore(ctx, &models.Store{
		ID: "store-1", DisplayName: "Downtown 12", SupervisorUserID: "user-1",
		Department: "north", Active: true, CreatedAt: baseTime, UpdatedAt: baseTime,
	}))
	require.NoError(t, store.SaveRule(ctx, &models.Rule{
		ID: "rule-1", Name: "Cooler check", EventCategory: "QSC",
		Active: true, CreatedAt: baseTime, UpdatedAt: baseTime,
	}))

	got, err := store.GetStore(ctx, "store-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Downtown 12", got.DisplayName)

	// Saving again with the same id replaces the record.
	require.NoError(t, store.SaveRule(ctx, &models.Rule{
		ID: "rule-1", Name: "Cooler check", EventCategory: "QSC",
		ReminderDays: 2, Active: true, CreatedAt: baseTime, UpdatedAt: baseTime.Add(time.Hour),
	}))
	rule, err := store.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rule.ReminderDays)

	missing, err := store.GetRule(ctx, "rule-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindActiveManager(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	saveUser := func(id, dept, role string, active bool, createdAt time.Time) {
		require.NoError(t, store.SaveUser(ctx, &models.User{
			ID: id, Name: id, Department: dept, Role: role, Active: active,
			CreatedAt: createdAt, UpdatedAt: createdAt,
		}))
	}

	saveUser("sup-1", "north", "supervisor", true, baseTime)
	saveUser("mgr-inactive", "north", models.RoleManager, false, baseTime)
	saveUser("mgr-late", "north", models.RoleManager, true, baseTime.Add(time.Hour))
	saveUser("mgr-early", "north", models.RoleManager, true, baseTime.Add(-time.Hour))
	saveUser("mgr-south", "south", models.RoleManager, true, baseTime)

	manager, err := store.FindActiveManager(ctx, "north")
	require.NoError(t, err)
	require.NotNil(t, manager)
	assert.Equal(t, "mgr-early", manager.ID, "earliest active manager wins")

	none, err := store.FindActiveManager(ctx, "west")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStorageStats(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveIncident(ctx, makeIncident("inc-1", "store-1", "rule-1", models.IncidentStatusOpen)))
	require.NoError(t, store.SaveIncident(ctx, makeIncident("inc-2", "store-1", "rule-2", models.IncidentStatusClosed)))
	require.NoError(t, store.SaveGroup(ctx, makeGroup("grp-1", "a:b:c")))
	require.NoError(t, store.SaveNotification(ctx, &models.Notification{
		ID: "ntf-1", GroupID: "grp-1", UserID: "user-1",
		Kind: models.NotificationKindInitial, Title: "t", Body: "b", CreatedAt: baseTime,
	}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalIncidents)
	assert.Equal(t, int64(1), stats.ActiveIncidents)
	assert.Equal(t, int64(1), stats.TotalGroups)
	assert.Equal(t, int64(1), stats.OpenGroups)
	assert.Equal(t, int64(1), stats.TotalNotifications)
	assert.Equal(t, int64(1), stats.UnreadNotifications)

	health := store.GetHealth()
	assert.True(t, health.Healthy)
	assert.Equal(t, "SQLite", health.StorageType)
}
