package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/storealert/internal/models"
	"github.com/fieldops/storealert/internal/storage"
	"github.com/fieldops/storealert/pkg/utils"
)

var testBase = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, storage.Storage) {
	t.Helper()

	cfg := &storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "alerts.db"),
		MaxConnections:   2,
		MaxIdleTime:      time.Minute,
	}

	store, err := storage.NewStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return NewEngine(store, nil), store
}

func testStore() *models.Store {
	return &models.Store{
		ID:               "store-001",
		DisplayName:      "Downtown 12",
		SupervisorUserID: "user-sup",
		Department:       "north-region",
		Active:           true,
		CreatedAt:        testBase,
		UpdatedAt:        testBase,
	}
}

func testRule(category string) *models.Rule {
	return &models.Rule{
		ID:            "rule-" + category,
		Name:          category + " check failed",
		EventCategory: category,
		Active:        true,
		CreatedAt:     testBase,
		UpdatedAt:     testBase,
	}
}

func testRecipient() *models.User {
	return &models.User{
		ID:         "user-sup",
		Name:       "Store Supervisor",
		Department: "north-region",
		Role:       "supervisor",
		Active:     true,
		CreatedAt:  testBase,
		UpdatedAt:  testBase,
	}
}

func testManager() *models.User {
	return &models.User{
		ID:         "user-mgr",
		Name:       "Regional Manager",
		Department: "north-region",
		Role:       models.RoleManager,
		Active:     true,
		CreatedAt:  testBase,
		UpdatedAt:  testBase,
	}
}

func signalAt(at time.Time) *UpsertInput {
	return &UpsertInput{
		Store:      testStore(),
		Rule:       testRule("QSC"),
		Recipient:  testRecipient(),
		EventType:  "audit.finding",
		Severity:   "high",
		Summary:    "Walk-in cooler above temperature limit",
		OccurredAt: at,
	}
}

func TestUpsertCreatesIncidentAndInitialNotification(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	result, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	assert.True(t, result.Inserted)
	require.Len(t, result.Notifications, 1)
	assert.Equal(t, models.NotificationKindInitial, result.Notifications[0].Kind)
	assert.Equal(t, "user-sup", result.Notifications[0].UserID)

	incident, err := store.GetIncident(ctx, result.IncidentID)
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, models.IncidentStatusOpen, incident.Status)
	assert.Equal(t, int64(1), incident.OccurrenceCount)
	require.NotNil(t, incident.LastNotifiedAt)
	assert.True(t, incident.LastNotifiedAt.Equal(testBase))

	group, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-sup"))
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, models.EscalationStepNone, group.EscalationStep)
	assert.Equal(t, int64(1), group.OccurrenceCount)
	require.NotNil(t, group.LastNotifiedAt)
}

func TestUpsertDeduplicatesRepeatSignals(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	second, err := eng.Upsert(ctx, signalAt(testBase.Add(2*time.Hour)))
	require.NoError(t, err)

	assert.False(t, second.Inserted)
	assert.Equal(t, first.IncidentID, second.IncidentID)
	assert.Empty(t, second.Notifications, "same-day repeat must not notify again")

	incident, err := store.GetIncident(ctx, first.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), incident.OccurrenceCount)

	userID := "user-sup"
	notifications, err := store.GetNotifications(ctx, models.NotificationFilter{UserID: &userID})
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
}

func TestUpsertOutOfOrderOccurrenceKeepsHighWaterMark(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	// A late-arriving signal from before the first one still counts but
	// must not move lastOccurrenceAt backward.
	_, err = eng.Upsert(ctx, signalAt(testBase.Add(-3*time.Hour)))
	require.NoError(t, err)

	incident, err := store.GetIncident(ctx, first.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), incident.OccurrenceCount)
	assert.True(t, incident.LastOccurrenceAt.Equal(testBase))
}

func TestUpsertReminderAfterThreshold(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	// QSC reminds after 3 persisted days.
	result, err := eng.Upsert(ctx, signalAt(testBase.Add(4*24*time.Hour)))
	require.NoError(t, err)

	require.Len(t, result.Notifications, 1)
	assert.Equal(t, models.NotificationKindRemind, result.Notifications[0].Kind)

	group, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-sup"))
	require.NoError(t, err)
	assert.Equal(t, models.EscalationStepReminded, group.EscalationStep)
}

func TestUpsertReminderBoundaryIsInclusive(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	// One hour short of 3 full days: nothing fires.
	result, err := eng.Upsert(ctx, signalAt(testBase.Add(3*24*time.Hour-time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, result.Notifications)

	// Exactly 3 full days: the reminder fires.
	result, err = eng.Upsert(ctx, signalAt(testBase.Add(3*24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, result.Notifications, 1)
	assert.Equal(t, models.NotificationKindRemind, result.Notifications[0].Kind)
}

func TestUpsertEscalationNotifiesManager(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.SaveUser(ctx, testManager()))

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)
	_, err = eng.Upsert(ctx, signalAt(testBase.Add(4*24*time.Hour)))
	require.NoError(t, err)

	// QSC escalates after 7 persisted days.
	result, err := eng.Upsert(ctx, signalAt(testBase.Add(8*24*time.Hour)))
	require.NoError(t, err)

	require.Len(t, result.Notifications, 2)
	assert.Equal(t, models.NotificationKindEscalation, result.Notifications[0].Kind)
	assert.Equal(t, "user-sup", result.Notifications[0].UserID)
	assert.Equal(t, models.NotificationKindEscalation, result.Notifications[1].Kind)
	assert.Equal(t, "user-mgr", result.Notifications[1].UserID)

	group, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-sup"))
	require.NoError(t, err)
	assert.Equal(t, models.EscalationStepManager, group.EscalationStep)

	// The manager's own group is created already exhausted so the sweep
	// never re-notifies them for this pair.
	managerGroup, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-mgr"))
	require.NoError(t, err)
	require.NotNil(t, managerGroup)
	assert.Equal(t, models.EscalationStepManager, managerGroup.EscalationStep)
}

func TestUpsertEscalationWithoutManager(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	result, err := eng.Upsert(ctx, signalAt(testBase.Add(8*24*time.Hour)))
	require.NoError(t, err)

	// No manager in the department: the recipient still gets the
	// escalation and the step still advances.
	kinds := notificationKinds(result.Notifications)
	assert.Equal(t, []models.NotificationKind{
		models.NotificationKindRemind,
		models.NotificationKindEscalation,
	}, kinds)

	group, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-sup"))
	require.NoError(t, err)
	assert.Equal(t, models.EscalationStepManager, group.EscalationStep)
}

func TestUpsertFiresBothTiersWhenBackfilled(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.SaveUser(ctx, testManager()))

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	// First repeat arrives 10 days later: the group aged past both
	// thresholds, so the reminder and the escalation fire in one call.
	result, err := eng.Upsert(ctx, signalAt(testBase.Add(10*24*time.Hour)))
	require.NoError(t, err)

	kinds := notificationKinds(result.Notifications)
	assert.Equal(t, []models.NotificationKind{
		models.NotificationKindRemind,
		models.NotificationKindEscalation,
		models.NotificationKindEscalation,
	}, kinds)
}

func TestEscalationManagerNotifiedOncePerPair(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.SaveUser(ctx, testManager()))

	// Two supervisors in the same department track the same (store, rule)
	// pair under their own groups.
	first := signalAt(testBase)
	second := signalAt(testBase)
	second.Recipient = testRecipient()
	second.Recipient.ID = "user-sup2"

	_, err := eng.Upsert(ctx, first)
	require.NoError(t, err)
	_, err = eng.Upsert(ctx, second)
	require.NoError(t, err)

	// Both recipients escalate, but the manager's group reaches step 2 on
	// the first escalation and must not be notified again.
	_, err = eng.Upsert(ctx, withOccurredAt(first, testBase.Add(8*24*time.Hour)))
	require.NoError(t, err)
	_, err = eng.Upsert(ctx, withOccurredAt(second, testBase.Add(8*24*time.Hour)))
	require.NoError(t, err)

	managerID := "user-mgr"
	inbox, err := store.GetNotifications(ctx, models.NotificationFilter{UserID: &managerID})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.NotificationKindEscalation, inbox[0].Kind)

	managerGroup, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-mgr"))
	require.NoError(t, err)
	assert.Equal(t, models.EscalationStepManager, managerGroup.EscalationStep)
	assert.Equal(t, int64(2), managerGroup.OccurrenceCount, "second escalation still accumulates the occurrence")
}

func TestUpsertStepIsTerminal(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.SaveUser(ctx, testManager()))

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)
	_, err = eng.Upsert(ctx, signalAt(testBase.Add(10*24*time.Hour)))
	require.NoError(t, err)

	// Long after the sequence is exhausted, repeats accumulate silently.
	result, err := eng.Upsert(ctx, signalAt(testBase.Add(30*24*time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, result.Notifications)

	group, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-sup"))
	require.NoError(t, err)
	assert.Equal(t, models.EscalationStepManager, group.EscalationStep)
}

func TestUpsertUnknownCategoryRecordsOnly(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	input := signalAt(testBase)
	input.Rule = testRule("OPERATIONS")

	result, err := eng.Upsert(ctx, input)
	require.NoError(t, err)
	assert.True(t, result.Inserted)
	assert.Empty(t, result.Notifications)

	group, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-OPERATIONS", "user-sup"))
	require.NoError(t, err)
	assert.Nil(t, group, "non-notifiable rules must not create groups")

	// Even far past any threshold, nothing ever fires.
	result, err = eng.Upsert(ctx, withOccurredAt(input, testBase.Add(60*24*time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, result.Notifications)
}

func TestUpsertNilRecipient(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	input := signalAt(testBase)
	input.Recipient = nil

	result, err := eng.Upsert(ctx, input)
	require.NoError(t, err)
	assert.True(t, result.Inserted)
	assert.Empty(t, result.Notifications)

	incident, err := store.GetIncident(ctx, result.IncidentID)
	require.NoError(t, err)
	assert.Nil(t, incident.AssignedToUserID)
	assert.Nil(t, incident.LastNotifiedAt)
}

func TestUpsertRuleOverridesShortenSchedule(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	input := signalAt(testBase)
	input.Rule = testRule("POS")
	input.Rule.ReminderDays = 1
	input.Rule.EscalationDays = 2

	_, err := eng.Upsert(ctx, input)
	require.NoError(t, err)

	// POS would normally wait 7 days; the override reminds after 1.
	result, err := eng.Upsert(ctx, withOccurredAt(input, testBase.Add(24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, result.Notifications, 1)
	assert.Equal(t, models.NotificationKindRemind, result.Notifications[0].Kind)
}

func TestClosedIncidentAllowsNewActive(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	incident, err := store.GetIncident(ctx, first.IncidentID)
	require.NoError(t, err)
	incident.Status = models.IncidentStatusClosed
	require.NoError(t, store.UpdateIncident(ctx, incident))

	second, err := eng.Upsert(ctx, signalAt(testBase.Add(24*time.Hour)))
	require.NoError(t, err)

	assert.True(t, second.Inserted)
	assert.NotEqual(t, first.IncidentID, second.IncidentID)
}

func TestUpsertValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Upsert(ctx, &UpsertInput{Rule: testRule("QSC"), OccurredAt: testBase})
	assert.True(t, utils.HasCode(err, utils.ErrCodePrecondition))

	_, err = eng.Upsert(ctx, &UpsertInput{Store: testStore(), OccurredAt: testBase})
	assert.True(t, utils.HasCode(err, utils.ErrCodePrecondition))

	_, err = eng.Upsert(ctx, &UpsertInput{Store: testStore(), Rule: testRule("QSC")})
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))
}

func notificationKinds(notifications []*models.Notification) []models.NotificationKind {
	kinds := make([]models.NotificationKind, 0, len(notifications))
	for _, n := range notifications {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func withOccurredAt(in *UpsertInput, at time.Time) *UpsertInput {
	copied := *in
	copied.OccurredAt = at
	return &copied
}
