package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/storealert/internal/models"
	"github.com/fieldops/storealert/internal/storage"
	"github.com/fieldops/storealert/pkg/utils"
)

// seedDirectory persists the reference data the sweep resolves groups
// against. The ingest path carries these by value, the sweep looks them up.
func seedDirectory(t *testing.T, store storage.Storage, withManager bool) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.SaveStore(ctx, testStore()))
	require.NoError(t, store.SaveRule(ctx, testRule("QSC")))
	require.NoError(t, store.SaveUser(ctx, testRecipient()))
	if withManager {
		require.NoError(t, store.SaveUser(ctx, testManager()))
	}
}

func TestSweepSendsReminderWhenAged(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	seedDirectory(t, store, false)

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	sweepAt := testBase.Add(4 * 24 * time.Hour)
	result, err := eng.Sweep(ctx, sweepAt)
	require.NoError(t, err)

	assert.Equal(t, 1, result.GroupsExamined)
	assert.Equal(t, 1, result.RemindersSent)
	assert.Equal(t, 0, result.EscalationsSent)

	group, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-sup"))
	require.NoError(t, err)
	assert.Equal(t, models.EscalationStepReminded, group.EscalationStep)

	userID := "user-sup"
	kind := models.NotificationKindRemind
	reminders, err := store.GetNotifications(ctx, models.NotificationFilter{UserID: &userID, Kind: &kind})
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	require.NotNil(t, reminders[0].IncidentID, "sweep reminder links the active incident")
}

func TestSweepIsIdempotentWithinOneDay(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	seedDirectory(t, store, false)

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	sweepAt := testBase.Add(4 * 24 * time.Hour)
	_, err = eng.Sweep(ctx, sweepAt)
	require.NoError(t, err)

	// A rerun later the same calendar day must send nothing.
	rerun, err := eng.Sweep(ctx, sweepAt.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, rerun.GroupsExamined)
	assert.Equal(t, 0, rerun.RemindersSent)
	assert.Equal(t, 0, rerun.EscalationsSent)
}

func TestSweepEscalatesAfterReminder(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	seedDirectory(t, store, true)

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	_, err = eng.Sweep(ctx, testBase.Add(4*24*time.Hour))
	require.NoError(t, err)

	result, err := eng.Sweep(ctx, testBase.Add(9*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.EscalationsSent)

	group, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-sup"))
	require.NoError(t, err)
	assert.Equal(t, models.EscalationStepManager, group.EscalationStep)

	managerID := "user-mgr"
	managerInbox, err := store.GetNotifications(ctx, models.NotificationFilter{UserID: &managerID})
	require.NoError(t, err)
	require.Len(t, managerInbox, 1)
	assert.Equal(t, models.NotificationKindEscalation, managerInbox[0].Kind)
}

func TestSweepJumpsStraightToEscalation(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	seedDirectory(t, store, true)

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	// The group aged past both thresholds with no sweep in between:
	// escalation wins, no standalone reminder is sent.
	result, err := eng.Sweep(ctx, testBase.Add(10*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, result.RemindersSent)
	assert.Equal(t, 1, result.EscalationsSent)

	group, err := store.GetGroupByDedupKey(ctx, utils.DedupKey("store-001", "rule-QSC", "user-sup"))
	require.NoError(t, err)
	assert.Equal(t, models.EscalationStepManager, group.EscalationStep)
}

func TestSweepSkipsFreshGroups(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	seedDirectory(t, store, false)

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	result, err := eng.Sweep(ctx, testBase.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.GroupsExamined)
	assert.Equal(t, 0, result.RemindersSent)
	assert.Equal(t, 0, result.EscalationsSent)
}

func TestSweepSkipsExhaustedGroups(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	seedDirectory(t, store, true)

	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)
	_, err = eng.Sweep(ctx, testBase.Add(10*24*time.Hour))
	require.NoError(t, err)

	// Manager and recipient groups both sit at the terminal step now.
	result, err := eng.Sweep(ctx, testBase.Add(20*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, result.GroupsExamined)
	assert.Equal(t, 0, result.RemindersSent)
	assert.Equal(t, 0, result.EscalationsSent)
}

func TestSweepSkipsGroupsWithMissingDirectoryData(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// Ingest without seeding the directory: the sweep cannot resolve the
	// rule and must skip the group without failing the pass.
	_, err := eng.Upsert(ctx, signalAt(testBase))
	require.NoError(t, err)

	result, err := eng.Sweep(ctx, testBase.Add(10*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.GroupsExamined)
	assert.Equal(t, 0, result.RemindersSent)
	assert.Equal(t, 0, result.EscalationsSent)
}
