// Package engine turns raw operational signals into deduplicated incident
// records and drives the tiered notification schedule (initial alert,
// reminder, manager escalation). Time is always an explicit parameter so
// that replay against historical signals is deterministic.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldops/storealert/internal/metrics"
	"github.com/fieldops/storealert/internal/models"
	"github.com/fieldops/storealert/internal/schedule"
	"github.com/fieldops/storealert/internal/storage"
	"github.com/fieldops/storealert/pkg/utils"
)

// EngineConfig holds engine configuration
type EngineConfig struct {
	// Location pins the calendar used by the sweep's once-per-day
	// idempotency guard to the operational timezone of the business.
	Location *time.Location
}

// Engine is the ingestion/upsert orchestrator
type Engine struct {
	storage storage.Storage
	logger  *logrus.Logger
	config  *EngineConfig
	locks   *keyedMutex

	metricsManager *metrics.Manager
}

// UpsertInput carries one raw signal, already classified upstream.
// Recipient may be nil for anonymous/system-origin signals: the incident is
// recorded but nobody is notified.
type UpsertInput struct {
	Store             *models.Store
	Rule              *models.Rule
	Recipient         *models.User
	EventType         string
	Severity          string
	Summary           string
	RelatedEntityType *string
	RelatedEntityID   *string
	OccurredAt        time.Time
}

// UpsertResult is consumed by the calling pipeline to distinguish new
// incidents from recurrences.
type UpsertResult struct {
	Inserted      bool                   `json:"inserted"`
	IncidentID    string                 `json:"incident_id"`
	Notifications []*models.Notification `json:"notifications,omitempty"`
}

// SweepResult summarizes one reminder sweep pass
type SweepResult struct {
	GroupsExamined  int `json:"groups_examined"`
	RemindersSent   int `json:"reminders_sent"`
	EscalationsSent int `json:"escalations_sent"`
}

// NewEngine creates a new ingestion engine
func NewEngine(store storage.Storage, config *EngineConfig) *Engine {
	if config == nil {
		config = &EngineConfig{}
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	return &Engine{
		storage: store,
		logger:  utils.GetLogger(),
		config:  config,
		locks:   newKeyedMutex(),
	}
}

// SetMetricsManager attaches the metrics manager
func (e *Engine) SetMetricsManager(m *metrics.Manager) {
	e.metricsManager = m
}

func pairKey(storeID, ruleID string) string {
	return storeID + ":" + ruleID
}

// notifiable reports whether the rule participates in the notification
// schedule at all, after rule-level overrides are applied. Signals outside
// the notifiable set are recorded but silently skipped.
func notifiable(rule *models.Rule) bool {
	remind, escalation := schedule.RuleThresholds(rule)
	return remind != schedule.NeverDays || escalation != schedule.NeverDays
}

func (e *Engine) validate(input *UpsertInput) error {
	if input.Store == nil || input.Store.ID == "" {
		return utils.NewAppError(utils.ErrCodePrecondition, "Store reference is required", "")
	}
	if input.Rule == nil || input.Rule.ID == "" {
		return utils.NewAppError(utils.ErrCodePrecondition, "Rule reference is required", "")
	}
	if input.Recipient != nil && input.Recipient.ID == "" {
		return utils.NewAppError(utils.ErrCodePrecondition, "Recipient must carry an id when present", "")
	}
	if input.OccurredAt.IsZero() {
		return utils.NewAppError(utils.ErrCodeValidation, "occurredAt is required", "")
	}
	return nil
}

// Upsert processes one raw signal: find-or-create the active incident for
// the (store, rule) pair, accumulate occurrence, and evaluate the
// notification schedule against the signal's own occurredAt.
func (e *Engine) Upsert(ctx context.Context, input *UpsertInput) (*UpsertResult, error) {
	start := time.Now()

	if err := e.validate(input); err != nil {
		return nil, err
	}

	key := pairKey(input.Store.ID, input.Rule.ID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	active, err := e.storage.GetActiveIncident(ctx, input.Store.ID, input.Rule.ID)
	if err != nil {
		return nil, err
	}

	var result *UpsertResult
	if active == nil {
		result, err = e.insertIncident(ctx, input)
		if utils.HasCode(err, utils.ErrCodeConflict) {
			// Lost a create race: someone else inserted the active
			// incident first, so this signal is a recurrence.
			active, err = e.storage.GetActiveIncident(ctx, input.Store.ID, input.Rule.ID)
			if err != nil {
				return nil, err
			}
			if active == nil {
				// Winner vanished between insert and re-fetch; the
				// caller can safely retry.
				return nil, utils.NewAppError(utils.ErrCodeConflict,
					"Active incident changed concurrently", pairKey(input.Store.ID, input.Rule.ID))
			}
			result, err = e.accumulateIncident(ctx, input, active)
		}
	} else {
		result, err = e.accumulateIncident(ctx, input, active)
	}
	if err != nil {
		return nil, err
	}

	if e.metricsManager != nil {
		outcome := "accumulated"
		if result.Inserted {
			outcome = "inserted"
		}
		e.metricsManager.GetPrometheusMetrics().RecordUpsert(outcome, input.Rule.EventCategory, time.Since(start))
	}

	return result, nil
}

// insertIncident handles the new-incident path: create the record and, when
// a recipient is designated and the rule is notifiable, emit the single
// INITIAL notification.
func (e *Engine) insertIncident(ctx context.Context, input *UpsertInput) (*UpsertResult, error) {
	now := input.OccurredAt

	incident := &models.Incident{
		ID:                utils.GenerateID(),
		RuleID:            input.Rule.ID,
		StoreID:           input.Store.ID,
		EventType:         input.EventType,
		Severity:          input.Severity,
		Summary:           input.Summary,
		Status:            models.IncidentStatusOpen,
		RelatedEntityType: input.RelatedEntityType,
		RelatedEntityID:   input.RelatedEntityID,
		FirstOccurredAt:   now,
		LastOccurrenceAt:  now,
		OccurrenceCount:   1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if input.Recipient != nil {
		id := input.Recipient.ID
		incident.AssignedToUserID = &id
	}

	result := &UpsertResult{Inserted: true, IncidentID: incident.ID}

	if input.Recipient == nil || !notifiable(input.Rule) {
		if err := e.storage.SaveIncident(ctx, incident); err != nil {
			return nil, err
		}
		return result, nil
	}

	notified := now
	incident.LastNotifiedAt = &notified
	if err := e.storage.SaveIncident(ctx, incident); err != nil {
		return nil, err
	}

	group, _, err := e.findOrCreateGroup(ctx, input.Store.ID, input.Rule.ID, input.Recipient.ID, now)
	if err != nil {
		return nil, err
	}

	notification, err := e.createNotification(ctx, group, &incident.ID, input.Recipient.ID,
		models.NotificationKindInitial, input.Rule, input.Store, input.Summary, now, "ingest")
	if err != nil {
		return nil, err
	}
	result.Notifications = append(result.Notifications, notification)

	group.MarkNotified(now)
	if err := e.storage.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"incident_id": incident.ID,
		"store_id":    input.Store.ID,
		"rule_id":     input.Rule.ID,
		"recipient":   input.Recipient.ID,
	}).Info("New incident created")

	return result, nil
}

// accumulateIncident handles the recurrence path: accumulate occurrence and
// evaluate the reminder/escalation tiers against the signal's occurredAt.
func (e *Engine) accumulateIncident(ctx context.Context, input *UpsertInput, incident *models.Incident) (*UpsertResult, error) {
	now := input.OccurredAt

	incident.Accumulate(now)
	incident.UpdatedAt = now

	result := &UpsertResult{Inserted: false, IncidentID: incident.ID}

	// No recipient means accumulation only, no notification path.
	if input.Recipient == nil || !notifiable(input.Rule) {
		if err := e.storage.UpdateIncident(ctx, incident); err != nil {
			return nil, err
		}
		return result, nil
	}

	group, created, err := e.findOrCreateGroup(ctx, input.Store.ID, input.Rule.ID, input.Recipient.ID, now)
	if err != nil {
		return nil, err
	}
	if !created {
		group.Accumulate(now)
	}

	days := schedule.PersistedDays(group.FirstOccurredAt, now)
	remindDays, escalationDays := schedule.RuleThresholds(input.Rule)
	notified := false

	// Reminder and escalation are independent gates: a backfilled signal
	// far enough in the past fires both in a single call.
	if days >= remindDays && group.EscalationStep == models.EscalationStepNone {
		notification, err := e.createNotification(ctx, group, &incident.ID, input.Recipient.ID,
			models.NotificationKindRemind, input.Rule, input.Store, input.Summary, now, "ingest")
		if err != nil {
			return nil, err
		}
		result.Notifications = append(result.Notifications, notification)
		e.advanceStep(group, models.EscalationStepReminded)
		notified = true
	}

	if days >= escalationDays && group.EscalationStep < models.EscalationStepManager {
		notifications, err := e.escalate(ctx, group, &incident.ID, input.Recipient,
			input.Rule, input.Store, input.Summary, now, "ingest")
		if err != nil {
			return nil, err
		}
		result.Notifications = append(result.Notifications, notifications...)
		e.advanceStep(group, models.EscalationStepManager)
		notified = true
	}

	if notified {
		group.MarkNotified(now)
		t := now
		incident.LastNotifiedAt = &t
	}

	if err := e.storage.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}
	if err := e.storage.UpdateIncident(ctx, incident); err != nil {
		return nil, err
	}

	return result, nil
}

// escalate emits the ESCALATION notification to the recipient and, when the
// recipient's department has an active manager, a second one to the manager
// under the manager's own notification group. A missing manager is not an
// error: only the manager-side notification is skipped.
func (e *Engine) escalate(ctx context.Context, group *models.NotificationGroup, incidentID *string,
	recipient *models.User, rule *models.Rule, store *models.Store, summary string,
	now time.Time, source string) ([]*models.Notification, error) {

	var notifications []*models.Notification

	notification, err := e.createNotification(ctx, group, incidentID, recipient.ID,
		models.NotificationKindEscalation, rule, store, summary, now, source)
	if err != nil {
		return nil, err
	}
	notifications = append(notifications, notification)

	manager, err := e.storage.FindActiveManager(ctx, recipient.Department)
	if err != nil {
		return nil, err
	}
	if manager == nil {
		e.logger.WithFields(logrus.Fields{
			"department": recipient.Department,
			"store_id":   store.ID,
			"rule_id":    rule.ID,
		}).Warn("No active manager found, skipping manager escalation")
		return notifications, nil
	}

	managerGroup, managerCreated, err := e.findOrCreateGroup(ctx, store.ID, rule.ID, manager.ID, now)
	if err != nil {
		return nil, err
	}
	if !managerCreated {
		managerGroup.Accumulate(now)
	}

	// The manager's sequence may already be exhausted by another
	// recipient's escalation for the same pair: record the occurrence
	// but never notify past step 2.
	if managerGroup.EscalationStep >= models.EscalationStepManager {
		if err := e.storage.UpdateGroup(ctx, managerGroup); err != nil {
			return nil, err
		}
		return notifications, nil
	}

	managerNotification, err := e.createNotification(ctx, managerGroup, incidentID, manager.ID,
		models.NotificationKindEscalation, rule, store, summary, now, source)
	if err != nil {
		return nil, err
	}
	notifications = append(notifications, managerNotification)

	// The manager's sequence is exhausted too: they already received the
	// terminal tier, so the sweep must not remind or re-escalate them.
	e.advanceStep(managerGroup, models.EscalationStepManager)
	managerGroup.MarkNotified(now)
	if err := e.storage.UpdateGroup(ctx, managerGroup); err != nil {
		return nil, err
	}

	return notifications, nil
}

// findOrCreateGroup resolves the notification group for the dedup key
// storeID:ruleID:recipientID, creating it atomically on first use. A
// create race resolves by re-fetching the winner. The second return value
// reports whether the group was created by this call.
func (e *Engine) findOrCreateGroup(ctx context.Context, storeID, ruleID, recipientID string, occurredAt time.Time) (*models.NotificationGroup, bool, error) {
	dedupKey := utils.DedupKey(storeID, ruleID, recipientID)

	group, err := e.storage.GetGroupByDedupKey(ctx, dedupKey)
	if err != nil {
		return nil, false, err
	}
	if group != nil {
		return group, false, nil
	}

	group = &models.NotificationGroup{
		ID:               utils.GenerateID(),
		DedupKey:         dedupKey,
		RecipientUserID:  recipientID,
		StoreID:          storeID,
		RuleID:           ruleID,
		Status:           models.IncidentStatusOpen,
		EscalationStep:   models.EscalationStepNone,
		FirstOccurredAt:  occurredAt,
		LastOccurrenceAt: occurredAt,
		OccurrenceCount:  1,
		CreatedAt:        occurredAt,
		UpdatedAt:        occurredAt,
	}

	err = e.storage.SaveGroup(ctx, group)
	if utils.HasCode(err, utils.ErrCodeConflict) {
		winner, err := e.storage.GetGroupByDedupKey(ctx, dedupKey)
		return winner, false, err
	}
	if err != nil {
		return nil, false, err
	}

	return group, true, nil
}

func (e *Engine) advanceStep(group *models.NotificationGroup, step int) {
	group.AdvanceEscalation(step)
	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().RecordEscalationAdvance(strconv.Itoa(step))
	}
}

// createNotification builds, persists, and counts one notification record
func (e *Engine) createNotification(ctx context.Context, group *models.NotificationGroup,
	incidentID *string, userID string, kind models.NotificationKind,
	rule *models.Rule, store *models.Store, summary string,
	at time.Time, source string) (*models.Notification, error) {

	notification := &models.Notification{
		ID:         utils.GenerateID(),
		GroupID:    group.ID,
		IncidentID: incidentID,
		UserID:     userID,
		Kind:       kind,
		Title:      notificationTitle(kind, rule, store),
		Body:       notificationBody(kind, rule, store, summary),
		CreatedAt:  at,
	}

	if err := e.storage.SaveNotification(ctx, notification); err != nil {
		return nil, err
	}

	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().RecordNotification(string(kind), source)
	}

	return notification, nil
}

func notificationTitle(kind models.NotificationKind, rule *models.Rule, store *models.Store) string {
	switch kind {
	case models.NotificationKindRemind:
		return fmt.Sprintf("[Reminder] %s - %s", store.DisplayName, rule.Name)
	case models.NotificationKindEscalation:
		return fmt.Sprintf("[Escalation] %s - %s", store.DisplayName, rule.Name)
	default:
		return fmt.Sprintf("%s - %s", store.DisplayName, rule.Name)
	}
}

func notificationBody(kind models.NotificationKind, rule *models.Rule, store *models.Store, summary string) string {
	switch kind {
	case models.NotificationKindRemind:
		return fmt.Sprintf("%s at %s is still unresolved: %s", rule.Name, store.DisplayName, summary)
	case models.NotificationKindEscalation:
		return fmt.Sprintf("%s at %s requires attention, escalating: %s", rule.Name, store.DisplayName, summary)
	default:
		return summary
	}
}
