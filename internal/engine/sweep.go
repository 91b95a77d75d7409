package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldops/storealert/internal/models"
	"github.com/fieldops/storealert/internal/schedule"
)

// Sweep walks every open notification group and fires the reminder or
// escalation tier the group has aged into. now is the sweep's reference
// time; groups already notified on the same calendar day are skipped, so
// re-running the sweep within a day is a no-op.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	start := time.Now()

	groups, err := e.storage.GetOpenGroups(ctx)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{GroupsExamined: len(groups)}

	for _, stale := range groups {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		reminded, escalated, err := e.sweepGroup(ctx, stale, now)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"group_id": stale.ID,
				"store_id": stale.StoreID,
				"rule_id":  stale.RuleID,
				"error":    err.Error(),
			}).Error("Sweep failed for group, continuing")
			continue
		}
		if reminded {
			result.RemindersSent++
		}
		if escalated {
			result.EscalationsSent++
		}
	}

	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().RecordSweep(result.GroupsExamined, time.Since(start))
	}

	e.logger.WithFields(logrus.Fields{
		"groups_examined":  result.GroupsExamined,
		"reminders_sent":   result.RemindersSent,
		"escalations_sent": result.EscalationsSent,
	}).Info("Reminder sweep completed")

	return result, nil
}

// sweepGroup evaluates one group under the same per-pair lock the ingest
// path uses, against a fresh snapshot. Escalation takes priority over the
// reminder so a group that aged past both thresholds between sweeps jumps
// straight to the terminal tier.
func (e *Engine) sweepGroup(ctx context.Context, stale *models.NotificationGroup, now time.Time) (reminded, escalated bool, err error) {
	key := pairKey(stale.StoreID, stale.RuleID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	group, err := e.storage.GetGroupByDedupKey(ctx, stale.DedupKey)
	if err != nil {
		return false, false, err
	}
	if group == nil || group.Status != models.IncidentStatusOpen {
		return false, false, nil
	}
	if group.EscalationStep >= models.EscalationStepManager {
		return false, false, nil
	}
	if group.LastNotifiedAt != nil && schedule.SameCalendarDay(*group.LastNotifiedAt, now, e.config.Location) {
		return false, false, nil
	}

	rule, err := e.storage.GetRule(ctx, group.RuleID)
	if err != nil {
		return false, false, err
	}
	store, err := e.storage.GetStore(ctx, group.StoreID)
	if err != nil {
		return false, false, err
	}
	recipient, err := e.storage.GetUser(ctx, group.RecipientUserID)
	if err != nil {
		return false, false, err
	}
	if rule == nil || store == nil || recipient == nil {
		e.logger.WithFields(logrus.Fields{
			"group_id": group.ID,
			"store_id": group.StoreID,
			"rule_id":  group.RuleID,
		}).Warn("Group references missing directory data, skipping")
		return false, false, nil
	}
	if !notifiable(rule) {
		return false, false, nil
	}

	days := schedule.PersistedDays(group.FirstOccurredAt, now)
	remindDays, escalationDays := schedule.RuleThresholds(rule)

	// Link the current active incident when one exists; the group can
	// outlive it when the incident was closed out of band.
	var incidentID *string
	summary := rule.Name
	incident, err := e.storage.GetActiveIncident(ctx, group.StoreID, group.RuleID)
	if err != nil {
		return false, false, err
	}
	if incident != nil {
		incidentID = &incident.ID
		summary = incident.Summary
	}

	if days >= escalationDays {
		notifications, err := e.escalate(ctx, group, incidentID, recipient, rule, store, summary, now, "sweep")
		if err != nil {
			return false, false, err
		}
		e.advanceStep(group, models.EscalationStepManager)
		escalated = len(notifications) > 0
	} else if days >= remindDays && group.EscalationStep == models.EscalationStepNone {
		if _, err := e.createNotification(ctx, group, incidentID, recipient.ID,
			models.NotificationKindRemind, rule, store, summary, now, "sweep"); err != nil {
			return false, false, err
		}
		e.advanceStep(group, models.EscalationStepReminded)
		reminded = true
	} else {
		return false, false, nil
	}

	group.MarkNotified(now)
	if err := e.storage.UpdateGroup(ctx, group); err != nil {
		return false, false, err
	}

	if incident != nil {
		t := now
		incident.LastNotifiedAt = &t
		incident.UpdatedAt = now
		if err := e.storage.UpdateIncident(ctx, incident); err != nil {
			return false, false, err
		}
	}

	return reminded, escalated, nil
}
