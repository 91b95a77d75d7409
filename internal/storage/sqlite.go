// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/fieldops/storealert/internal/metrics"
	"github.com/fieldops/storealert/internal/models"
	"github.com/fieldops/storealert/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// SetMetricsManager attaches the metrics manager for DB operation metrics
func (s *SQLiteStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// isUniqueViolation reports whether the driver error is a uniqueness conflict
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// recordDBOp records a database operation metric when metrics are attached
func (s *SQLiteStorage) recordDBOp(op, table string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(op, table, status, time.Since(start))
}

// SaveIncident inserts a new incident. A uniqueness conflict on the active
// (store, rule) pair is returned as a CONFLICT_ERROR so the caller can fall
// back to the accumulation path.
func (s *SQLiteStorage) SaveIncident(ctx context.Context, incident *models.Incident) error {
	start := time.Now()

	query := `
		INSERT INTO incidents
		(id, rule_id, store_id, event_type, severity, summary, status,
		 related_entity_type, related_entity_id, assigned_to_user_id,
		 first_occurred_at, last_occurrence_at, occurrence_count, last_notified_at,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		incident.ID, incident.RuleID, incident.StoreID, incident.EventType,
		incident.Severity, incident.Summary, incident.Status,
		incident.RelatedEntityType, incident.RelatedEntityID, incident.AssignedToUserID,
		incident.FirstOccurredAt, incident.LastOccurrenceAt, incident.OccurrenceCount,
		incident.LastNotifiedAt, incident.CreatedAt, incident.UpdatedAt)

	s.recordDBOp("insert", "incidents", err, start)

	if err != nil {
		if isUniqueViolation(err) {
			return utils.NewAppError(utils.ErrCodeConflict, "Active incident already exists", err.Error())
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save incident", err.Error())
	}

	return nil
}

const incidentColumns = `id, rule_id, store_id, event_type, severity, summary, status,
	related_entity_type, related_entity_id, assigned_to_user_id,
	first_occurred_at, last_occurrence_at, occurrence_count, last_notified_at,
	created_at, updated_at`

func scanIncident(row interface{ Scan(...interface{}) error }) (*models.Incident, error) {
	var incident models.Incident
	var relatedType, relatedID, assignedTo sql.NullString
	var lastNotified sql.NullTime

	err := row.Scan(&incident.ID, &incident.RuleID, &incident.StoreID,
		&incident.EventType, &incident.Severity, &incident.Summary, &incident.Status,
		&relatedType, &relatedID, &assignedTo,
		&incident.FirstOccurredAt, &incident.LastOccurrenceAt, &incident.OccurrenceCount,
		&lastNotified, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if relatedType.Valid {
		incident.RelatedEntityType = &relatedType.String
	}
	if relatedID.Valid {
		incident.RelatedEntityID = &relatedID.String
	}
	if assignedTo.Valid {
		incident.AssignedToUserID = &assignedTo.String
	}
	if lastNotified.Valid {
		incident.LastNotifiedAt = &lastNotified.Time
	}

	return &incident, nil
}

// GetIncident retrieves a single incident by ID
func (s *SQLiteStorage) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	query := fmt.Sprintf("SELECT %s FROM incidents WHERE id = ?", incidentColumns)

	incident, err := scanIncident(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get incident", err.Error())
	}

	return incident, nil
}

// GetActiveIncident returns the unique OPEN/ACK incident for the pair, or nil
func (s *SQLiteStorage) GetActiveIncident(ctx context.Context, storeID, ruleID string) (*models.Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents
		WHERE store_id = ? AND rule_id = ? AND status IN ('OPEN', 'ACK')`, incidentColumns)

	incident, err := scanIncident(s.db.QueryRowContext(ctx, query, storeID, ruleID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get active incident", err.Error())
	}

	return incident, nil
}

// UpdateIncident updates an existing incident
func (s *SQLiteStorage) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	start := time.Now()

	query := `
		UPDATE incidents SET
			event_type = ?, severity = ?, summary = ?, status = ?,
			related_entity_type = ?, related_entity_id = ?, assigned_to_user_id = ?,
			last_occurrence_at = ?, occurrence_count = ?, last_notified_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		incident.EventType, incident.Severity, incident.Summary, incident.Status,
		incident.RelatedEntityType, incident.RelatedEntityID, incident.AssignedToUserID,
		incident.LastOccurrenceAt, incident.OccurrenceCount, incident.LastNotifiedAt,
		incident.UpdatedAt, incident.ID)

	s.recordDBOp("update", "incidents", err, start)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update incident", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Incident not found", incident.ID)
	}

	return nil
}

func buildIncidentWhere(filter models.IncidentFilter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if filter.StoreID != nil {
		where += " AND store_id = ?"
		args = append(args, *filter.StoreID)
	}
	if filter.RuleID != nil {
		where += " AND rule_id = ?"
		args = append(args, *filter.RuleID)
	}
	if filter.Status != nil {
		where += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.Severity != nil {
		where += " AND severity = ?"
		args = append(args, *filter.Severity)
	}
	if filter.Since != nil {
		where += " AND last_occurrence_at >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		where += " AND last_occurrence_at <= ?"
		args = append(args, *filter.Until)
	}

	return where, args
}

// GetIncidents retrieves incidents based on filter, most recent first
func (s *SQLiteStorage) GetIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	where, args := buildIncidentWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM incidents%s ORDER BY last_occurrence_at DESC", incidentColumns, where)

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query incidents", err.Error())
	}
	defer rows.Close()

	var incidents []*models.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan incident", err.Error())
		}
		incidents = append(incidents, incident)
	}

	return incidents, nil
}

// GetIncidentCount returns the count of incidents matching filter
func (s *SQLiteStorage) GetIncidentCount(ctx context.Context, filter models.IncidentFilter) (int64, error) {
	where, args := buildIncidentWhere(filter)

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents"+where, args...).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count incidents", err.Error())
	}

	return count, nil
}

// GetIncidentStats returns per-store incident counts by status
func (s *SQLiteStorage) GetIncidentStats(ctx context.Context, storeID string) (*models.IncidentStats, error) {
	query := "SELECT status, COUNT(*) FROM incidents"
	args := []interface{}{}
	if storeID != "" {
		query += " WHERE store_id = ?"
		args = append(args, storeID)
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query incident stats", err.Error())
	}
	defer rows.Close()

	stats := &models.IncidentStats{
		StoreID: storeID,
		ByState: make(map[models.IncidentStatus]int64),
	}
	for rows.Next() {
		var status models.IncidentStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan incident stats", err.Error())
		}
		stats.ByState[status] = count
		stats.Total += count
	}

	return stats, nil
}

// SaveGroup inserts a new notification group. A dedup key conflict is
// returned as CONFLICT_ERROR so the caller can re-fetch the winner.
func (s *SQLiteStorage) SaveGroup(ctx context.Context, group *models.NotificationGroup) error {
	start := time.Now()

	query := `
		INSERT INTO notification_groups
		(id, dedup_key, recipient_user_id, store_id, rule_id, status, escalation_step,
		 first_occurred_at, last_occurrence_at, last_notified_at, occurrence_count,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		group.ID, group.DedupKey, group.RecipientUserID, group.StoreID, group.RuleID,
		group.Status, group.EscalationStep, group.FirstOccurredAt, group.LastOccurrenceAt,
		group.LastNotifiedAt, group.OccurrenceCount, group.CreatedAt, group.UpdatedAt)

	s.recordDBOp("insert", "notification_groups", err, start)

	if err != nil {
		if isUniqueViolation(err) {
			return utils.NewAppError(utils.ErrCodeConflict, "Notification group already exists", err.Error())
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save notification group", err.Error())
	}

	return nil
}

const groupColumns = `id, dedup_key, recipient_user_id, store_id, rule_id, status,
	escalation_step, first_occurred_at, last_occurrence_at, last_notified_at,
	occurrence_count, created_at, updated_at`

func scanGroup(row interface{ Scan(...interface{}) error }) (*models.NotificationGroup, error) {
	var group models.NotificationGroup
	var lastNotified sql.NullTime

	err := row.Scan(&group.ID, &group.DedupKey, &group.RecipientUserID,
		&group.StoreID, &group.RuleID, &group.Status, &group.EscalationStep,
		&group.FirstOccurredAt, &group.LastOccurrenceAt, &lastNotified,
		&group.OccurrenceCount, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastNotified.Valid {
		group.LastNotifiedAt = &lastNotified.Time
	}

	return &group, nil
}

// GetGroupByDedupKey retrieves a notification group by its dedup key
func (s *SQLiteStorage) GetGroupByDedupKey(ctx context.Context, dedupKey string) (*models.NotificationGroup, error) {
	query := fmt.Sprintf("SELECT %s FROM notification_groups WHERE dedup_key = ?", groupColumns)

	group, err := scanGroup(s.db.QueryRowContext(ctx, query, dedupKey))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get notification group", err.Error())
	}

	return group, nil
}

// UpdateGroup updates an existing notification group
func (s *SQLiteStorage) UpdateGroup(ctx context.Context, group *models.NotificationGroup) error {
	start := time.Now()

	query := `
		UPDATE notification_groups SET
			status = ?, escalation_step = ?, last_occurrence_at = ?,
			last_notified_at = ?, occurrence_count = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		group.Status, group.EscalationStep, group.LastOccurrenceAt,
		group.LastNotifiedAt, group.OccurrenceCount, group.UpdatedAt, group.ID)

	s.recordDBOp("update", "notification_groups", err, start)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update notification group", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Notification group not found", group.ID)
	}

	return nil
}

// GetOpenGroups returns all groups still in OPEN status, oldest first
func (s *SQLiteStorage) GetOpenGroups(ctx context.Context) ([]*models.NotificationGroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM notification_groups
		WHERE status = 'OPEN' ORDER BY first_occurred_at ASC`, groupColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query open groups", err.Error())
	}
	defer rows.Close()

	var groups []*models.NotificationGroup
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification group", err.Error())
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// SaveNotification appends a notification record
func (s *SQLiteStorage) SaveNotification(ctx context.Context, notification *models.Notification) error {
	start := time.Now()

	query := `
		INSERT INTO notifications
		(id, group_id, incident_id, user_id, kind, title, body, is_read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		notification.ID, notification.GroupID, notification.IncidentID,
		notification.UserID, notification.Kind, notification.Title, notification.Body,
		notification.IsRead, notification.ReadAt, notification.CreatedAt)

	s.recordDBOp("insert", "notifications", err, start)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save notification", err.Error())
	}

	return nil
}

// GetNotifications retrieves notifications for a recipient, newest first
func (s *SQLiteStorage) GetNotifications(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error) {
	query := `
		SELECT id, group_id, incident_id, user_id, kind, title, body, is_read, read_at, created_at
		FROM notifications WHERE 1=1
	`
	args := []interface{}{}

	if filter.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.UserID)
	}
	if filter.Kind != nil {
		query += " AND kind = ?"
		args = append(args, *filter.Kind)
	}
	if filter.UnreadOnly {
		query += " AND is_read = FALSE"
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query notifications", err.Error())
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		var incidentID sql.NullString
		var readAt sql.NullTime

		err := rows.Scan(&n.ID, &n.GroupID, &incidentID, &n.UserID, &n.Kind,
			&n.Title, &n.Body, &n.IsRead, &readAt, &n.CreatedAt)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification", err.Error())
		}

		if incidentID.Valid {
			n.IncidentID = &incidentID.String
		}
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}

		notifications = append(notifications, &n)
	}

	return notifications, nil
}

// CountUnreadNotifications returns the unread count for a recipient
func (s *SQLiteStorage) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = FALSE", userID).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count unread notifications", err.Error())
	}
	return count, nil
}

// MarkNotificationRead sets the read flag and timestamp
func (s *SQLiteStorage) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE, read_at = ? WHERE id = ?", at, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark notification read", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Notification not found", id)
	}

	return nil
}

// SaveStore upserts a store
func (s *SQLiteStorage) SaveStore(ctx context.Context, store *models.Store) error {
	query := `
		INSERT OR REPLACE INTO stores
		(id, display_name, supervisor_user_id, department, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		store.ID, store.DisplayName, store.SupervisorUserID, store.Department,
		store.Active, store.CreatedAt, store.UpdatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save store", err.Error())
	}
	return nil
}

// GetStore retrieves a store by ID
func (s *SQLiteStorage) GetStore(ctx context.Context, id string) (*models.Store, error) {
	query := `
		SELECT id, display_name, supervisor_user_id, department, active, created_at, updated_at
		FROM stores WHERE id = ?
	`
	var store models.Store
	err := s.db.QueryRowContext(ctx, query, id).Scan(&store.ID, &store.DisplayName,
		&store.SupervisorUserID, &store.Department, &store.Active, &store.CreatedAt, &store.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get store", err.Error())
	}
	return &store, nil
}

// SaveRule upserts a rule
func (s *SQLiteStorage) SaveRule(ctx context.Context, rule *models.Rule) error {
	query := `
		INSERT OR REPLACE INTO rules
		(id, name, event_category, reminder_days, escalation_days, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.EventCategory, rule.ReminderDays, rule.EscalationDays,
		rule.Active, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save rule", err.Error())
	}
	return nil
}

// GetRule retrieves a rule by ID
func (s *SQLiteStorage) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	query := `
		SELECT id, name, event_category, reminder_days, escalation_days, active, created_at, updated_at
		FROM rules WHERE id = ?
	`
	var rule models.Rule
	err := s.db.QueryRowContext(ctx, query, id).Scan(&rule.ID, &rule.Name,
		&rule.EventCategory, &rule.ReminderDays, &rule.EscalationDays,
		&rule.Active, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rule", err.Error())
	}
	return &rule, nil
}

// SaveUser upserts a user
func (s *SQLiteStorage) SaveUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT OR REPLACE INTO users
		(id, name, department, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Department, user.Role, user.Active,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save user", err.Error())
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, name, department, role, active, created_at, updated_at
		FROM users WHERE id = ?
	`
	var user models.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Name,
		&user.Department, &user.Role, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get user", err.Error())
	}
	return &user, nil
}

// FindActiveManager returns the first active manager in the department, or nil
func (s *SQLiteStorage) FindActiveManager(ctx context.Context, department string) (*models.User, error) {
	query := `
		SELECT id, name, department, role, active, created_at, updated_at
		FROM users WHERE department = ? AND role = ? AND active = TRUE
		ORDER BY created_at ASC LIMIT 1
	`
	var user models.User
	err := s.db.QueryRowContext(ctx, query, department, models.RoleManager).Scan(
		&user.ID, &user.Name, &user.Department, &user.Role, &user.Active,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to find active manager", err.Error())
	}
	return &user, nil
}

// GetHealth reports backend health
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "SQLite",
		Healthy:     s.Ping() == nil,
		Details:     map[string]string{"connection_string": s.config.ConnectionString},
		LastPing:    time.Now(),
	}
}

// GetStats returns storage-wide counters
func (s *SQLiteStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM incidents", &stats.TotalIncidents},
		{"SELECT COUNT(*) FROM incidents WHERE status IN ('OPEN', 'ACK')", &stats.ActiveIncidents},
		{"SELECT COUNT(*) FROM notification_groups", &stats.TotalGroups},
		{"SELECT COUNT(*) FROM notification_groups WHERE status = 'OPEN'", &stats.OpenGroups},
		{"SELECT COUNT(*) FROM notifications", &stats.TotalNotifications},
		{"SELECT COUNT(*) FROM notifications WHERE is_read = FALSE", &stats.UnreadNotifications},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get storage stats", err.Error())
		}
	}

	return stats, nil
}
