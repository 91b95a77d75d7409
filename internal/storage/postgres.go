// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/fieldops/storealert/internal/metrics"
	"github.com/fieldops/storealert/internal/models"
	"github.com/fieldops/storealert/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// SetMetricsManager attaches the metrics manager for DB operation metrics
func (s *PostgreSQLStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgreSQLStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgreSQLStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// isPqUniqueViolation reports whether the error is a Postgres unique violation
func isPqUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *PostgreSQLStorage) recordDBOp(op, table string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(op, table, status, time.Since(start))
}

// SaveIncident inserts a new incident, mapping unique violations on the
// active (store, rule) index to CONFLICT_ERROR.
func (s *PostgreSQLStorage) SaveIncident(ctx context.Context, incident *models.Incident) error {
	start := time.Now()

	query := `
		INSERT INTO incidents
		(id, rule_id, store_id, event_type, severity, summary, status,
		 related_entity_type, related_entity_id, assigned_to_user_id,
		 first_occurred_at, last_occurrence_at, occurrence_count, last_notified_at,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := s.db.ExecContext(ctx, query,
		incident.ID, incident.RuleID, incident.StoreID, incident.EventType,
		incident.Severity, incident.Summary, incident.Status,
		incident.RelatedEntityType, incident.RelatedEntityID, incident.AssignedToUserID,
		incident.FirstOccurredAt, incident.LastOccurrenceAt, incident.OccurrenceCount,
		incident.LastNotifiedAt, incident.CreatedAt, incident.UpdatedAt)

	s.recordDBOp("insert", "incidents", err, start)

	if err != nil {
		if isPqUniqueViolation(err) {
			return utils.NewAppError(utils.ErrCodeConflict, "Active incident already exists", err.Error())
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save incident", err.Error())
	}

	return nil
}

// GetIncident retrieves a single incident by ID
func (s *PostgreSQLStorage) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	query := fmt.Sprintf("SELECT %s FROM incidents WHERE id = $1", incidentColumns)

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
func (s *PostgreSQLStorage) GetActiveIncident(ctx context.Context, storeID, ruleID string) (*models.Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents
		WHERE store_id = $1 AND rule_id = $2 AND status IN ('OPEN', 'ACK')`, incidentColumns)

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
func (s *PostgreSQLStorage) UpdateIncident(ctx context.Context, incident *models.Incident) error {
	start := time.Now()

	query := `
		UPDATE incidents SET
			event_type = $1, severity = $2, summary = $3, status = $4,
			related_entity_type = $5, related_entity_id = $6, assigned_to_user_id = $7,
			last_occurrence_at = $8, occurrence_count = $9, last_notified_at = $10, updated_at = $11
		WHERE id = $12
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

func buildIncidentWherePg(filter models.IncidentFilter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	n := 1

	add := func(clause string, value interface{}) {
		where += fmt.Sprintf(" AND %s $%d", clause, n)
		args = append(args, value)
		n++
	}

	if filter.StoreID != nil {
		add("store_id =", *filter.StoreID)
	}
	if filter.RuleID != nil {
		add("rule_id =", *filter.RuleID)
	}
	if filter.Status != nil {
		add("status =", *filter.Status)
	}
	if filter.Severity != nil {
		add("severity =", *filter.Severity)
	}
	if filter.Since != nil {
		add("last_occurrence_at >=", *filter.Since)
	}
	if filter.Until != nil {
		add("last_occurrence_at <=", *filter.Until)
	}

	return where, args
}

// GetIncidents retrieves incidents based on filter, most recent first
func (s *PostgreSQLStorage) GetIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	where, args := buildIncidentWherePg(filter)
	query := fmt.Sprintf("SELECT %s FROM incidents%s ORDER BY last_occurrence_at DESC", incidentColumns, where)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
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
func (s *PostgreSQLStorage) GetIncidentCount(ctx context.Context, filter models.IncidentFilter) (int64, error) {
	where, args := buildIncidentWherePg(filter)

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents"+where, args...).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count incidents", err.Error())
	}

	return count, nil
}

// GetIncidentStats returns per-store incident counts by status
func (s *PostgreSQLStorage) GetIncidentStats(ctx context.Context, storeID string) (*models.IncidentStats, error) {
	query := "SELECT status, COUNT(*) FROM incidents"
	args := []interface{}{}
	if storeID != "" {
		query += " WHERE store_id = $1"
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

// SaveGroup inserts a new notification group
func (s *PostgreSQLStorage) SaveGroup(ctx context.Context, group *models.NotificationGroup) error {
	start := time.Now()

	query := `
		INSERT INTO notification_groups
		(id, dedup_key, recipient_user_id, store_id, rule_id, status, escalation_step,
		 first_occurred_at, last_occurrence_at, last_notified_at, occurrence_count,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.ExecContext(ctx, query,
		group.ID, group.DedupKey, group.RecipientUserID, group.StoreID, group.RuleID,
		group.Status, group.EscalationStep, group.FirstOccurredAt, group.LastOccurrenceAt,
		group.LastNotifiedAt, group.OccurrenceCount, group.CreatedAt, group.UpdatedAt)

	s.recordDBOp("insert", "notification_groups", err, start)

	if err != nil {
		if isPqUniqueViolation(err) {
			return utils.NewAppError(utils.ErrCodeConflict, "Notification group already exists", err.Error())
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save notification group", err.Error())
	}

	return nil
}

// GetGroupByDedupKey retrieves a notification group by its dedup key
func (s *PostgreSQLStorage) GetGroupByDedupKey(ctx context.Context, dedupKey string) (*models.NotificationGroup, error) {
	query := fmt.Sprintf("SELECT %s FROM notification_groups WHERE dedup_key = $1", groupColumns)

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
func (s *PostgreSQLStorage) UpdateGroup(ctx context.Context, group *models.NotificationGroup) error {
	start := time.Now()

	query := `
		UPDATE notification_groups SET
			status = $1, escalation_step = $2, last_occurrence_at = $3,
			last_notified_at = $4, occurrence_count = $5, updated_at = $6
		WHERE id = $7
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
func (s *PostgreSQLStorage) GetOpenGroups(ctx context.Context) ([]*models.NotificationGroup, error) {
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
func (s *PostgreSQLStorage) SaveNotification(ctx context.Context, notification *models.Notification) error {
	start := time.Now()

	query := `
		INSERT INTO notifications
		(id, group_id, incident_id, user_id, kind, title, body, is_read, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
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
func (s *PostgreSQLStorage) GetNotifications(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error) {
	query := `
		SELECT id, group_id, incident_id, user_id, kind, title, body, is_read, read_at, created_at
		FROM notifications WHERE 1=1
	`
	args := []interface{}{}
	n := 1

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", n)
		args = append(args, *filter.UserID)
		n++
	}
	if filter.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", n)
		args = append(args, *filter.Kind)
		n++
	}
	if filter.UnreadOnly {
		query += " AND is_read = FALSE"
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query notifications", err.Error())
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var notif models.Notification
		var incidentID sql.NullString
		var readAt sql.NullTime

		err := rows.Scan(&notif.ID, &notif.GroupID, &incidentID, &notif.UserID, &notif.Kind,
			&notif.Title, &notif.Body, &notif.IsRead, &readAt, &notif.CreatedAt)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification", err.Error())
		}

		if incidentID.Valid {
			notif.IncidentID = &incidentID.String
		}
		if readAt.Valid {
			notif.ReadAt = &readAt.Time
		}

		notifications = append(notifications, &notif)
	}

	return notifications, nil
}

// CountUnreadNotifications returns the unread count for a recipient
func (s *PostgreSQLStorage) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE", userID).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count unread notifications", err.Error())
	}
	return count, nil
}

// MarkNotificationRead sets the read flag and timestamp
func (s *PostgreSQLStorage) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE, read_at = $1 WHERE id = $2", at, id)
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
func (s *PostgreSQLStorage) SaveStore(ctx context.Context, store *models.Store) error {
	query := `
		INSERT INTO stores
		(id, display_name, supervisor_user_id, department, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			supervisor_user_id = EXCLUDED.supervisor_user_id,
			department = EXCLUDED.department,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
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
func (s *PostgreSQLStorage) GetStore(ctx context.Context, id string) (*models.Store, error) {
	query := `
		SELECT id, display_name, supervisor_user_id, department, active, created_at, updated_at
		FROM stores WHERE id = $1
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
func (s *PostgreSQLStorage) SaveRule(ctx context.Context, rule *models.Rule) error {
	query := `
		INSERT INTO rules
		(id, name, event_category, reminder_days, escalation_days, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			event_category = EXCLUDED.event_category,
			reminder_days = EXCLUDED.reminder_days,
			escalation_days = EXCLUDED.escalation_days,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
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
func (s *PostgreSQLStorage) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	query := `
		SELECT id, name, event_category, reminder_days, escalation_days, active, created_at, updated_at
		FROM rules WHERE id = $1
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
func (s *PostgreSQLStorage) SaveUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users
		(id, name, department, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			department = EXCLUDED.department,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
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
func (s *PostgreSQLStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, name, department, role, active, created_at, updated_at
		FROM users WHERE id = $1
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
func (s *PostgreSQLStorage) FindActiveManager(ctx context.Context, department string) (*models.User, error) {
	query := `
		SELECT id, name, department, role, active, created_at, updated_at
		FROM users WHERE department = $1 AND role = $2 AND active = TRUE
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
func (s *PostgreSQLStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "PostgreSQL",
		Healthy:     s.Ping() == nil,
		LastPing:    time.Now(),
	}
}

// GetStats returns storage-wide counters
func (s *PostgreSQLStorage) GetStats(ctx context.Context) (*StorageStats, error) {
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
