package storage

import (
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create incidents table",
			SQL: `
				CREATE TABLE IF NOT EXISTS incidents (
					id TEXT PRIMARY KEY,
					rule_id TEXT NOT NULL,
					store_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					severity TEXT NOT NULL,
					summary TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'OPEN',
					related_entity_type TEXT,
					related_entity_id TEXT,
					assigned_to_user_id TEXT,
					first_occurred_at DATETIME NOT NULL,
					last_occurrence_at DATETIME NOT NULL,
					occurrence_count INTEGER NOT NULL DEFAULT 1,
					last_notified_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_incidents_store ON incidents(store_id);
				CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
				CREATE INDEX IF NOT EXISTS idx_incidents_last_occurrence ON incidents(last_occurrence_at);
				-- Dedup contract: at most one active incident per (store, rule)
				CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_active_pair
					ON incidents(store_id, rule_id) WHERE status IN ('OPEN', 'ACK');
			`,
		},
		{
			Version:     "002",
			Description: "Create notification_groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notification_groups (
					id TEXT PRIMARY KEY,
					dedup_key TEXT NOT NULL UNIQUE,
					recipient_user_id TEXT NOT NULL,
					store_id TEXT NOT NULL,
					rule_id TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'OPEN',
					escalation_step INTEGER NOT NULL DEFAULT 0,
					first_occurred_at DATETIME NOT NULL,
					last_occurrence_at DATETIME NOT NULL,
					last_notified_at DATETIME,
					occurrence_count INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_groups_status ON notification_groups(status);
				CREATE INDEX IF NOT EXISTS idx_groups_recipient ON notification_groups(recipient_user_id);
			`,
		},
		{
			Version:     "003",
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					group_id TEXT NOT NULL,
					incident_id TEXT,
					user_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					title TEXT NOT NULL,
					body TEXT NOT NULL,
					is_read BOOLEAN NOT NULL DEFAULT FALSE,
					read_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (group_id) REFERENCES notification_groups (id)
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(user_id, is_read);
				CREATE INDEX IF NOT EXISTS idx_notifications_group ON notifications(group_id);
			`,
		},
		{
			Version:     "004",
			Description: "Create directory tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS stores (
					id TEXT PRIMARY KEY,
					display_name TEXT NOT NULL,
					supervisor_user_id TEXT NOT NULL,
					department TEXT NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS rules (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					event_category TEXT NOT NULL,
					reminder_days INTEGER NOT NULL DEFAULT 0,
					escalation_days INTEGER NOT NULL DEFAULT 0,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					department TEXT NOT NULL,
					role TEXT NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_users_department_role ON users(department, role);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create incidents table",
			SQL: `
				CREATE TABLE IF NOT EXISTS incidents (
					id TEXT PRIMARY KEY,
					rule_id TEXT NOT NULL,
					store_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					severity TEXT NOT NULL,
					summary TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'OPEN',
					related_entity_type TEXT,
					related_entity_id TEXT,
					assigned_to_user_id TEXT,
					first_occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
					last_occurrence_at TIMESTAMP WITH TIME ZONE NOT NULL,
					occurrence_count BIGINT NOT NULL DEFAULT 1,
					last_notified_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_incidents_store ON incidents(store_id);
				CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
				CREATE INDEX IF NOT EXISTS idx_incidents_last_occurrence ON incidents(last_occurrence_at);
				-- Dedup contract: at most one active incident per (store, rule)
				CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_active_pair
					ON incidents(store_id, rule_id) WHERE status IN ('OPEN', 'ACK');
			`,
		},
		{
			Version:     "002",
			Description: "Create notification_groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notification_groups (
					id TEXT PRIMARY KEY,
					dedup_key TEXT NOT NULL UNIQUE,
					recipient_user_id TEXT NOT NULL,
					store_id TEXT NOT NULL,
					rule_id TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'OPEN',
					escalation_step INTEGER NOT NULL DEFAULT 0,
					first_occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
					last_occurrence_at TIMESTAMP WITH TIME ZONE NOT NULL,
					last_notified_at TIMESTAMP WITH TIME ZONE,
					occurrence_count BIGINT NOT NULL DEFAULT 1,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_groups_status ON notification_groups(status);
				CREATE INDEX IF NOT EXISTS idx_groups_recipient ON notification_groups(recipient_user_id);
			`,
		},
		{
			Version:     "003",
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					group_id TEXT NOT NULL,
					incident_id TEXT,
					user_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					title TEXT NOT NULL,
					body TEXT NOT NULL,
					is_read BOOLEAN NOT NULL DEFAULT FALSE,
					read_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					CONSTRAINT fk_notifications_group FOREIGN KEY (group_id) REFERENCES notification_groups (id)
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(user_id, is_read);
				CREATE INDEX IF NOT EXISTS idx_notifications_group ON notifications(group_id);
			`,
		},
		{
			Version:     "004",
			Description: "Create directory tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS stores (
					id TEXT PRIMARY KEY,
					display_name TEXT NOT NULL,
					supervisor_user_id TEXT NOT NULL,
					department TEXT NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS rules (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					event_category TEXT NOT NULL,
					reminder_days INTEGER NOT NULL DEFAULT 0,
					escalation_days INTEGER NOT NULL DEFAULT 0,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					department TEXT NOT NULL,
					role TEXT NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_department_role ON users(department, role);
			`,
		},
	}
}
