package repository

import "strings"

// schema uses {{ts}} for the timestamp column type; the rest is shared by
// MariaDB and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		owner_id VARCHAR(64) NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS project_members (
		project_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		role VARCHAR(32) NOT NULL,
		PRIMARY KEY (project_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS project_settings (
		project_id VARCHAR(64) NOT NULL PRIMARY KEY,
		settings_json TEXT NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		project_id VARCHAR(64) NOT NULL,
		visitor_id VARCHAR(128) NOT NULL,
		session_id VARCHAR(128) NOT NULL,
		customer_email VARCHAR(255) NULL,
		customer_name VARCHAR(255) NULL,
		status VARCHAR(32) NOT NULL,
		assigned_agent_id VARCHAR(64) NULL,
		created_at {{ts}} NOT NULL,
		queue_entered_at {{ts}} NULL,
		claimed_at {{ts}} NULL,
		first_response_at {{ts}} NULL,
		resolved_at {{ts}} NULL,
		last_message_at {{ts}} NULL,
		message_count INT NOT NULL DEFAULT 0,
		handoff_reason VARCHAR(64) NULL,
		trigger_keyword VARCHAR(255) NULL,
		confidence_at_handoff DOUBLE NULL,
		UNIQUE (project_id, visitor_id, session_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_queue ON conversations (project_id, status, queue_entered_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_idle ON conversations (status, last_message_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		conversation_id VARCHAR(64) NOT NULL,
		sender_type VARCHAR(16) NOT NULL,
		sender_id VARCHAR(64) NULL,
		content TEXT NOT NULL,
		metadata TEXT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS agent_availability (
		agent_id VARCHAR(64) NOT NULL,
		project_id VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		current_chat_count INT NOT NULL DEFAULT 0,
		max_concurrent_chats INT NOT NULL,
		last_assigned_at {{ts}} NULL,
		updated_at {{ts}} NOT NULL,
		PRIMARY KEY (agent_id, project_id)
	)`,
	`CREATE TABLE IF NOT EXISTS lead_capture_states (
		project_id VARCHAR(64) NOT NULL,
		visitor_id VARCHAR(128) NOT NULL,
		status VARCHAR(16) NOT NULL,
		fields_json TEXT NOT NULL,
		pending_index INT NOT NULL DEFAULT 0,
		updated_at {{ts}} NOT NULL,
		PRIMARY KEY (project_id, visitor_id)
	)`,
}

func schemaStatements(d dialect) []string {
	out := make([]string, len(schema))
	for i, stmt := range schema {
		out[i] = strings.ReplaceAll(stmt, "{{ts}}", d.timestamp)
	}
	return out
}
