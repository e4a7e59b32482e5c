// Package schema defines the engine's database schema for development.
//
// DEVELOPMENT USE ONLY
// This file contains the current database schema and is used for development and testing.
// Before deploying to production, these table definitions should be converted to proper migrations.
package schema

// TableDefinitions contains all the SQL statements to create the database tables.
// Don't put REFERENCES and don't put CHECK constraints in the CREATE TABLE statements.
var TableDefinitions = []string{
	`CREATE TABLE IF NOT EXISTS sender_accounts (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		provider_kind VARCHAR(20) NOT NULL,
		encrypted_config BYTEA NOT NULL,
		daily_cap INTEGER NOT NULL DEFAULT 0,
		campaign_cap INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		circuit_breaker_until TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS send_counts (
		account_id UUID NOT NULL,
		date VARCHAR(10) NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (account_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS templates (
		id VARCHAR(255) PRIMARY KEY,
		html TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		template_ref VARCHAR(255) NOT NULL,
		subject TEXT NOT NULL,
		total_recipients INTEGER NOT NULL DEFAULT 0,
		successful INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		queued INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL,
		scheduled_for TIMESTAMP,
		cc TEXT,
		bcc TEXT,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS send_logs (
		id UUID PRIMARY KEY,
		campaign_id UUID NOT NULL,
		account_id UUID,
		recipient_email VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		sent_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deferred_queue (
		id UUID PRIMARY KEY,
		campaign_id UUID NOT NULL,
		recipient_email VARCHAR(255) NOT NULL,
		recipient_data JSONB,
		scheduled_for TIMESTAMP NOT NULL,
		status VARCHAR(20) NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_tokens (
		token VARCHAR(64) PRIMARY KEY,
		campaign_id UUID NOT NULL,
		recipient_email VARCHAR(255) NOT NULL,
		UNIQUE (campaign_id, recipient_email)
	)`,
	`CREATE TABLE IF NOT EXISTS recurring_campaigns (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		template_ref VARCHAR(255) NOT NULL,
		subject TEXT NOT NULL,
		cron_expr VARCHAR(100) NOT NULL,
		timezone VARCHAR(100) NOT NULL,
		recipient_source VARCHAR(20) NOT NULL,
		recipient_ref TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_at TIMESTAMP,
		next_run_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sequence_steps (
		id UUID PRIMARY KEY,
		sequence_id UUID NOT NULL,
		step_order INTEGER NOT NULL,
		template_ref VARCHAR(255) NOT NULL,
		subject TEXT NOT NULL,
		delay_days INTEGER NOT NULL DEFAULT 0,
		delay_hours INTEGER NOT NULL DEFAULT 0,
		send_time VARCHAR(5),
		UNIQUE (sequence_id, step_order)
	)`,
	`CREATE TABLE IF NOT EXISTS sequence_enrollments (
		id UUID PRIMARY KEY,
		sequence_id UUID NOT NULL,
		recipient_email VARCHAR(255) NOT NULL,
		recipient_data JSONB,
		current_step INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL,
		next_send_at TIMESTAMP,
		completed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_send_logs_campaign_id ON send_logs (campaign_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deferred_queue_status_scheduled ON deferred_queue (status, scheduled_for)`,
	`CREATE INDEX IF NOT EXISTS idx_sequence_enrollments_status_next_send ON sequence_enrollments (status, next_send_at)`,
	`CREATE INDEX IF NOT EXISTS idx_recurring_campaigns_enabled_next_run ON recurring_campaigns (enabled, next_run_at)`,
}

// TableNames lists all table names in creation order, used by CleanDatabase
// to drop them in reverse.
var TableNames = []string{
	"sender_accounts",
	"send_counts",
	"templates",
	"campaigns",
	"send_logs",
	"deferred_queue",
	"tracking_tokens",
	"recurring_campaigns",
	"sequence_steps",
	"sequence_enrollments",
}
