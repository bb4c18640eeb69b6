package database

// PostgresSchema creates the relational model. Enumerated columns use
// native enum types so the literal values are enforced by the database.
func PostgresSchema() []string {
	return []string{
		`DO $$ BEGIN
			CREATE TYPE user_status AS ENUM ('active', 'inactive', 'churned');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`DO $$ BEGIN
			CREATE TYPE subscription_status AS ENUM ('active', 'cancelled', 'paused', 'expired');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`DO $$ BEGIN
			CREATE TYPE billing_cycle AS ENUM ('monthly', 'annual');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`DO $$ BEGIN
			CREATE TYPE signup_channel AS ENUM ('organic', 'paid_search', 'paid_social', 'referral', 'content', 'email', 'direct');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`DO $$ BEGIN
			CREATE TYPE revenue_event_type AS ENUM ('payment', 'refund', 'upgrade', 'downgrade');
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

		`CREATE TABLE IF NOT EXISTS plans (
			id INTEGER PRIMARY KEY,
			name VARCHAR(50) NOT NULL UNIQUE CHECK (name IN ('free', 'basic', 'premium')),
			price_monthly DECIMAL(10, 2) NOT NULL,
			price_annual DECIMAL(10, 2) NOT NULL,
			max_projects INTEGER NOT NULL,
			max_team_members INTEGER NOT NULL,
			features JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL,
			activated_at TIMESTAMPTZ,
			last_login_at TIMESTAMPTZ,
			status user_status NOT NULL,
			signup_channel signup_channel NOT NULL,
			country_code CHAR(2) NOT NULL,
			utm_source VARCHAR(100),
			utm_medium VARCHAR(100),
			utm_campaign VARCHAR(100),
			referred_by_user_id UUID REFERENCES users (id)
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users (id),
			plan_id INTEGER NOT NULL REFERENCES plans (id),
			status subscription_status NOT NULL,
			billing_cycle billing_cycle NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			mrr DECIMAL(10, 2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_one_active
			ON subscriptions (user_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS subscriptions_user_started ON subscriptions (user_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users (id),
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id UUID PRIMARY KEY,
			project_id UUID NOT NULL REFERENCES projects (id),
			user_id UUID NOT NULL REFERENCES users (id),
			title VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			is_completed BOOLEAN NOT NULL,
			CHECK (is_completed = (completed_at IS NOT NULL))
		)`,
		`CREATE TABLE IF NOT EXISTS team_memberships (
			id UUID PRIMARY KEY,
			inviter_user_id UUID NOT NULL REFERENCES users (id),
			invited_user_id UUID NOT NULL REFERENCES users (id),
			project_id UUID NOT NULL REFERENCES projects (id),
			invited_at TIMESTAMPTZ NOT NULL,
			accepted_at TIMESTAMPTZ,
			role VARCHAR(50) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS revenue_events (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users (id),
			subscription_id UUID NOT NULL REFERENCES subscriptions (id),
			amount DECIMAL(10, 2) NOT NULL,
			event_type revenue_event_type NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			stripe_payment_id VARCHAR(255)
		)`,
		`CREATE INDEX IF NOT EXISTS revenue_events_occurred ON revenue_events (occurred_at)`,
		`CREATE TABLE IF NOT EXISTS user_activities (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users (id),
			activity_type VARCHAR(100) NOT NULL,
			metadata JSONB,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS funnel_events (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users (id),
			event_name VARCHAR(100) NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			session_id VARCHAR(255),
			page_url VARCHAR(500)
		)`,

		// The one place SQL turns a stored amount into its monthly equivalent.
		// Mirrors model.MonthlyRecurringRevenue.
		`CREATE OR REPLACE FUNCTION monthly_mrr(cycle billing_cycle, amount NUMERIC)
			RETURNS NUMERIC LANGUAGE SQL IMMUTABLE AS $$
			SELECT CASE WHEN cycle = 'annual' THEN amount / 12 ELSE amount END
		$$`,
	}
}

// PostgresTypes are dropped by Reset after the tables.
var PostgresTypes = []string{"user_status", "subscription_status", "billing_cycle", "signup_channel", "revenue_event_type"}

// MySQLSchema mirrors PostgresSchema with inline ENUM columns. DATETIME(6)
// columns hold UTC.
func MySQLSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id INT PRIMARY KEY,
			name ENUM('free', 'basic', 'premium') NOT NULL UNIQUE,
			price_monthly DECIMAL(10, 2) NOT NULL,
			price_annual DECIMAL(10, 2) NOT NULL,
			max_projects INT NOT NULL,
			max_team_members INT NOT NULL,
			features JSON NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id CHAR(36) PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			created_at DATETIME(6) NOT NULL,
			activated_at DATETIME(6) NULL,
			last_login_at DATETIME(6) NULL,
			status ENUM('active', 'inactive', 'churned') NOT NULL,
			signup_channel ENUM('organic', 'paid_search', 'paid_social', 'referral', 'content', 'email', 'direct') NOT NULL,
			country_code CHAR(2) NOT NULL,
			utm_source VARCHAR(100) NULL,
			utm_medium VARCHAR(100) NULL,
			utm_campaign VARCHAR(100) NULL,
			referred_by_user_id CHAR(36) NULL,
			FOREIGN KEY (referred_by_user_id) REFERENCES users (id)
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id CHAR(36) PRIMARY KEY,
			user_id CHAR(36) NOT NULL,
			plan_id INT NOT NULL,
			status ENUM('active', 'cancelled', 'paused', 'expired') NOT NULL,
			billing_cycle ENUM('monthly', 'annual') NOT NULL,
			started_at DATETIME(6) NOT NULL,
			ended_at DATETIME(6) NULL,
			cancelled_at DATETIME(6) NULL,
			mrr DECIMAL(10, 2) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX subscriptions_user_started (user_id, started_at),
			FOREIGN KEY (user_id) REFERENCES users (id),
			FOREIGN KEY (plan_id) REFERENCES plans (id)
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id CHAR(36) PRIMARY KEY,
			user_id CHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			completed_at DATETIME(6) NULL,
			is_active BOOLEAN NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users (id)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id CHAR(36) PRIMARY KEY,
			project_id CHAR(36) NOT NULL,
			user_id CHAR(36) NOT NULL,
			title VARCHAR(255) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			completed_at DATETIME(6) NULL,
			is_completed BOOLEAN NOT NULL,
			CHECK (is_completed = (completed_at IS NOT NULL)),
			FOREIGN KEY (project_id) REFERENCES projects (id),
			FOREIGN KEY (user_id) REFERENCES users (id)
		)`,
		`CREATE TABLE IF NOT EXISTS team_memberships (
			id CHAR(36) PRIMARY KEY,
			inviter_user_id CHAR(36) NOT NULL,
			invited_user_id CHAR(36) NOT NULL,
			project_id CHAR(36) NOT NULL,
			invited_at DATETIME(6) NOT NULL,
			accepted_at DATETIME(6) NULL,
			role VARCHAR(50) NOT NULL,
			FOREIGN KEY (inviter_user_id) REFERENCES users (id),
			FOREIGN KEY (invited_user_id) REFERENCES users (id),
			FOREIGN KEY (project_id) REFERENCES projects (id)
		)`,
		`CREATE TABLE IF NOT EXISTS revenue_events (
			id CHAR(36) PRIMARY KEY,
			user_id CHAR(36) NOT NULL,
			subscription_id CHAR(36) NOT NULL,
			amount DECIMAL(10, 2) NOT NULL,
			event_type ENUM('payment', 'refund', 'upgrade', 'downgrade') NOT NULL,
			occurred_at DATETIME(6) NOT NULL,
			stripe_payment_id VARCHAR(255) NULL,
			INDEX revenue_events_occurred (occurred_at),
			FOREIGN KEY (user_id) REFERENCES users (id),
			FOREIGN KEY (subscription_id) REFERENCES subscriptions (id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_activities (
			id CHAR(36) PRIMARY KEY,
			user_id CHAR(36) NOT NULL,
			activity_type VARCHAR(100) NOT NULL,
			metadata JSON NULL,
			occurred_at DATETIME(6) NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users (id)
		)`,
		`CREATE TABLE IF NOT EXISTS funnel_events (
			id CHAR(36) PRIMARY KEY,
			user_id CHAR(36) NOT NULL,
			event_name VARCHAR(100) NOT NULL,
			occurred_at DATETIME(6) NOT NULL,
			session_id VARCHAR(255) NULL,
			page_url VARCHAR(500) NULL,
			FOREIGN KEY (user_id) REFERENCES users (id)
		)`,
	}
}
