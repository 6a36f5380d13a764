package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260110-000000",
		Description: "Initial schema",
		Up: []string{
			// Audit runs - one crawl+analysis execution per row.
			// user_id references the hosted auth provider's user IDs (no FK).
			// Exactly one of user_id / session_token is non-empty.
			`CREATE TABLE IF NOT EXISTS audit_runs (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL DEFAULT '',
				session_token TEXT NOT NULL DEFAULT '',
				domain TEXT NOT NULL,
				tier TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				job_handle TEXT NOT NULL DEFAULT '',
				pages_audited INTEGER NOT NULL DEFAULT 0,
				audited_urls_json TEXT NOT NULL DEFAULT '[]',
				error_kind TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_runs_user_domain ON audit_runs(user_id, domain)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_runs_session ON audit_runs(session_token)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_runs_status ON audit_runs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_runs_created_at ON audit_runs(created_at)`,

			// Issues - detected problems, scoped to a single run.
			// id is a ULID so lexicographic ordering matches creation order,
			// which the streaming reader relies on for incremental fetches.
			`CREATE TABLE IF NOT EXISTS issues (
				id TEXT PRIMARY KEY,
				audit_run_id TEXT NOT NULL REFERENCES audit_runs(id) ON DELETE CASCADE,
				page_url TEXT NOT NULL,
				category TEXT NOT NULL,
				description TEXT NOT NULL,
				suggested_fix TEXT NOT NULL DEFAULT '',
				severity TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				signature TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_issues_run_id ON issues(audit_run_id)`,
			`CREATE INDEX IF NOT EXISTS idx_issues_signature ON issues(signature)`,

			// Issue states - cross-run memory of ignore/resolve decisions,
			// joined to issues by content signature rather than issue id.
			`CREATE TABLE IF NOT EXISTS issue_states (
				user_id TEXT NOT NULL,
				domain TEXT NOT NULL,
				signature TEXT NOT NULL,
				state TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (user_id, domain, signature)
			)`,

			// Audit usage - daily counters for the rate limiter.
			// The composite key makes increment-or-insert race-safe.
			`CREATE TABLE IF NOT EXISTS audit_usage (
				user_id TEXT NOT NULL,
				domain TEXT NOT NULL,
				date TEXT NOT NULL,
				count INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (user_id, domain, date)
			)`,

			// Scheduled audits - weekly re-audit toggle per (user, domain).
			`CREATE TABLE IF NOT EXISTS scheduled_audits (
				user_id TEXT NOT NULL,
				domain TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 0,
				next_run_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (user_id, domain)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scheduled_audits_next_run ON scheduled_audits(enabled, next_run_at)`,

			// Health milestones - one row per upward score-threshold crossing
			// already celebrated, so each milestone fires at most once.
			`CREATE TABLE IF NOT EXISTS health_milestones (
				user_id TEXT NOT NULL,
				domain TEXT NOT NULL,
				milestone INTEGER NOT NULL,
				celebrated_at TEXT NOT NULL,
				PRIMARY KEY (user_id, domain, milestone)
			)`,
		},
	})
}
