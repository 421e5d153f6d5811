package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250601-000000",
		Description: "Initial schema",
		Up: []string{
			// Users - mirror of external identity records, kept for FK targets
			// and audit. The identity service remains the source of truth.
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT,
				created_at TEXT NOT NULL
			)`,

			// Jobs - generation jobs; rows are transitioned, never deleted
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				job_type TEXT NOT NULL DEFAULT 'image',
				status TEXT NOT NULL DEFAULT 'pending',
				prompt TEXT NOT NULL,
				model TEXT NOT NULL,
				aspect_ratio TEXT NOT NULL DEFAULT '16:9',
				negative_prompt TEXT,
				duration_seconds INTEGER DEFAULT 0,
				image_url TEXT,
				thumbnail_url TEXT,
				video_url TEXT,
				progress INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				metadata_json TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,

			// Coin wallets - one row per user, lazily created
			`CREATE TABLE IF NOT EXISTS user_coins (
				user_id TEXT PRIMARY KEY,
				balance INTEGER NOT NULL DEFAULT 0,
				lifetime_earned INTEGER NOT NULL DEFAULT 0,
				lifetime_spent INTEGER NOT NULL DEFAULT 0,
				last_updated TEXT NOT NULL
			)`,

			// Coin transactions - append-only ledger
			`CREATE TABLE IF NOT EXISTS coin_transactions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				type TEXT NOT NULL,
				coins_delta INTEGER NOT NULL,
				balance_after INTEGER NOT NULL,
				reference_id TEXT,
				description TEXT,
				metadata_json TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_coin_transactions_user_id ON coin_transactions(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_coin_transactions_created_at ON coin_transactions(created_at)`,

			// Ad sessions - one row per ad view attempt
			`CREATE TABLE IF NOT EXISTS ad_sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				click_id TEXT UNIQUE NOT NULL,
				zone_id TEXT,
				ad_type TEXT,
				status TEXT NOT NULL DEFAULT 'pending',
				verified INTEGER NOT NULL DEFAULT 0,
				revenue TEXT NOT NULL DEFAULT '0',
				ip TEXT,
				user_agent TEXT,
				created_at TEXT NOT NULL,
				completed_at TEXT,
				postback_timestamp TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ad_sessions_user_id ON ad_sessions(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_ad_sessions_click_id ON ad_sessions(click_id)`,

			// Ad completions - audit row per claimed reward.
			// UNIQUE(session_id) is the claim idempotency key.
			`CREATE TABLE IF NOT EXISTS ad_completions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				session_id TEXT UNIQUE NOT NULL REFERENCES ad_sessions(id),
				click_id TEXT NOT NULL,
				transaction_id TEXT,
				coins INTEGER NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ad_completions_user_id ON ad_completions(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_ad_completions_click_id ON ad_completions(click_id)`,

			// Endpoint registry - inference deployments, inserted by deploy tooling
			`CREATE TABLE IF NOT EXISTS modal_deployments (
				id TEXT PRIMARY KEY,
				deployment_number INTEGER NOT NULL,
				image_url TEXT,
				video_url TEXT,
				is_active INTEGER NOT NULL DEFAULT 0,
				reason TEXT,
				created_at TEXT NOT NULL,
				deactivated_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_modal_deployments_active ON modal_deployments(is_active)`,
			`CREATE INDEX IF NOT EXISTS idx_modal_deployments_number ON modal_deployments(deployment_number)`,
		},
	})
}
