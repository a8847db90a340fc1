package db

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		balance TEXT NOT NULL DEFAULT '0',
		remote_user_id INTEGER,
		remote_password TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deleted_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		email TEXT,
		is_admin INTEGER NOT NULL DEFAULT 0,
		balance TEXT NOT NULL DEFAULT '0',
		remote_user_id INTEGER,
		created_at DATETIME,
		deleted_by INTEGER,
		deleted_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		nest_id INTEGER NOT NULL DEFAULT 0,
		egg_id INTEGER NOT NULL DEFAULT 0,
		ram INTEGER NOT NULL DEFAULT 0,
		disk INTEGER NOT NULL DEFAULT 0,
		cpu INTEGER NOT NULL DEFAULT 0,
		databases INTEGER NOT NULL DEFAULT 0,
		backups INTEGER NOT NULL DEFAULT 0,
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		price TEXT NOT NULL DEFAULT '0',
		environment TEXT,
		startup TEXT NOT NULL DEFAULT '',
		docker_image TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		server_name TEXT NOT NULL,
		price TEXT NOT NULL DEFAULT '0',
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		status TEXT NOT NULL DEFAULT 'pending',
		server_id TEXT,
		remote_response TEXT,
		provision_step TEXT NOT NULL DEFAULT 'created',
		created_at DATETIME NOT NULL,
		expires_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status_expiry ON orders (status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS order_logs (
		id TEXT PRIMARY KEY,
		order_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_logs_order ON order_logs (order_id, created_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		remote_user_id BIGINT,
		remote_password TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deleted_users (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		username TEXT NOT NULL,
		email TEXT,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		remote_user_id BIGINT,
		created_at TIMESTAMPTZ,
		deleted_by BIGINT,
		deleted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plans (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		nest_id BIGINT NOT NULL DEFAULT 0,
		egg_id BIGINT NOT NULL DEFAULT 0,
		ram BIGINT NOT NULL DEFAULT 0,
		disk BIGINT NOT NULL DEFAULT 0,
		cpu BIGINT NOT NULL DEFAULT 0,
		databases BIGINT NOT NULL DEFAULT 0,
		backups BIGINT NOT NULL DEFAULT 0,
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		price NUMERIC(12,2) NOT NULL DEFAULT 0,
		environment TEXT,
		startup TEXT NOT NULL DEFAULT '',
		docker_image TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		plan_id BIGINT NOT NULL,
		server_name TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL DEFAULT 0,
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		status TEXT NOT NULL DEFAULT 'pending',
		server_id TEXT,
		remote_response TEXT,
		provision_step TEXT NOT NULL DEFAULT 'created',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status_expiry ON orders (status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS order_logs (
		id UUID PRIMARY KEY,
		order_id BIGINT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_logs_order ON order_logs (order_id, created_at)`,
}
