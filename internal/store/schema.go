package store

// schema is applied in order at startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id VARCHAR(128) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS menu_items (
		seq BIGSERIAL UNIQUE,
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
		category_id VARCHAR(128) NOT NULL REFERENCES categories(id),
		image_url TEXT,
		available BOOLEAN NOT NULL DEFAULT TRUE,
		popular BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS actors (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(320) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(32),
		role VARCHAR(16) NOT NULL CHECK (role IN ('owner', 'livreur', 'client')),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		seq BIGSERIAL UNIQUE,
		id VARCHAR(64) PRIMARY KEY,
		customer_name VARCHAR(255) NOT NULL,
		customer_email VARCHAR(320) NOT NULL,
		customer_phone VARCHAR(32) NOT NULL,
		items JSONB NOT NULL,
		total_amount NUMERIC(10,2) NOT NULL,
		delivery_fee NUMERIC(10,2) NOT NULL DEFAULT 0,
		order_type VARCHAR(16) NOT NULL CHECK (order_type IN ('pickup', 'delivery')),
		delivery_address TEXT,
		notes TEXT,
		preferred_time VARCHAR(64),
		status VARCHAR(16) NOT NULL CHECK (status IN ('pending', 'confirmed', 'refused', 'delivered')),
		livreur_id BIGINT REFERENCES actors(id),
		user_id BIGINT REFERENCES actors(id),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_livreur_status ON orders(livreur_id, status)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(320) NOT NULL,
		phone VARCHAR(32) NOT NULL,
		date VARCHAR(10) NOT NULL,
		time VARCHAR(5) NOT NULL,
		party_size INTEGER NOT NULL CHECK (party_size BETWEEN 1 AND 20),
		special_requests TEXT,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}
