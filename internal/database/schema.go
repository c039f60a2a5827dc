package database

import (
	"database/sql"
	"fmt"
)

// Database names recognized by EnsureSchema
const (
	NameMain  = "sommos"
	NameCache = "cache"
	NameQueue = "queue"
)

// mainSchema is the wine schema. Invariants live in the DDL so concurrent
// writers cannot violate them regardless of application-layer checks.
const mainSchema = `
CREATE TABLE IF NOT EXISTS wines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    producer TEXT NOT NULL,
    region TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    wine_type TEXT NOT NULL CHECK (wine_type IN ('Red','White','Rosé','Sparkling','Dessert','Fortified')),
    grape_varieties TEXT NOT NULL DEFAULT '[]',
    style TEXT NOT NULL DEFAULT '',
    tasting_notes TEXT NOT NULL DEFAULT '',
    food_pairings TEXT NOT NULL DEFAULT '',
    serving_temp_min REAL NOT NULL DEFAULT 0,
    serving_temp_max REAL NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT 0,
    updated_by TEXT NOT NULL DEFAULT '',
    op_id TEXT NOT NULL DEFAULT '',
    origin TEXT NOT NULL DEFAULT 'server',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (name, producer)
);

CREATE TABLE IF NOT EXISTS vintages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    wine_id INTEGER NOT NULL REFERENCES wines(id),
    year INTEGER NOT NULL CHECK (year BETWEEN 1800 AND 2100),
    quality_score REAL NOT NULL DEFAULT 0 CHECK (quality_score BETWEEN 0 AND 100),
    critic_score REAL NOT NULL DEFAULT 0,
    weather_score REAL NOT NULL DEFAULT 0 CHECK (weather_score BETWEEN 0 AND 100),
    peak_drinking_start INTEGER NOT NULL DEFAULT 0,
    peak_drinking_end INTEGER NOT NULL DEFAULT 0,
    production_notes TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL DEFAULT 0,
    updated_by TEXT NOT NULL DEFAULT '',
    op_id TEXT NOT NULL DEFAULT '',
    origin TEXT NOT NULL DEFAULT 'server',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (wine_id, year)
);

CREATE TABLE IF NOT EXISTS stock (
    vintage_id INTEGER NOT NULL REFERENCES vintages(id),
    location TEXT NOT NULL,
    quantity REAL NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    reserved_quantity REAL NOT NULL DEFAULT 0 CHECK (reserved_quantity >= 0),
    cost_per_bottle REAL NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT 0,
    updated_by TEXT NOT NULL DEFAULT '',
    op_id TEXT NOT NULL DEFAULT '',
    origin TEXT NOT NULL DEFAULT 'server',
    PRIMARY KEY (vintage_id, location),
    CHECK (reserved_quantity <= quantity)
);

CREATE TABLE IF NOT EXISTS ledger (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    vintage_id INTEGER NOT NULL REFERENCES vintages(id),
    transaction_type TEXT NOT NULL CHECK (transaction_type IN
        ('INTAKE','RECEIVE','CONSUME','MOVE_OUT','MOVE_IN','RESERVE','UNRESERVE','ADJUST')),
    location TEXT NOT NULL,
    quantity REAL NOT NULL,
    unit_cost REAL NOT NULL DEFAULT 0,
    reference_id TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ledger_vintage_location ON ledger(vintage_id, location);
CREATE INDEX IF NOT EXISTS idx_ledger_created_at ON ledger(created_at);

CREATE TABLE IF NOT EXISTS suppliers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    contact TEXT NOT NULL DEFAULT '',
    rating REAL NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS intake_orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    supplier_id INTEGER NOT NULL REFERENCES suppliers(id),
    status TEXT NOT NULL DEFAULT 'ORDERED' CHECK (status IN
        ('ORDERED','PARTIALLY_RECEIVED','RECEIVED','CANCELLED')),
    order_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expected_delivery DATETIME,
    notes TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS intake_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id INTEGER NOT NULL REFERENCES intake_orders(id),
    vintage_id INTEGER NOT NULL REFERENCES vintages(id),
    expected_quantity REAL NOT NULL CHECK (expected_quantity > 0),
    outstanding_quantity REAL NOT NULL CHECK (outstanding_quantity >= 0),
    unit_cost REAL NOT NULL DEFAULT 0,
    location TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_intake_items_order ON intake_items(order_id);

CREATE TABLE IF NOT EXISTS pairing_recommendations (
    id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    dish TEXT NOT NULL,
    context_json TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL,
    selections TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_pairing_recs_fingerprint ON pairing_recommendations(fingerprint);
CREATE INDEX IF NOT EXISTS idx_pairing_recs_created_at ON pairing_recommendations(created_at);

CREATE TABLE IF NOT EXISTS pairing_feedback (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recommendation_id TEXT NOT NULL REFERENCES pairing_recommendations(id),
    ratings TEXT NOT NULL DEFAULT '{}',
    selected INTEGER NOT NULL DEFAULT 0,
    time_to_select_ms INTEGER NOT NULL DEFAULT 0,
    notes TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS weather_vintage (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    region TEXT NOT NULL,
    year INTEGER NOT NULL,
    gdd REAL NOT NULL DEFAULT 0,
    huglin_index REAL NOT NULL DEFAULT 0,
    diurnal_range REAL NOT NULL DEFAULT 0,
    heatwave_days INTEGER NOT NULL DEFAULT 0,
    frost_days INTEGER NOT NULL DEFAULT 0,
    precipitation_total REAL NOT NULL DEFAULT 0,
    wet_days INTEGER NOT NULL DEFAULT 0,
    ripeness_score REAL NOT NULL DEFAULT 0,
    acidity_score REAL NOT NULL DEFAULT 0,
    tannin_score REAL NOT NULL DEFAULT 0,
    disease_pressure REAL NOT NULL DEFAULT 0,
    overall_score REAL NOT NULL DEFAULT 0 CHECK (overall_score BETWEEN 0 AND 100),
    confidence REAL NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 1),
    resolution_source TEXT NOT NULL DEFAULT '',
    retrieved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (region, year)
);

CREATE TABLE IF NOT EXISTS applied_ops (
    op_id TEXT PRIMARY KEY,
    outcome BLOB NOT NULL,
    payload_hash TEXT NOT NULL DEFAULT '',
    applied_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_applied_ops_applied_at ON applied_ops(applied_at);

CREATE TABLE IF NOT EXISTS experiments (
    name TEXT PRIMARY KEY,
    variants TEXT NOT NULL DEFAULT '[]',
    traffic REAL NOT NULL DEFAULT 1.0 CHECK (traffic BETWEEN 0 AND 1),
    active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS experiment_events (
    id TEXT PRIMARY KEY,
    experiment TEXT NOT NULL,
    variant TEXT NOT NULL,
    subject TEXT NOT NULL,
    kind TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiment_events_experiment ON experiment_events(experiment);
`

// cacheSchema backs the persistent TTL caches for external payloads
const cacheSchema = `
CREATE TABLE IF NOT EXISTS weather_cache (
    cache_key TEXT PRIMARY KEY,
    payload BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weather_cache_expires ON weather_cache(expires_at);

CREATE TABLE IF NOT EXISTS geocode_cache (
    cache_key TEXT PRIMARY KEY,
    payload BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_geocode_cache_expires ON geocode_cache(expires_at);
`

// queueSchema backs the client-side durable operation queue
const queueSchema = `
CREATE TABLE IF NOT EXISTS queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    op_id TEXT NOT NULL UNIQUE,
    endpoint TEXT NOT NULL,
    method TEXT NOT NULL,
    headers BLOB,
    body BLOB,
    updated_at INTEGER NOT NULL,
    origin TEXT NOT NULL,
    enqueued_at INTEGER NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    next_attempt_at INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dead_letter (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    op_id TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    method TEXT NOT NULL,
    headers BLOB,
    body BLOB,
    updated_at INTEGER NOT NULL,
    origin TEXT NOT NULL,
    enqueued_at INTEGER NOT NULL,
    attempts INTEGER NOT NULL,
    failed_at INTEGER NOT NULL,
    reason TEXT NOT NULL DEFAULT ''
);
`

// EnsureSchema applies the idempotent DDL for this database's role.
// Unknown names are skipped so ad-hoc databases (tests, tooling) can opt out.
func (db *DB) EnsureSchema() error {
	var ddl string
	switch db.name {
	case NameMain:
		ddl = mainSchema
	case NameCache:
		ddl = cacheSchema
	case NameQueue:
		ddl = queueSchema
	default:
		return nil
	}

	return WithTransaction(db.conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("failed to apply %s schema: %w", db.name, err)
		}
		return nil
	})
}
