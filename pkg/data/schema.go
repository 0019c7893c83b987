package data

// schemaStatements create the ledger tables. Each statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ledger_snapshots (
		id         UUID PRIMARY KEY,
		seq        BIGINT NOT NULL UNIQUE,
		election   BYTEA NOT NULL,
		ledger     BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
		seq         BIGINT PRIMARY KEY,
		id          UUID NOT NULL UNIQUE,
		type        TEXT NOT NULL,
		actor       TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		body        BYTEA NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_events_type ON ledger_events (type)`,
}
