// internal/eventstore/schema.go
package eventstore

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	metadata JSONB,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (aggregate_id, version)
)`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	aggregate_id TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data TEXT NOT NULL,
	metadata TEXT,
	version INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (aggregate_id, version)
)`

// Schema returns the DDL creating the events table for driver.
func Schema(driver string) string {
	if driver == "sqlite3" {
		return sqliteSchema
	}
	return postgresSchema
}
