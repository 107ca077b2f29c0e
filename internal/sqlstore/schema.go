// internal/sqlstore/schema.go
package sqlstore

import "libralend/internal/eventstore"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		title TEXT NOT NULL UNIQUE,
		author TEXT NOT NULL,
		isbn TEXT NOT NULL UNIQUE,
		published_date DATE NOT NULL,
		genre TEXT NOT NULL,
		language TEXT NOT NULL,
		shelf_location TEXT NOT NULL,
		quantity INT NOT NULL CHECK (quantity >= 0),
		status TEXT NOT NULL CHECK (status IN ('Available', 'Unavailable')),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lending_records (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		borrower_name TEXT NOT NULL,
		borrower_contact TEXT NOT NULL DEFAULT '',
		book_title TEXT NOT NULL REFERENCES books (title),
		year_level TEXT NOT NULL DEFAULT '',
		program_course TEXT NOT NULL DEFAULT '',
		date_borrowed DATE NOT NULL,
		date_returned DATE,
		status TEXT NOT NULL CHECK (status IN ('Outstanding', 'Closed'))
	)`,
	`CREATE INDEX IF NOT EXISTS lending_records_outstanding
		ON lending_records (book_title, seq) WHERE status = 'Outstanding'`,
	eventstore.Schema("postgres"),
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL UNIQUE,
		author TEXT NOT NULL,
		isbn TEXT NOT NULL UNIQUE,
		published_date DATE NOT NULL,
		genre TEXT NOT NULL,
		language TEXT NOT NULL,
		shelf_location TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		status TEXT NOT NULL CHECK (status IN ('Available', 'Unavailable')),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lending_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		borrower_name TEXT NOT NULL,
		borrower_contact TEXT NOT NULL DEFAULT '',
		book_title TEXT NOT NULL REFERENCES books (title),
		year_level TEXT NOT NULL DEFAULT '',
		program_course TEXT NOT NULL DEFAULT '',
		date_borrowed DATE NOT NULL,
		date_returned DATE,
		status TEXT NOT NULL CHECK (status IN ('Outstanding', 'Closed'))
	)`,
	`CREATE INDEX IF NOT EXISTS lending_records_outstanding
		ON lending_records (book_title, seq) WHERE status = 'Outstanding'`,
	eventstore.Schema("sqlite3"),
}

func schemaFor(driver string) []string {
	if driver == DriverSQLite {
		return sqliteSchema
	}
	return postgresSchema
}
