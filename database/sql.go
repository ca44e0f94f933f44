// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package database

import (
	"github.com/almalinux/mirrorsvc/core"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Relational schema of the published mirror catalogue. The whole set
// is rewritten every update cycle, so everything cascades from mirrors.
const schema = `
CREATE TABLE IF NOT EXISTS mirrors (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	continent TEXT NOT NULL,
	country TEXT NOT NULL,
	state_province TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL,
	ipv6 INTEGER NOT NULL DEFAULT 0,
	latitude REAL NOT NULL DEFAULT 0,
	longitude REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	update_frequency TEXT NOT NULL,
	sponsor_name TEXT NOT NULL DEFAULT '',
	sponsor_url TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	asn TEXT NOT NULL DEFAULT '',
	cloud_type TEXT NOT NULL DEFAULT '',
	cloud_regions TEXT NOT NULL DEFAULT '',
	private INTEGER NOT NULL DEFAULT 0,
	monopoly INTEGER NOT NULL DEFAULT 0,
	mirror_url TEXT NOT NULL DEFAULT '',
	iso_url TEXT NOT NULL DEFAULT '',
	has_full_iso_set INTEGER NOT NULL DEFAULT 0,
	has_optional_modules TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS urls (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS module_urls (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	type TEXT NOT NULL,
	module TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subnets (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	subnet TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subnets_int (
	id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	subnet_start TEXT NOT NULL,
	subnet_end TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mirrors_urls (
	mirror_id INTEGER REFERENCES mirrors(id) ON DELETE CASCADE,
	url_id INTEGER REFERENCES urls(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS mirrors_module_urls (
	mirror_id INTEGER REFERENCES mirrors(id) ON DELETE CASCADE,
	url_id INTEGER REFERENCES module_urls(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS mirrors_subnets (
	mirror_id INTEGER REFERENCES mirrors(id) ON DELETE CASCADE,
	subnet_id INTEGER REFERENCES subnets(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS mirrors_subnets_int (
	mirror_id INTEGER REFERENCES mirrors(id) ON DELETE CASCADE,
	subnet_id INTEGER REFERENCES subnets_int(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_mirrors_status ON mirrors (status);
CREATE INDEX IF NOT EXISTS idx_mirrors_urls_mirror ON mirrors_urls (mirror_id);
CREATE INDEX IF NOT EXISTS idx_mirrors_module_urls_mirror ON mirrors_module_urls (mirror_id);
CREATE INDEX IF NOT EXISTS idx_mirrors_subnets_mirror ON mirrors_subnets (mirror_id);
CREATE INDEX IF NOT EXISTS idx_mirrors_subnets_int_mirror ON mirrors_subnets_int (mirror_id);
`

// SQL wraps the relational store holding the published mirror catalogue
type SQL struct {
	DB *sqlx.DB
}

// NewSQL opens the SQLite database and ensures the schema exists
func NewSQL() (*SQL, error) {
	return NewSQLPath(core.SQLitePath())
}

// NewSQLPath opens a SQLite database at an explicit path. Tests use it
// with ":memory:".
func NewSQLPath(path string) (*SQL, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}

	// SQLite serializes writers anyway, a single connection avoids
	// SQLITE_BUSY during the catalogue swap.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	return &SQL{DB: db}, nil
}

// Close closes the underlying database handle
func (s *SQL) Close() error {
	return s.DB.Close()
}
