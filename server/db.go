package main

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"

	"github.com/russross/meddler"
)

const schema = `
CREATE TABLE IF NOT EXISTS contents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	h5p_id TEXT NOT NULL UNIQUE,
	title TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS courses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	course_id INTEGER NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
	content_id INTEGER REFERENCES contents (id) ON DELETE SET NULL,
	title TEXT NOT NULL,
	sequence INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS grades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_id INTEGER NOT NULL REFERENCES contents (id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	score REAL NOT NULL,
	raw_score REAL,
	max_score REAL,
	completed BOOLEAN NOT NULL DEFAULT 0,
	success BOOLEAN,
	xapi_verb TEXT,
	xapi_statement TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (content_id, user_id)
);

CREATE INDEX IF NOT EXISTS grades_user_id ON grades (user_id);

CREATE TABLE IF NOT EXISTS lti_launches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	launch_id TEXT NOT NULL UNIQUE,
	issuer TEXT NOT NULL,
	client_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	h5p_id TEXT,
	resource_link_id TEXT,
	lineitem TEXT,
	scopes TEXT,
	score_sent_at DATETIME,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS lti_launches_content_user ON lti_launches (h5p_id, user_id);
`

func setupDB(path string) *sql.DB {
	meddler.Default = meddler.SQLite

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Fatalf("error creating database directory: %v", err)
	}

	options :=
		"?" + "_busy_timeout=10000" +
			"&" + "_foreign_keys=ON" +
			"&" + "_journal_mode=WAL" +
			"&" + "_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", path+options)
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		log.Fatalf("error creating database schema: %v", err)
	}

	return db
}
