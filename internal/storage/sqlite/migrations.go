package sqlite

import "database/sql"

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS labs (
    id             INTEGER PRIMARY KEY,
    title          TEXT NOT NULL DEFAULT '',
    prompt         TEXT NOT NULL DEFAULT '',
    max_score      INTEGER NOT NULL DEFAULT 100 CHECK(max_score >= 0),
    starter_bundle TEXT NOT NULL DEFAULT '',
    test_bundle    TEXT NOT NULL DEFAULT '',
    created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS lab_submissions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    lab_id        INTEGER NOT NULL REFERENCES labs(id) ON DELETE CASCADE,
    submitter_id  TEXT NOT NULL,
    code          TEXT NOT NULL,
    score         INTEGER NOT NULL DEFAULT 0,
    passed        INTEGER NOT NULL DEFAULT 0,
    test_results  TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    timed_out     INTEGER NOT NULL DEFAULT 0,
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    submitted_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_submissions_lab_submitter
    ON lab_submissions(lab_id, submitter_id, submitted_at DESC);
`

func runMigrations(db *sql.DB) error {
	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	var current int
	row := db.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&current); err != nil {
		// Fresh database
		current = 0
	}

	if current >= schemaVersion {
		return nil
	}

	if current < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return err
		}
	}

	_, err := db.Exec(`
		DELETE FROM schema_version;
		INSERT INTO schema_version (version) VALUES (?);
	`, schemaVersion)
	return err
}
