package database

// schema contains all table definitions. Each statement is idempotent (CREATE IF NOT EXISTS).
// Timestamps are unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS mode_runs (
    id          TEXT    PRIMARY KEY,
    mode        TEXT    NOT NULL,
    planned     INTEGER,
    visits      INTEGER NOT NULL DEFAULT 0,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER,
    stop_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_mode_runs_started
    ON mode_runs (started_at);

CREATE TABLE IF NOT EXISTS visit_outcomes (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    level        TEXT    NOT NULL,
    url          TEXT    NOT NULL,
    status       INTEGER,
    elapsed      REAL,
    access_count INTEGER NOT NULL,
    mode         TEXT,
    message      TEXT    NOT NULL,
    timestamp    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_visit_outcomes_url
    ON visit_outcomes (url);
`
