package archive

// SQL schema constants for the archive tables.

const schemaStepRuns = `
CREATE TABLE IF NOT EXISTS step_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    step TEXT NOT NULL,
    status TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_step_runs_session ON step_runs(session_id);
CREATE INDEX IF NOT EXISTS idx_step_runs_created ON step_runs(created_at);
`

const schemaFundamentals = `
CREATE TABLE IF NOT EXISTS fundamentals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    stock_code TEXT NOT NULL,
    exchange_code TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    trailing_pe REAL,
    forward_pe REAL,
    forward_dividend_yield REAL,
    free_cash_flow_margin REAL,
    as_of TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fundamentals_session ON fundamentals(session_id);
CREATE INDEX IF NOT EXISTS idx_fundamentals_created ON fundamentals(created_at);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = []string{
	schemaStepRuns,
	schemaFundamentals,
	schemaMigrations,
}
