// Package archive provides a SQLite-backed history layer for screener runs.
// It records step executions and the fundamentals rows each screener pass
// produced, so past runs can be inspected after their session files are gone.
// The archive is optional: the daemon runs fine with it disabled.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// basePragmas configures every connection: a generous busy timeout, WAL so
// readers never block the writer, and enforced foreign keys.
const basePragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"

// Archive is the SQLite run history. All writes go through one dedicated
// connection so they serialise cleanly under WAL; reads come from a small
// separate pool.
type Archive struct {
	writer    *sql.DB
	reader    *sql.DB
	path      string
	closeOnce sync.Once
}

// Open opens the database at path, creating the file and its parent
// directory as needed, and brings the schema up to date.
func Open(path string) (*Archive, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("archive: create directory %s: %w", dir, err)
	}

	writer, err := openPool(path+basePragmas, 1)
	if err != nil {
		return nil, fmt.Errorf("archive: open writer: %w", err)
	}

	// query_only rejects stray writes on the read side at the connection
	// level.
	reader, err := openPool(path+basePragmas+"&_pragma=query_only(ON)", 4)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("archive: open reader: %w", err)
	}

	a := &Archive{writer: writer, reader: reader, path: path}
	if err := a.Migrate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return a, nil
}

// openPool opens a SQLite handle with a fixed connection count and verifies
// it with a ping.
func openPool(dsn string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes both handles. Safe to call more than once.
func (a *Archive) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = errors.Join(a.writer.Close(), a.reader.Close())
	})
	return err
}

// Writer returns the single-connection write handle. Prefer the typed
// methods on Archive for regular operations.
func (a *Archive) Writer() *sql.DB {
	return a.writer
}

// Reader returns the read-only pool.
func (a *Archive) Reader() *sql.DB {
	return a.reader
}

// Path returns the filesystem path of the database.
func (a *Archive) Path() string {
	return a.path
}

// Ping verifies both sides of the pool.
func (a *Archive) Ping() error {
	if err := a.writer.Ping(); err != nil {
		return fmt.Errorf("archive: writer ping: %w", err)
	}
	if err := a.reader.Ping(); err != nil {
		return fmt.Errorf("archive: reader ping: %w", err)
	}
	return nil
}

// Prune deletes step runs and fundamentals rows older than retentionDays,
// returning how many rows were removed.
func (a *Archive) Prune(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	var total int64
	for _, table := range []string{"step_runs", "fundamentals"} {
		res, err := a.writer.Exec("DELETE FROM "+table+" WHERE created_at < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("archive: prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("archive: prune %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}
