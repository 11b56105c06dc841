// Package archive is the replay server's durable state: recorded entries
// indexed for lookup, plus an access log of everything served.
//
// DESIGN: Entries live in sqlite keyed by (method, host, path). The query
// string is deliberately not part of the key - distinct query variants
// collapse onto one entry, a documented limitation of the rewriting scheme
// that downstream behavior depends on. Duplicate keys are logged and skipped,
// first entry wins. Load replaces the whole table in one transaction so the
// store can be atomically reloaded when the archive file changes.
package archive

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/harbinger-dev/harbinger/internal/har"
)

// ErrNotFound reports a lookup with no recorded entry.
var ErrNotFound = errors.New("no recorded entry")

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	method    TEXT NOT NULL,
	host      TEXT NOT NULL,
	path      TEXT NOT NULL,
	status    INTEGER NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	headers   TEXT NOT NULL DEFAULT '[]',
	body      BLOB,
	PRIMARY KEY (method, host, path)
);
CREATE TABLE IF NOT EXISTS access_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	method     TEXT NOT NULL,
	host       TEXT NOT NULL DEFAULT '',
	path       TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	status     INTEGER NOT NULL DEFAULT 0
);
`

// Entry is one stored request/response pair.
type Entry struct {
	Method   string
	Host     string
	Path     string
	Status   int
	MimeType string
	Headers  []har.Header
	Body     []byte
}

// AccessEvent is one row of the access log.
type AccessEvent struct {
	At        time.Time
	RequestID string
	Method    string
	Host      string
	Path      string
	Outcome   string // served, miss, proxied, blocked, control
	Status    int
}

// Summary aggregates the access log for the stats endpoint.
type Summary struct {
	Served  int64 `json:"served"`
	Misses  int64 `json:"misses"`
	Proxied int64 `json:"proxied"`
	Blocked int64 `json:"blocked"`
}

// Store is a sqlite-backed archive index.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes Load/Reload swaps
}

// Open opens (or creates) the store at path. Use ":memory:" for an ephemeral
// index, the default for serve mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive store: %w", err)
	}
	// modernc sqlite serializes writes; a single connection also keeps
	// :memory: databases from evaporating between calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing archive store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load replaces the entry table with the archive's entries. Returns how many
// were indexed. Entries whose (method, host, path) key is already taken are
// skipped with a warning, matching the first-entry-wins replay contract.
func (s *Store) Load(a *har.Archive) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM entries`); err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO entries (method, host, path, status, mime_type, headers, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	seen := make(map[string]struct{}, len(a.Entries))
	loaded := 0
	for i := range a.Entries {
		e := &a.Entries[i]
		u, err := e.URL()
		if err != nil {
			log.Warn().Str("url", e.Request.URL).Err(err).Msg("skipping unparseable entry")
			continue
		}
		key := e.Request.Method + " " + u.Host + " " + u.Path
		if _, dup := seen[key]; dup {
			log.Warn().Str("method", e.Request.Method).Str("host", u.Host).
				Str("path", u.Path).Msg("found duplicate entry for path, skipping")
			continue
		}
		seen[key] = struct{}{}

		headers, err := json.Marshal(e.Response.Headers)
		if err != nil {
			return 0, fmt.Errorf("encoding headers for %s: %w", e.Request.URL, err)
		}
		if _, err := stmt.Exec(e.Request.Method, u.Host, u.Path, e.Response.Status,
			e.Response.Content.MimeType, string(headers), e.Body()); err != nil {
			return 0, fmt.Errorf("indexing %s: %w", e.Request.URL, err)
		}
		loaded++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return loaded, nil
}

// Lookup finds the recorded entry for (method, host, path). The caller has
// already stripped the query string; it plays no part in the key.
func (s *Store) Lookup(method, host, path string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT status, mime_type, headers, body FROM entries
		WHERE method = ? AND host = ? AND path = ?`, method, host, path)

	e := &Entry{Method: method, Host: host, Path: path}
	var headers string
	if err := row.Scan(&e.Status, &e.MimeType, &headers, &e.Body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &e.Headers); err != nil {
		return nil, fmt.Errorf("decoding stored headers: %w", err)
	}
	return e, nil
}

// Count returns the number of indexed entries.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

// RecordAccess appends one event to the access log. Failures are logged and
// swallowed; telemetry must never fail a replay.
func (s *Store) RecordAccess(ev AccessEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO access_log (at, request_id, method, host, path, outcome, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.At.UTC().Format(time.RFC3339Nano), ev.RequestID, ev.Method, ev.Host, ev.Path, ev.Outcome, ev.Status)
	if err != nil {
		log.Debug().Err(err).Msg("access log write failed")
	}
}

// AccessSummary aggregates the access log by outcome.
func (s *Store) AccessSummary() (Summary, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM access_log GROUP BY outcome`)
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = rows.Close() }()

	var sum Summary
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return Summary{}, err
		}
		switch outcome {
		case "served":
			sum.Served = n
		case "miss":
			sum.Misses = n
		case "proxied":
			sum.Proxied = n
		case "blocked":
			sum.Blocked = n
		}
	}
	return sum, rows.Err()
}
