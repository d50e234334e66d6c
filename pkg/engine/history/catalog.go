package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// CatalogEntry is one indexed rollout file, enough to answer resume
// queries without re-scanning every JSONL file on disk.
type CatalogEntry struct {
	SessionID        string
	Path             string
	Cwd              string
	UserMessageCount int
	LastEventAt      time.Time
	FileModTime      time.Time
}

// Catalog is a queryable sqlite index over rollout files, supplementing
// the append-only JSONL persistence with a `(cwd?, min_user_messages,
// limit?)` resume query.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens (creating if necessary) a sqlite catalog at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: opening catalog: %w", err)
	}
	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			cwd TEXT NOT NULL,
			user_message_count INTEGER NOT NULL,
			last_event_at TEXT NOT NULL,
			file_mod_time TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_cwd ON sessions(cwd);
	`)
	if err != nil {
		return fmt.Errorf("history: migrating catalog schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (c *Catalog) Close() error { return c.db.Close() }

// Upsert inserts or updates a rollout file's index entry, called whenever
// a session is created or gains new events.
func (c *Catalog) Upsert(e CatalogEntry) error {
	_, err := c.db.Exec(`
		INSERT INTO sessions (session_id, path, cwd, user_message_count, last_event_at, file_mod_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			path = excluded.path,
			cwd = excluded.cwd,
			user_message_count = excluded.user_message_count,
			last_event_at = excluded.last_event_at,
			file_mod_time = excluded.file_mod_time
	`, e.SessionID, e.Path, e.Cwd, e.UserMessageCount,
		e.LastEventAt.UTC().Format(time.RFC3339Nano), e.FileModTime.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("history: upserting catalog entry %q: %w", e.SessionID, err)
	}
	return nil
}

// Query is the `(cwd?, min_user_messages, limit?)` resume filter,
// sorted by last event timestamp then file mtime (both
// descending, most recent first).
type Query struct {
	Cwd              string // empty = any
	MinUserMessages  int
	Limit            int // 0 = unlimited
	SessionIDPrefix  string // empty = any
}

// Find answers a Query against the index.
func (c *Catalog) Find(q Query) ([]CatalogEntry, error) {
	var conds []string
	var args []any

	if q.Cwd != "" {
		conds = append(conds, "cwd = ?")
		args = append(args, q.Cwd)
	}
	if q.MinUserMessages > 0 {
		conds = append(conds, "user_message_count >= ?")
		args = append(args, q.MinUserMessages)
	}
	if q.SessionIDPrefix != "" {
		conds = append(conds, "session_id LIKE ?")
		args = append(args, q.SessionIDPrefix+"%")
	}

	query := "SELECT session_id, path, cwd, user_message_count, last_event_at, file_mod_time FROM sessions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_event_at DESC, file_mod_time DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: querying catalog: %w", err)
	}
	defer rows.Close()

	var out []CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		var lastEvent, fileMod string
		if err := rows.Scan(&e.SessionID, &e.Path, &e.Cwd, &e.UserMessageCount, &lastEvent, &fileMod); err != nil {
			return nil, fmt.Errorf("history: scanning catalog row: %w", err)
		}
		e.LastEventAt, _ = time.Parse(time.RFC3339Nano, lastEvent)
		e.FileModTime, _ = time.Parse(time.RFC3339Nano, fileMod)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolvePrefix returns the single entry whose session_id uniquely starts
// with prefix, erroring if zero or more than one match.
func (c *Catalog) ResolvePrefix(prefix string) (CatalogEntry, error) {
	matches, err := c.Find(Query{SessionIDPrefix: prefix})
	if err != nil {
		return CatalogEntry{}, err
	}
	switch len(matches) {
	case 0:
		return CatalogEntry{}, fmt.Errorf("history: no session matches prefix %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return CatalogEntry{}, fmt.Errorf("history: prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}
