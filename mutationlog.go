package wisp

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// MutationEntry is one recorded dispatcher command: its kind, an error
// string if it failed, and a random ID generated for the entry itself (it
// is not the ID of any IPC request that triggered the command).
type MutationEntry struct {
	ID        string
	Kind      CommandKind
	Error     string
	Timestamp time.Time
}

// MutationLog is a bounded in-memory ring buffer of recent dispatcher
// commands, with an optional on-disk sqlite mirror so a post-mortem can see
// commands that outlived the daemon's process. The log is diagnostic, not a
// source of truth: nothing replays it.
type MutationLog struct {
	mu       sync.Mutex
	entries  []MutationEntry
	capacity int

	db *sql.DB
}

// NewMutationLog builds a ring buffer holding at most capacity entries.
func NewMutationLog(capacity int) *MutationLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &MutationLog{capacity: capacity}
}

// OpenMutationLogMirror builds a MutationLog that also mirrors every entry
// to an on-disk sqlite database at dbPath, for post-mortem inspection after
// the daemon exits.
func OpenMutationLogMirror(capacity int, dbPath string) (*MutationLog, error) {
	l := NewMutationLog(capacity)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("wisp: opening mutation log database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("wisp: pinging mutation log database: %w", err)
	}
	if err := initMutationLogSchema(db); err != nil {
		return nil, fmt.Errorf("wisp: initializing mutation log schema: %w", err)
	}
	l.db = db
	return l, nil
}

func initMutationLogSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS mutations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		error TEXT,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_mutations_timestamp ON mutations(timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// Record appends a new entry for the given command kind and outcome,
// evicting the oldest entry if the ring buffer is at capacity, and mirrors
// it to sqlite if a mirror is attached.
func (l *MutationLog) Record(kind CommandKind, err error) {
	entry := MutationEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	db := l.db
	l.mu.Unlock()

	if db != nil {
		if _, execErr := db.Exec(
			"INSERT INTO mutations (id, kind, error, timestamp) VALUES (?, ?, ?, ?)",
			entry.ID, string(entry.Kind), entry.Error, entry.Timestamp.Unix(),
		); execErr != nil {
			// The mirror is a diagnostic convenience; a write failure must not
			// disrupt command dispatch.
			_ = execErr
		}
	}
}

// Recent returns up to n most-recent entries, newest last.
func (l *MutationLog) Recent(n int) []MutationEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]MutationEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Render formats the most recent entries as plain text, for PrintDebug.
func (l *MutationLog) Render() string {
	entries := l.Recent(20)
	out := fmt.Sprintf("last %d mutation(s):\n", len(entries))
	for _, e := range entries {
		status := "ok"
		if e.Error != "" {
			status = "error: " + e.Error
		}
		out += fmt.Sprintf("  [%s] %s — %s\n", e.Timestamp.Format(time.RFC3339), e.Kind, status)
	}
	return out
}

// Close closes the sqlite mirror, if any.
func (l *MutationLog) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
