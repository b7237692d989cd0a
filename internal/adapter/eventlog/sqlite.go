package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"relay-ai/internal/domain"
)

// SQLiteEventLog is an append-only audit log of every bus event, backed by
// SQLite. It subscribes to all events and writes each one as a row; the log
// is never read on the hot path.
type SQLiteEventLog struct {
	db          *sql.DB
	logger      *slog.Logger
	unsubscribe func()
}

// NewSQLiteEventLog opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteEventLog(dbPath string, logger *slog.Logger) (*SQLiteEventLog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open event log db: %w", err)
	}
	// WAL mode so audit writes never block each other.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate event log db: %w", err)
	}
	return &SQLiteEventLog{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			type            TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			payload         TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_conversation ON events(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	`)
	return err
}

// Attach subscribes the log to every event on the bus.
func (l *SQLiteEventLog) Attach(bus domain.EventBus) {
	l.unsubscribe = bus.SubscribeAll(func(ctx context.Context, event domain.Event) {
		if err := l.Append(ctx, event); err != nil {
			l.logger.Error("event log append failed",
				"type", string(event.Type), "error", err)
		}
	})
}

// Append writes one event row.
func (l *SQLiteEventLog) Append(_ context.Context, event domain.Event) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := l.db.Exec(
		"INSERT INTO events (type, conversation_id, payload, created_at) VALUES (?, ?, ?, ?)",
		string(event.Type), event.ConversationID, string(event.Payload),
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("EventLog.Append", domain.ErrEventLogWrite, err.Error())
	}
	return nil
}

// Recent returns the latest n events for a conversation, newest first.
func (l *SQLiteEventLog) Recent(_ context.Context, conversationID string, n int) ([]domain.Event, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := l.db.Query(
		"SELECT type, conversation_id, payload, created_at FROM events WHERE conversation_id = ? ORDER BY id DESC LIMIT ?",
		conversationID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			typ     string
			payload string
			created string
		)
		if err := rows.Scan(&typ, &ev.ConversationID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.Payload = []byte(payload)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			ev.Timestamp = t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close detaches from the bus and closes the database.
func (l *SQLiteEventLog) Close() error {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
	return l.db.Close()
}
