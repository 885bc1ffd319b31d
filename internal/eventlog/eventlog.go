package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of call event
type EventType string

const (
	EventCallStarted      EventType = "call_started"
	EventLanguageDetected EventType = "language_detected"
	EventSpamScored       EventType = "spam_scored"
	EventReplyGenerated   EventType = "reply_generated"
	EventCallRejected     EventType = "call_rejected"
	EventNoSpeech         EventType = "no_speech"
	EventCallEnded        EventType = "call_ended"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_events (
	id          UUID PRIMARY KEY,
	call_id     TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	event_data  JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS call_events_call_id_idx ON call_events (call_id, created_at);
`

// Event is one stored audit record.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	CallID    string         `json:"call_id"`
	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"event_data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool

	// pending tracks LogAsync writes still in flight.
	pending sync.WaitGroup
}

// New creates a new event logger. A nil pool turns every call into a no-op.
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Enabled reports whether events are persisted.
func (l *Logger) Enabled() bool {
	return l != nil && l.db != nil
}

// EnsureSchema creates the call_events table if it does not exist.
func (l *Logger) EnsureSchema(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}
	if _, err := l.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("eventlog: ensure schema: %w", err)
	}
	return nil
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, callID string, eventType EventType, data map[string]any) error {
	if !l.Enabled() || callID == "" {
		return nil // Silently skip if no DB or call ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil || data == nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO call_events (id, call_id, event_type, event_data)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), callID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(callID string, eventType EventType, data map[string]any) {
	if !l.Enabled() || callID == "" {
		return
	}

	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, callID, eventType, data)
	}()
}

// Flush waits for in-flight LogAsync writes. Call it before closing the pool;
// it returns ctx.Err() if the writes outlive ctx.
func (l *Logger) Flush(ctx context.Context) error {
	if l == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("eventlog: flush: %w", ctx.Err())
	}
}

// ForCall returns the stored events of one call in the order they were written.
func (l *Logger) ForCall(ctx context.Context, callID string) ([]Event, error) {
	if !l.Enabled() {
		return nil, nil
	}

	rows, err := l.db.Query(ctx, `
		SELECT id, call_id, event_type, event_data, created_at
		FROM call_events
		WHERE call_id = $1
		ORDER BY created_at, id
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query %s: %w", callID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e    Event
			typ  string
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.CallID, &typ, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.Type = EventType(typ)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &e.Data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
