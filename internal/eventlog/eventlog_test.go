package eventlog

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// getTestDB returns a database pool for testing.
// Skips the test if DATABASE_URL is not set.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	return db
}

func TestEventTypeConstants(t *testing.T) {
	expectedEvents := map[EventType]string{
		EventCallStarted:      "call_started",
		EventLanguageDetected: "language_detected",
		EventSpamScored:       "spam_scored",
		EventReplyGenerated:   "reply_generated",
		EventCallRejected:     "call_rejected",
		EventNoSpeech:         "no_speech",
		EventCallEnded:        "call_ended",
	}

	for eventType, expectedValue := range expectedEvents {
		if string(eventType) != expectedValue {
			t.Errorf("EventType %q = %q, want %q", expectedValue, string(eventType), expectedValue)
		}
	}
}

func TestLoggerWithNilDB(t *testing.T) {
	logger := New(nil)
	if logger.Enabled() {
		t.Error("logger without a pool should not be enabled")
	}

	// Should not panic
	logger.LogAsync("CA123", EventCallStarted, map[string]any{"from": "+1555"})
	logger.LogAsync("", EventCallStarted, nil)

	ctx := context.Background()
	if err := logger.Log(ctx, "CA123", EventSpamScored, map[string]any{"score": 9}); err != nil {
		t.Errorf("Log with nil DB should return nil error, got %v", err)
	}
	if err := logger.EnsureSchema(ctx); err != nil {
		t.Errorf("EnsureSchema with nil DB should return nil error, got %v", err)
	}
	events, err := logger.ForCall(ctx, "CA123")
	if err != nil || events != nil {
		t.Errorf("ForCall with nil DB = %v, %v; want nil, nil", events, err)
	}
}

func TestNilLogger(t *testing.T) {
	var logger *Logger
	if logger.Enabled() {
		t.Error("nil logger should not be enabled")
	}
	logger.LogAsync("CA123", EventCallEnded, nil)
	if err := logger.Flush(context.Background()); err != nil {
		t.Errorf("Flush on nil logger = %v, want nil", err)
	}
}

func TestFlushWithoutPendingWrites(t *testing.T) {
	logger := New(nil)
	logger.LogAsync("CA123", EventCallStarted, nil)
	if err := logger.Flush(context.Background()); err != nil {
		t.Errorf("Flush = %v, want nil", err)
	}
}

func TestFlushWaitsForPendingWrites(t *testing.T) {
	logger := New(nil)
	logger.pending.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := logger.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flush with a stuck write = %v, want deadline exceeded", err)
	}

	released := make(chan error, 1)
	go func() { released <- logger.Flush(context.Background()) }()
	logger.pending.Done()

	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Flush after the write finished = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Flush did not return after the pending write finished")
	}
}

func TestLogAsyncThenFlush(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	logger := New(db)
	ctx := context.Background()
	if err := logger.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	callID := "CA-async-" + uuid.NewString()
	defer db.Exec(ctx, `DELETE FROM call_events WHERE call_id = $1`, callID)

	logger.LogAsync(callID, EventCallStarted, nil)
	logger.LogAsync(callID, EventSpamScored, map[string]any{"score": 3})
	logger.LogAsync(callID, EventCallEnded, nil)

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := logger.Flush(flushCtx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	events, err := logger.ForCall(ctx, callID)
	if err != nil {
		t.Fatalf("ForCall failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events after Flush, want 3", len(events))
	}
}

func TestLogAndReadBack(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	logger := New(db)
	ctx := context.Background()
	if err := logger.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	callID := "CA-test-" + uuid.NewString()
	defer db.Exec(ctx, `DELETE FROM call_events WHERE call_id = $1`, callID)

	if err := logger.Log(ctx, callID, EventCallStarted, map[string]any{"from": "+1555"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Log(ctx, callID, EventSpamScored, map[string]any{"score": 8}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := logger.ForCall(ctx, callID)
	if err != nil {
		t.Fatalf("ForCall failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventCallStarted || events[1].Type != EventSpamScored {
		t.Errorf("unexpected order: %s, %s", events[0].Type, events[1].Type)
	}
	if events[1].Data["score"] != float64(8) {
		t.Errorf("score = %v, want 8", events[1].Data["score"])
	}
	if events[0].ID == uuid.Nil {
		t.Error("event id should be set")
	}
}
