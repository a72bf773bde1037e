package journal

import (
	"context"
	"testing"
	"time"

	"vikabot/internal/db"
	"vikabot/internal/migrate"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	j := New(conn)
	j.Now = func() time.Time { return time.Date(2025, 6, 18, 10, 0, 0, 0, time.UTC) }
	return j
}

func TestRecordAndTail(t *testing.T) {
	j := newTestJournal(t)

	events := []struct{ event, detail string }{
		{"auth.login", "alice"},
		{"task.created", "Buy milk"},
		{"task.done", "Buy milk"},
	}
	for _, e := range events {
		if err := j.Record(7, e.event, e.detail); err != nil {
			t.Fatalf("record %s: %v", e.event, err)
		}
	}

	entries, err := j.Tail(context.Background(), 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Event != events[i].event || e.Detail != events[i].detail {
			t.Fatalf("entry %d = %+v", i, e)
		}
		if e.ChatID != 7 {
			t.Fatalf("chat = %d", e.ChatID)
		}
		if e.TS != "2025-06-18T10:00:00Z" {
			t.Fatalf("ts = %q", e.TS)
		}
	}
}

func TestTailLimitKeepsNewest(t *testing.T) {
	j := newTestJournal(t)
	for i := 0; i < 5; i++ {
		if err := j.Record(7, "task.created", string(rune('a'+i))); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := j.Tail(context.Background(), 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// the newest two, in chronological order
	if entries[0].Detail != "d" || entries[1].Detail != "e" {
		t.Fatalf("entries = %+v", entries)
	}
}
