// Package journal is an append-only log of bot actions: task mutations and
// auth events. It exists for the operator, not the bot; the conversation
// flow never reads it back.
package journal

import (
	"context"
	"database/sql"
	"time"
)

type Journal struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) *Journal {
	return &Journal{DB: db, Now: time.Now}
}

// Entry is one recorded action. Event names are dot-scoped:
// task.created, task.done, task.deleted, task.due_updated,
// auth.login, auth.logout.
type Entry struct {
	ID     int64
	TS     string
	ChatID int64
	Event  string
	Detail string
}

// Record appends one entry.
func (j *Journal) Record(chatID int64, event, detail string) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	_, err := j.DB.Exec(`INSERT INTO journal(ts,chat_id,event,detail) VALUES (?,?,?,?)`,
		ts, chatID, event, detail)
	return err
}

// Tail returns the most recent limit entries, oldest of those first.
func (j *Journal) Tail(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.DB.QueryContext(ctx, `
		SELECT id, ts, chat_id, event, detail FROM (
			SELECT id, ts, chat_id, event, detail
			FROM journal ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TS, &e.ChatID, &e.Event, &e.Detail); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
