package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/talk/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const messageColumns = `id, unique_id, thread_id, sender_id, body, status, time_ms`

// UpsertMessage inserts or updates a message. Rows are matched by unique id
// first, then by server id. When a message carries both and another row holds
// the same server id under a different unique id, that row is dropped so the
// server id stays unique.
func (db *DB) UpsertMessage(m model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertMessageTx(tx, m, time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertMessages writes a batch of messages in a single transaction.
func (db *DB) UpsertMessages(msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if err := upsertMessageTx(tx, m, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertMessageTx(tx *sql.Tx, m model.Message, now int64) error {
	id := nullInt64(m.ID)
	uid := nullString(m.UniqueID)
	ts := nullTime(m.Time)

	if m.ID != nil && m.UniqueID != "" {
		if _, err := tx.Exec(`
			DELETE FROM messages
			WHERE id = ? AND unique_id IS NOT NULL AND unique_id != ?`, *m.ID, m.UniqueID); err != nil {
			return fmt.Errorf("drop conflicting id %d: %w", *m.ID, err)
		}
		// An id-only copy of the same message is folded into the unique id row.
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE unique_id = ?`, m.UniqueID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			if _, err := tx.Exec(`DELETE FROM messages WHERE id = ? AND unique_id IS NULL`, *m.ID); err != nil {
				return err
			}
		}
	}

	_, err := tx.Exec(`
		INSERT INTO messages (id, unique_id, thread_id, sender_id, body, status, time_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			id = COALESCE(excluded.id, messages.id),
			body = excluded.body,
			status = excluded.status,
			time_ms = COALESCE(excluded.time_ms, messages.time_ms),
			updated_at = excluded.updated_at
		ON CONFLICT(id) DO UPDATE SET
			unique_id = COALESCE(messages.unique_id, excluded.unique_id),
			body = excluded.body,
			status = excluded.status,
			time_ms = COALESCE(excluded.time_ms, messages.time_ms),
			updated_at = excluded.updated_at`,
		id, uid, m.ThreadID, m.SenderID, m.Body, m.Status, ts, now)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// ListMessages returns one page of a thread, newest first. Messages without a
// time sort before every timed message. An empty filter matches everything;
// otherwise only bodies containing it are returned.
func (db *DB) ListMessages(threadID int64, filter string, offset, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ? AND (? = '' OR instr(lower(body), lower(?)) > 0)
		ORDER BY time_ms IS NULL DESC, time_ms DESC, local_id DESC
		LIMIT ? OFFSET ?`, threadID, filter, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns how many messages of a thread match filter.
func (db *DB) CountMessages(threadID int64, filter string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE thread_id = ? AND (? = '' OR instr(lower(body), lower(?)) > 0)`,
		threadID, filter, filter).Scan(&n)
	return n, err
}

// GetMessageByUniqueID returns the message stored under a client id.
func (db *DB) GetMessageByUniqueID(uid string) (model.Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE unique_id = ?`, uid)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, fmt.Errorf("message %q: %w", uid, ErrNotFound)
	}
	return m, err
}

// AssignMessageID allocates the next server id for the message stored under
// uid, stamps its time if it has none, and returns the updated message.
func (db *DB) AssignMessageID(uid string, status string) (model.Message, error) {
	tx, err := db.Begin()
	if err != nil {
		return model.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(id), 0) + 1 FROM messages`).Scan(&next); err != nil {
		return model.Message{}, err
	}
	now := time.Now().UnixMilli()
	res, err := tx.Exec(`
		UPDATE messages
		SET id = COALESCE(id, ?), status = ?, time_ms = COALESCE(time_ms, ?), updated_at = ?
		WHERE unique_id = ?`, next, status, now, now, uid)
	if err != nil {
		return model.Message{}, fmt.Errorf("assign id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Message{}, fmt.Errorf("message %q: %w", uid, ErrNotFound)
	}
	m, err := scanMessage(tx.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE unique_id = ?`, uid))
	if err != nil {
		return model.Message{}, err
	}
	return m, tx.Commit()
}

// DeleteMessage removes a message by server id.
func (db *DB) DeleteMessage(id int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (model.Message, error) {
	var (
		m   model.Message
		id  sql.NullInt64
		uid sql.NullString
		ts  sql.NullInt64
	)
	if err := s.Scan(&id, &uid, &m.ThreadID, &m.SenderID, &m.Body, &m.Status, &ts); err != nil {
		return model.Message{}, err
	}
	if id.Valid {
		m.ID = model.Int64(id.Int64)
	}
	m.UniqueID = uid.String
	if ts.Valid {
		m.Time = model.Uint64(uint64(ts.Int64))
	}
	return m, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
