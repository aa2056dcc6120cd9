package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/talk/internal/model"
)

// QueueOutbox records a locally created message together with its pending
// history row, so the message is listed before the server knows about it.
func (db *DB) QueueOutbox(e OutboxEntry) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO outbox (unique_id, thread_id, sender_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UniqueID, e.ThreadID, e.SenderID, e.Body, OutboxQueued, now, now); err != nil {
		return err
	}
	pending := model.Message{
		UniqueID: e.UniqueID,
		ThreadID: e.ThreadID,
		SenderID: e.SenderID,
		Body:     e.Body,
		Status:   model.StatusPending,
	}
	if err := upsertMessageTx(tx, pending, now); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(uid string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE unique_id = ?`, OutboxSending, now, uid)
	return err
}

// MarkOutboxSent records the server id of a sent entry and confirms the
// matching history row.
func (db *DB) MarkOutboxSent(confirmed model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`UPDATE outbox SET status = ?, server_id = ?, updated_at = ? WHERE unique_id = ?`,
		OutboxSent, nullInt64(confirmed.ID), now, confirmed.UniqueID); err != nil {
		return err
	}
	if err := upsertMessageTx(tx, confirmed, now); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkOutboxFailed updates an outbox entry and its history row to failed.
func (db *DB) MarkOutboxFailed(uid, errMsg string) error {
	now := time.Now().UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE outbox SET status = ?, error_message = ?, updated_at = ? WHERE unique_id = ?`,
		OutboxFailed, errMsg, now, uid); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE messages SET status = ?, updated_at = ? WHERE unique_id = ? AND id IS NULL`,
		model.StatusFailed, now, uid); err != nil {
		return err
	}
	return tx.Commit()
}

// RequeueOutbox puts a failed entry back in the queue. An entry left in
// sending by a process that died mid-delivery is requeued as well.
func (db *DB) RequeueOutbox(uid string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE outbox SET status = ?, error_message = '', updated_at = ? WHERE unique_id = ? AND status IN (?, ?)`,
		OutboxQueued, now, uid, OutboxFailed, OutboxSending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("requeue %q: %w", uid, ErrNotFound)
	}
	_, err = db.Exec(`UPDATE messages SET status = ?, updated_at = ? WHERE unique_id = ? AND id IS NULL`,
		model.StatusPending, now, uid)
	return err
}

// RecoverOutbox requeues every entry stuck in sending and returns how many
// there were. It must run before any delivery starts.
func (db *DB) RecoverOutbox() (int, error) {
	res, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE status = ?`,
		OutboxQueued, time.Now().UnixMilli(), OutboxSending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetOutbox returns the outbox entry of uid.
func (db *DB) GetOutbox(uid string) (OutboxEntry, error) {
	row := db.QueryRow(`
		SELECT unique_id, thread_id, sender_id, body, status, error_message, server_id, created_at
		FROM outbox WHERE unique_id = ?`, uid)
	e, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OutboxEntry{}, fmt.Errorf("outbox %q: %w", uid, ErrNotFound)
	}
	return e, err
}

// PendingOutbox returns outbox entries that are still queued.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT unique_id, thread_id, sender_id, body, status, error_message, server_id, created_at
		FROM outbox WHERE status = ? ORDER BY created_at ASC, local_id ASC`, OutboxQueued)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanOutbox(s scanner) (OutboxEntry, error) {
	var (
		e        OutboxEntry
		serverID sql.NullInt64
	)
	if err := s.Scan(&e.UniqueID, &e.ThreadID, &e.SenderID, &e.Body, &e.Status, &e.ErrorMessage, &serverID, &e.CreatedAt); err != nil {
		return OutboxEntry{}, err
	}
	if serverID.Valid {
		e.ServerID = model.Int64(serverID.Int64)
	}
	return e, nil
}
