package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageColumns = "id, message_uuid, message_type, channel, payload, status, retry_count, next_attempt_at, last_error, transport_id, created_at, updated_at"

// EnqueueMessage inserts a pending outbound message.
func (s *Store) EnqueueMessage(ctx context.Context, messageUUID, messageType, channel, payload string) (*OutboundMessage, error) {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now().UTC())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO outbound_messages (message_uuid, message_type, channel, payload, status, next_attempt_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		messageUUID,
		messageType,
		channel,
		payload,
		string(MessagePending),
		now,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.MessageByID(ctx, id)
}

// MessageByID fetches one outbound message.
func (s *Store) MessageByID(ctx context.Context, id int64) (*OutboundMessage, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+messageColumns+` FROM outbound_messages WHERE id = ?`,
		id,
	)
	return scanMessage(row)
}

// DueMessages returns messages ready for a delivery attempt: pending rows
// whose next attempt time has passed, plus published rows awaiting
// acknowledgment (re-sent for at-least-once delivery).
func (s *Store) DueMessages(ctx context.Context, now time.Time, limit int) ([]OutboundMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+messageColumns+` FROM outbound_messages
         WHERE (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR status = ?
         ORDER BY id LIMIT ?`,
		string(MessagePending),
		formatTime(now),
		string(MessagePublished),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MarkMessagePublished records a successful transport publish.
func (s *Store) MarkMessagePublished(ctx context.Context, id int64, transportID string) error {
	return s.updateMessage(
		ctx,
		`UPDATE outbound_messages SET status = ?, transport_id = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		string(MessagePublished),
		nullableString(transportID),
		formatTime(time.Now().UTC()),
		id,
	)
}

// MarkMessageAcknowledged records consumer acknowledgment.
func (s *Store) MarkMessageAcknowledged(ctx context.Context, id int64) error {
	return s.updateMessage(
		ctx,
		`UPDATE outbound_messages SET status = ?, updated_at = ? WHERE id = ?`,
		string(MessageAcknowledged),
		formatTime(time.Now().UTC()),
		id,
	)
}

// MarkMessageRetry schedules another attempt after a failed publish.
func (s *Store) MarkMessageRetry(ctx context.Context, id int64, attemptErr string, nextAttempt time.Time) error {
	return s.updateMessage(
		ctx,
		`UPDATE outbound_messages
         SET status = ?, retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
         WHERE id = ?`,
		string(MessagePending),
		nullableString(attemptErr),
		formatTime(nextAttempt),
		formatTime(time.Now().UTC()),
		id,
	)
}

// MarkMessageFailed parks a message in the terminal failed state for
// operator attention.
func (s *Store) MarkMessageFailed(ctx context.Context, id int64, attemptErr string) error {
	return s.updateMessage(
		ctx,
		`UPDATE outbound_messages
         SET status = ?, retry_count = retry_count + 1, last_error = ?, next_attempt_at = NULL, updated_at = ?
         WHERE id = ?`,
		string(MessageFailed),
		nullableString(attemptErr),
		formatTime(time.Now().UTC()),
		id,
	)
}

// ReplayMessage resets a failed message to pending for manual replay.
func (s *Store) ReplayMessage(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE outbound_messages
         SET status = ?, retry_count = 0, last_error = NULL, next_attempt_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(MessagePending),
		formatTime(time.Now().UTC()),
		formatTime(time.Now().UTC()),
		id,
		string(MessageFailed),
	)
	if err != nil {
		return fmt.Errorf("replay message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replay rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MessagesByStatus lists messages in a delivery state, oldest first.
func (s *Store) MessagesByStatus(ctx context.Context, status MessageStatus) ([]OutboundMessage, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+messageColumns+` FROM outbound_messages WHERE status = ? ORDER BY id`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages by status: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *Store) updateMessage(ctx context.Context, query string, args ...any) error {
	if _, err := s.execWithRetry(ensureContext(ctx), query, args...); err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func collectMessages(rows *sql.Rows) ([]OutboundMessage, error) {
	var messages []OutboundMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*OutboundMessage, error) {
	var (
		m           OutboundMessage
		nextRaw     sql.NullString
		lastError   sql.NullString
		transportID sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	err := scanner.Scan(
		&m.ID,
		&m.MessageUUID,
		&m.MessageType,
		&m.Channel,
		&m.Payload,
		(*string)(&m.Status),
		&m.RetryCount,
		&nextRaw,
		&lastError,
		&transportID,
		&createdRaw,
		&updatedRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if m.NextAttemptAt, err = parseNullTime(nextRaw); err != nil {
		return nil, err
	}
	m.LastError = lastError.String
	m.TransportID = transportID.String
	if m.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return nil, err
	}
	return &m, nil
}
