package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const senderIDColumns = `id, uid, user_id, sender_id, status, created_at, updated_at`

func (s *Store) CreateSenderID(ctx context.Context, userID int64, name, status string, now time.Time) (SenderID, error) {
	sender := SenderID{
		UID:       uuid.NewString(),
		UserID:    userID,
		SenderID:  strings.TrimSpace(name),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO sender_ids
        (uid, user_id, sender_id, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?);`,
		sender.UID, sender.UserID, sender.SenderID, sender.Status, now.Unix(), now.Unix())
	if err != nil {
		return SenderID{}, fmt.Errorf("insert sender id: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return SenderID{}, fmt.Errorf("insert sender id: %w", err)
	}
	sender.ID = id
	return sender, nil
}

func (s *Store) GetSenderID(ctx context.Context, uid string) (SenderID, error) {
	sender, err := scanSenderID(s.db.QueryRowContext(ctx, `SELECT `+senderIDColumns+` FROM sender_ids WHERE uid = ?;`, uid))
	if err != nil {
		return SenderID{}, err
	}
	return sender, nil
}

// PendingSenderIDs returns every pending sender ID, newest first.
func (s *Store) PendingSenderIDs(ctx context.Context) ([]SenderID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+senderIDColumns+` FROM sender_ids
        WHERE status = ? ORDER BY created_at DESC, id DESC;`, SenderIDPending)
	if err != nil {
		return nil, fmt.Errorf("list pending sender ids: %w", err)
	}
	defer rows.Close()
	return collectSenderIDs(rows)
}

func (s *Store) ListSenderIDs(ctx context.Context, userID int64, page Page) ([]SenderID, int32, error) {
	where, args, tail, tailArgs := listClause(page,
		[]string{"sender_id", "status"},
		map[string]string{"sender_id": "sender_id", "status": "status", "created_at": "created_at"},
		"created_at DESC, id DESC")

	countArgs := append([]any{userID}, args...)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sender_ids WHERE user_id = ?`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sender ids: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+senderIDColumns+` FROM sender_ids WHERE user_id = ?`+where+tail,
		append(countArgs, tailArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sender ids: %w", err)
	}
	defer rows.Close()
	senders, err := collectSenderIDs(rows)
	if err != nil {
		return nil, 0, err
	}
	return senders, clampCount(total), nil
}

// TransitionSenderID moves a sender ID out of pending. It reports false when
// the row was no longer pending, so a status only ever flips once.
func (s *Store) TransitionSenderID(ctx context.Context, id int64, status string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE sender_ids SET status = ?, updated_at = ?
        WHERE id = ? AND status = ?;`, status, now.Unix(), id, SenderIDPending)
	if err != nil {
		return false, fmt.Errorf("transition sender id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition sender id: %w", err)
	}
	return rows > 0, nil
}

// SetSenderIDStatus is the manual admin override and accepts any status.
func (s *Store) SetSenderIDStatus(ctx context.Context, uid, status string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE sender_ids SET status = ?, updated_at = ? WHERE uid = ?;`, status, now.Unix(), uid)
	if err != nil {
		return false, fmt.Errorf("set sender id status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set sender id status: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) DeleteSenderID(ctx context.Context, userID int64, uid string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sender_ids WHERE uid = ? AND user_id = ?;`, uid, userID)
	if err != nil {
		return false, fmt.Errorf("delete sender id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete sender id: %w", err)
	}
	return rows > 0, nil
}

// ActiveSenderID reports whether the user owns an active sender ID of that name.
func (s *Store) ActiveSenderID(ctx context.Context, userID int64, name string) (bool, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sender_ids WHERE user_id = ? AND sender_id = ? AND status = ?;`,
		userID, name, SenderIDActive).Scan(&count); err != nil {
		return false, fmt.Errorf("check sender id: %w", err)
	}
	return count > 0, nil
}

func collectSenderIDs(rows *sql.Rows) ([]SenderID, error) {
	var senders []SenderID
	for rows.Next() {
		sender, err := scanSenderID(rows)
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sender ids: %w", err)
	}
	return senders, nil
}

func scanSenderID(row rowScanner) (SenderID, error) {
	var sender SenderID
	var createdAt, updatedAt int64
	if err := row.Scan(
		&sender.ID,
		&sender.UID,
		&sender.UserID,
		&sender.SenderID,
		&sender.Status,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SenderID{}, sql.ErrNoRows
		}
		return SenderID{}, fmt.Errorf("scan sender id: %w", err)
	}
	sender.CreatedAt = unixTime(createdAt)
	sender.UpdatedAt = unixTime(updatedAt)
	return sender, nil
}
