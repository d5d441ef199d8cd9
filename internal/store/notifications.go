package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *Store) InsertNotification(ctx context.Context, notification Notification) (Notification, error) {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO notifications (id, user_id, type, message, url, created_at)
        VALUES (?, ?, ?, ?, ?, ?);`,
		notification.ID,
		notification.UserID,
		notification.Type,
		notification.Message,
		notification.URL,
		notification.CreatedAt.Unix(),
	)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return notification, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int32) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, user_id, type, message, url, read_at, created_at FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read_at = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		var readAt, createdAt int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.URL, &readAt, &createdAt); err != nil {
			return nil, fmt.Errorf("list notifications: %w", err)
		}
		n.ReadAt = unixTime(readAt)
		n.CreatedAt = unixTime(createdAt)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

func (s *Store) MarkNotificationsRead(ctx context.Context, userID int64, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET read_at = ? WHERE user_id = ? AND read_at = 0;`, now.Unix(), userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return rows, nil
}
