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

func (s *Store) AddBlacklist(ctx context.Context, userID int64, number, reason string, now time.Time) (Blacklist, error) {
	entry := Blacklist{UID: uuid.NewString(), UserID: userID, Number: strings.TrimSpace(number), Reason: reason, CreatedAt: now}
	_, err := s.db.ExecContext(ctx, `INSERT INTO blacklists (uid, user_id, number, reason, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(user_id, number) DO UPDATE SET reason = excluded.reason;`,
		entry.UID, entry.UserID, entry.Number, entry.Reason, now.Unix())
	if err != nil {
		return Blacklist{}, fmt.Errorf("insert blacklist: %w", err)
	}
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT id, uid, created_at FROM blacklists WHERE user_id = ? AND number = ?;`, userID, entry.Number)
	if err := row.Scan(&entry.ID, &entry.UID, &createdAt); err != nil {
		return Blacklist{}, fmt.Errorf("insert blacklist: %w", err)
	}
	entry.CreatedAt = unixTime(createdAt)
	return entry, nil
}

func (s *Store) ListBlacklists(ctx context.Context, userID int64, page Page) ([]Blacklist, int32, error) {
	where, args, tail, tailArgs := listClause(page,
		[]string{"number", "reason"},
		map[string]string{"number": "number", "created_at": "created_at"},
		"created_at DESC, id DESC")

	countArgs := append([]any{userID}, args...)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM blacklists WHERE user_id = ?`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count blacklists: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, user_id, number, reason, created_at
        FROM blacklists WHERE user_id = ?`+where+tail, append(countArgs, tailArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list blacklists: %w", err)
	}
	defer rows.Close()

	var entries []Blacklist
	for rows.Next() {
		var entry Blacklist
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.UID, &entry.UserID, &entry.Number, &entry.Reason, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan blacklist: %w", err)
		}
		entry.CreatedAt = unixTime(createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list blacklists: %w", err)
	}
	return entries, clampCount(total), nil
}

// BlacklistedNumbers returns the set of numbers the user never sends to.
func (s *Store) BlacklistedNumbers(ctx context.Context, userID int64) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT number FROM blacklists WHERE user_id = ?;`, userID)
	if err != nil {
		return nil, fmt.Errorf("list blacklisted numbers: %w", err)
	}
	defer rows.Close()

	numbers := map[string]struct{}{}
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, fmt.Errorf("list blacklisted numbers: %w", err)
		}
		numbers[number] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blacklisted numbers: %w", err)
	}
	return numbers, nil
}

func (s *Store) DeleteBlacklist(ctx context.Context, userID int64, uid string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blacklists WHERE uid = ? AND user_id = ?;`, uid, userID)
	if err != nil {
		return false, fmt.Errorf("delete blacklist: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete blacklist: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) CountBlacklists(ctx context.Context, userID int64) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM blacklists WHERE user_id = ?;`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count blacklists: %w", err)
	}
	return count, nil
}

func (s *Store) CreateTemplate(ctx context.Context, userID int64, name, message string, now time.Time) (Template, error) {
	tpl := Template{UID: uuid.NewString(), UserID: userID, Name: strings.TrimSpace(name), Message: message, CreatedAt: now}
	result, err := s.db.ExecContext(ctx, `INSERT INTO templates (uid, user_id, name, message, created_at) VALUES (?, ?, ?, ?, ?);`,
		tpl.UID, tpl.UserID, tpl.Name, tpl.Message, now.Unix())
	if err != nil {
		return Template{}, fmt.Errorf("insert template: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Template{}, fmt.Errorf("insert template: %w", err)
	}
	tpl.ID = id
	return tpl, nil
}

func (s *Store) GetTemplate(ctx context.Context, userID int64, uid string) (Template, error) {
	var tpl Template
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT id, uid, user_id, name, message, created_at FROM templates WHERE uid = ? AND user_id = ?;`, uid, userID)
	if err := row.Scan(&tpl.ID, &tpl.UID, &tpl.UserID, &tpl.Name, &tpl.Message, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, sql.ErrNoRows
		}
		return Template{}, fmt.Errorf("get template: %w", err)
	}
	tpl.CreatedAt = unixTime(createdAt)
	return tpl, nil
}

func (s *Store) ListTemplates(ctx context.Context, userID int64, page Page) ([]Template, int32, error) {
	where, args, tail, tailArgs := listClause(page,
		[]string{"name", "message"},
		map[string]string{"name": "name", "created_at": "created_at"},
		"created_at DESC, id DESC")

	countArgs := append([]any{userID}, args...)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM templates WHERE user_id = ?`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, user_id, name, message, created_at
        FROM templates WHERE user_id = ?`+where+tail, append(countArgs, tailArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var tpl Template
		var createdAt int64
		if err := rows.Scan(&tpl.ID, &tpl.UID, &tpl.UserID, &tpl.Name, &tpl.Message, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan template: %w", err)
		}
		tpl.CreatedAt = unixTime(createdAt)
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	return templates, clampCount(total), nil
}

func (s *Store) DeleteTemplate(ctx context.Context, userID int64, uid string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE uid = ? AND user_id = ?;`, uid, userID)
	if err != nil {
		return false, fmt.Errorf("delete template: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete template: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) CountTemplates(ctx context.Context, userID int64) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM templates WHERE user_id = ?;`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return count, nil
}
