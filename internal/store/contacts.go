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

func (s *Store) CreateContactGroup(ctx context.Context, userID int64, name string, now time.Time) (ContactGroup, error) {
	group := ContactGroup{UID: uuid.NewString(), UserID: userID, Name: strings.TrimSpace(name), CreatedAt: now}
	result, err := s.db.ExecContext(ctx, `INSERT INTO contact_groups (uid, user_id, name, created_at) VALUES (?, ?, ?, ?);`,
		group.UID, group.UserID, group.Name, now.Unix())
	if err != nil {
		return ContactGroup{}, fmt.Errorf("insert contact group: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return ContactGroup{}, fmt.Errorf("insert contact group: %w", err)
	}
	group.ID = id
	return group, nil
}

func (s *Store) GetContactGroup(ctx context.Context, userID int64, uid string) (ContactGroup, error) {
	var group ContactGroup
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT g.id, g.uid, g.user_id, g.name, g.created_at,
        (SELECT COUNT(1) FROM contacts c WHERE c.group_id = g.id)
        FROM contact_groups g WHERE g.uid = ? AND g.user_id = ?;`, uid, userID)
	if err := row.Scan(&group.ID, &group.UID, &group.UserID, &group.Name, &createdAt, &group.Contacts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ContactGroup{}, sql.ErrNoRows
		}
		return ContactGroup{}, fmt.Errorf("get contact group: %w", err)
	}
	group.CreatedAt = unixTime(createdAt)
	return group, nil
}

func (s *Store) ListContactGroups(ctx context.Context, userID int64, page Page) ([]ContactGroup, int32, error) {
	where, args, tail, tailArgs := listClause(page,
		[]string{"g.name"},
		map[string]string{"name": "g.name", "created_at": "g.created_at"},
		"g.created_at DESC, g.id DESC")

	countArgs := append([]any{userID}, args...)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM contact_groups g WHERE g.user_id = ?`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contact groups: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT g.id, g.uid, g.user_id, g.name, g.created_at,
        (SELECT COUNT(1) FROM contacts c WHERE c.group_id = g.id)
        FROM contact_groups g WHERE g.user_id = ?`+where+tail, append(countArgs, tailArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list contact groups: %w", err)
	}
	defer rows.Close()

	var groups []ContactGroup
	for rows.Next() {
		var group ContactGroup
		var createdAt int64
		if err := rows.Scan(&group.ID, &group.UID, &group.UserID, &group.Name, &createdAt, &group.Contacts); err != nil {
			return nil, 0, fmt.Errorf("scan contact group: %w", err)
		}
		group.CreatedAt = unixTime(createdAt)
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list contact groups: %w", err)
	}
	return groups, clampCount(total), nil
}

func (s *Store) DeleteContactGroup(ctx context.Context, userID int64, uid string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contact_groups WHERE uid = ? AND user_id = ?;`, uid, userID)
	if err != nil {
		return false, fmt.Errorf("delete contact group: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete contact group: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) CountContactGroups(ctx context.Context, userID int64) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM contact_groups WHERE user_id = ?;`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count contact groups: %w", err)
	}
	return count, nil
}

func (s *Store) AddContact(ctx context.Context, contact Contact) (Contact, error) {
	if contact.UID == "" {
		contact.UID = uuid.NewString()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO contacts
        (uid, group_id, user_id, phone, first_name, last_name, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?);`,
		contact.UID,
		contact.GroupID,
		contact.UserID,
		contact.Phone,
		contact.FirstName,
		contact.LastName,
		contact.CreatedAt.Unix(),
	)
	if err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	contact.ID = id
	return contact, nil
}

func (s *Store) ListContacts(ctx context.Context, groupID int64, page Page) ([]Contact, int32, error) {
	where, args, tail, tailArgs := listClause(page,
		[]string{"phone", "first_name", "last_name"},
		map[string]string{"phone": "phone", "first_name": "first_name", "last_name": "last_name", "created_at": "created_at"},
		"created_at DESC, id DESC")

	countArgs := append([]any{groupID}, args...)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM contacts WHERE group_id = ?`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contacts: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, group_id, user_id, phone, first_name, last_name, created_at
        FROM contacts WHERE group_id = ?`+where+tail, append(countArgs, tailArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	contacts, err := collectContacts(rows)
	if err != nil {
		return nil, 0, err
	}
	return contacts, clampCount(total), nil
}

// GroupRecipients returns every contact of a group in insertion order.
func (s *Store) GroupRecipients(ctx context.Context, groupID int64) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, group_id, user_id, phone, first_name, last_name, created_at
        FROM contacts WHERE group_id = ? ORDER BY id;`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group recipients: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *Store) DeleteContact(ctx context.Context, userID int64, uid string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE uid = ? AND user_id = ?;`, uid, userID)
	if err != nil {
		return false, fmt.Errorf("delete contact: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete contact: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) CountContacts(ctx context.Context, userID int64) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM contacts WHERE user_id = ?;`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return count, nil
}

func collectContacts(rows *sql.Rows) ([]Contact, error) {
	var contacts []Contact
	for rows.Next() {
		var contact Contact
		var createdAt int64
		if err := rows.Scan(
			&contact.ID,
			&contact.UID,
			&contact.GroupID,
			&contact.UserID,
			&contact.Phone,
			&contact.FirstName,
			&contact.LastName,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contact.CreatedAt = unixTime(createdAt)
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}
