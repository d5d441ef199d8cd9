package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (s *Store) CreateUser(ctx context.Context, user User) (User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO users
        (email, password_hash, first_name, last_name, is_admin, locale, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?);`,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.IsAdmin,
		user.Locale,
		user.CreatedAt.Unix(),
	)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, first_name, last_name, is_admin, locale, created_at, last_login
        FROM users WHERE id = ?;`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, first_name, last_name, is_admin, locale, created_at, last_login
        FROM users WHERE email = ?;`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var user User
	var createdAt, lastLogin int64
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.IsAdmin,
		&user.Locale,
		&createdAt,
		&lastLogin,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, sql.ErrNoRows
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = unixTime(createdAt)
	user.LastLogin = unixTime(lastLogin)
	return user, nil
}

func (s *Store) TouchLogin(ctx context.Context, userID int64, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?;`, now.Unix(), userID); err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

func (s *Store) SetUserLocale(ctx context.Context, userID int64, locale string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET locale = ? WHERE id = ?;`, locale, userID); err != nil {
		return fmt.Errorf("set locale: %w", err)
	}
	return nil
}

// CreateCustomer inserts the customer profile of a user and assigns it a
// fresh uid and API token.
func (s *Store) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	if customer.UID == "" {
		customer.UID = uuid.NewString()
	}
	if customer.APIToken == "" {
		customer.APIToken = uuid.NewString()
	}
	if customer.Notifications == nil {
		customer.Notifications = map[string]string{}
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now()
	}
	notifications, err := json.Marshal(customer.Notifications)
	if err != nil {
		return Customer{}, fmt.Errorf("encode notifications: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO customers
        (uid, user_id, company, phone, notifications, api_token, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?);`,
		customer.UID,
		customer.UserID,
		customer.Company,
		customer.Phone,
		string(notifications),
		customer.APIToken,
		customer.CreatedAt.Unix(),
	)
	if err != nil {
		return Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	customer.ID = id
	return customer, nil
}

const customerColumns = `id, uid, user_id, company, phone, notifications, api_token, created_at`

func (s *Store) GetCustomerByUser(ctx context.Context, userID int64) (Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE user_id = ?;`, userID))
}

func (s *Store) GetCustomerByUID(ctx context.Context, uid string) (Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE uid = ?;`, uid))
}

func (s *Store) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

func (s *Store) UpdateCustomerNotifications(ctx context.Context, userID int64, notifications map[string]string) error {
	encoded, err := json.Marshal(notifications)
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE customers SET notifications = ? WHERE user_id = ?;`, string(encoded), userID); err != nil {
		return fmt.Errorf("update notifications: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (Customer, error) {
	var customer Customer
	var notifications string
	var createdAt int64
	if err := row.Scan(
		&customer.ID,
		&customer.UID,
		&customer.UserID,
		&customer.Company,
		&customer.Phone,
		&notifications,
		&customer.APIToken,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, sql.ErrNoRows
		}
		return Customer{}, fmt.Errorf("get customer: %w", err)
	}
	customer.CreatedAt = unixTime(createdAt)
	customer.Notifications = map[string]string{}
	if strings.TrimSpace(notifications) != "" {
		if err := json.Unmarshal([]byte(notifications), &customer.Notifications); err != nil {
			return Customer{}, fmt.Errorf("decode notifications: %w", err)
		}
	}
	return customer, nil
}

func (s *Store) CreatePlan(ctx context.Context, plan Plan) (Plan, error) {
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	options, err := json.Marshal(plan.Options)
	if err != nil {
		return Plan{}, fmt.Errorf("encode plan options: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO plans (name, options, created_at) VALUES (?, ?, ?);`,
		plan.Name, string(options), plan.CreatedAt.Unix())
	if err != nil {
		return Plan{}, fmt.Errorf("insert plan: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Plan{}, fmt.Errorf("insert plan: %w", err)
	}
	plan.ID = id
	return plan, nil
}

func (s *Store) GetPlan(ctx context.Context, id int64) (Plan, error) {
	var plan Plan
	var options string
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT id, name, options, created_at FROM plans WHERE id = ?;`, id)
	if err := row.Scan(&plan.ID, &plan.Name, &options, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Plan{}, sql.ErrNoRows
		}
		return Plan{}, fmt.Errorf("get plan: %w", err)
	}
	plan.CreatedAt = unixTime(createdAt)
	plan.Options = map[string]string{}
	if err := json.Unmarshal([]byte(options), &plan.Options); err != nil {
		return Plan{}, fmt.Errorf("decode plan options: %w", err)
	}
	return plan, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO subscriptions
        (user_id, plan_id, status, start_at, end_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?);`,
		sub.UserID,
		sub.PlanID,
		sub.Status,
		unixOrNull(sub.StartAt),
		unixOrNull(sub.EndAt),
		sub.CreatedAt.Unix(),
	)
	if err != nil {
		return Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	sub.ID = id
	return sub, nil
}

// LatestSubscription returns the most recently created subscription of a user.
func (s *Store) LatestSubscription(ctx context.Context, userID int64) (Subscription, error) {
	var sub Subscription
	var startAt, endAt sql.NullInt64
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, plan_id, status, start_at, end_at, created_at
        FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1;`, userID)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &startAt, &endAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, sql.ErrNoRows
		}
		return Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	sub.StartAt = nullUnix(startAt)
	sub.EndAt = nullUnix(endAt)
	sub.CreatedAt = unixTime(createdAt)
	return sub, nil
}
