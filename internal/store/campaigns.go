package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const campaignColumns = `id, uid, user_id, name, sender_id, group_id, message, status, delivered, failed, created_at, run_at`

func (s *Store) CreateCampaign(ctx context.Context, campaign Campaign) (Campaign, error) {
	if campaign.UID == "" {
		campaign.UID = uuid.NewString()
	}
	if campaign.Status == "" {
		campaign.Status = CampaignQueued
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO campaigns
        (uid, user_id, name, sender_id, group_id, message, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		campaign.UID,
		campaign.UserID,
		campaign.Name,
		campaign.SenderID,
		campaign.GroupID,
		campaign.Message,
		campaign.Status,
		campaign.CreatedAt.Unix(),
	)
	if err != nil {
		return Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}
	campaign.ID = id
	return campaign, nil
}

func (s *Store) GetCampaign(ctx context.Context, userID int64, uid string) (Campaign, error) {
	return scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE uid = ? AND user_id = ?;`, uid, userID))
}

func (s *Store) ListCampaigns(ctx context.Context, userID int64, page Page) ([]Campaign, int32, error) {
	where, args, tail, tailArgs := listClause(page,
		[]string{"name", "sender_id", "status"},
		map[string]string{"name": "name", "status": "status", "created_at": "created_at"},
		"created_at DESC, id DESC")

	countArgs := append([]any{userID}, args...)
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM campaigns WHERE user_id = ?`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE user_id = ?`+where+tail,
		append(countArgs, tailArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, clampCount(total), nil
}

func (s *Store) UpdateCampaignProgress(ctx context.Context, id int64, status string, delivered, failed int64, runAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE campaigns SET status = ?, delivered = ?, failed = ?, run_at = ? WHERE id = ?;`,
		status, delivered, failed, unixOrZero(runAt), id)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	return nil
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var campaign Campaign
	var createdAt, runAt int64
	if err := row.Scan(
		&campaign.ID,
		&campaign.UID,
		&campaign.UserID,
		&campaign.Name,
		&campaign.SenderID,
		&campaign.GroupID,
		&campaign.Message,
		&campaign.Status,
		&campaign.Delivered,
		&campaign.Failed,
		&createdAt,
		&runAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, sql.ErrNoRows
		}
		return Campaign{}, fmt.Errorf("scan campaign: %w", err)
	}
	campaign.CreatedAt = unixTime(createdAt)
	campaign.RunAt = unixTime(runAt)
	return campaign, nil
}

func (s *Store) InsertReport(ctx context.Context, report Report) (Report, error) {
	if report.UID == "" {
		report.UID = uuid.NewString()
	}
	if report.SMSType == "" {
		report.SMSType = "plain"
	}
	if report.Direction == "" {
		report.Direction = "to"
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO reports
        (uid, user_id, campaign_id, from_sender, to_number, message, status, sms_type, direction, cost, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		report.UID,
		report.UserID,
		report.CampaignID,
		report.From,
		report.To,
		report.Message,
		report.Status,
		report.SMSType,
		report.Direction,
		report.Cost,
		report.CreatedAt.Unix(),
	)
	if err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}
	report.ID = id
	return report, nil
}

// DailyOutbound counts delivered messages per day since the given time,
// keyed by YYYY-MM-DD in UTC.
func (s *Store) DailyOutbound(ctx context.Context, userID int64, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT strftime('%Y-%m-%d', created_at, 'unixepoch') AS day, COUNT(1)
        FROM reports WHERE user_id = ? AND direction = 'to' AND status = ? AND created_at >= ?
        GROUP BY day ORDER BY day;`, userID, ReportDelivered, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("daily outbound: %w", err)
	}
	defer rows.Close()

	result := map[string]int64{}
	for rows.Next() {
		var day string
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("daily outbound: %w", err)
		}
		result[day] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily outbound: %w", err)
	}
	return result, nil
}
