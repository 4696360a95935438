package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"lifesignal-escalation/internal/models"
)

// PostgresUsersRepository 用户 Repository 实现
type PostgresUsersRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresUsersRepository 创建用户 Repository
func NewPostgresUsersRepository(db *sql.DB, logger *zap.Logger) *PostgresUsersRepository {
	return &PostgresUsersRepository{db: db, logger: logger}
}

var _ UsersRepository = (*PostgresUsersRepository)(nil)

const userColumns = `
	user_id,
	first_name,
	last_name,
	phone,
	checkin_enabled,
	checkin_interval_min,
	last_checkin_at,
	main_notification,
	push_only_count,
	push_then_call_count,
	missed_started_at,
	main_notify_rounds,
	main_last_notified_at,
	main_call_placed,
	ec_notify_rounds,
	ec_last_notified_at,
	ec_call_placed,
	last_escalation_acknowledged_at`

// FindDueUsers 获取启用 check-in 的用户（一页）
func (r *PostgresUsersRepository) FindDueUsers(ctx context.Context, limit int) ([]*models.User, error) {
	query := `SELECT` + userColumns + `
		FROM users
		WHERE checkin_enabled = TRUE
		ORDER BY last_checkin_at ASC NULLS FIRST
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// patchableUserColumns 允许 PatchUser 更新的列（仅升级周期状态）
var patchableUserColumns = map[string]bool{
	"missed_started_at":               true,
	"main_notify_rounds":              true,
	"main_last_notified_at":           true,
	"main_call_placed":                true,
	"ec_notify_rounds":                true,
	"ec_last_notified_at":             true,
	"ec_call_placed":                  true,
	"last_escalation_acknowledged_at": true,
}

// PatchUser 合并写入变化的字段（merge 语义，只更新给定列）
func (r *PostgresUsersRepository) PatchUser(ctx context.Context, userID string, fields map[string]any) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if len(fields) == 0 {
		return nil
	}

	// Deterministic column order so generated SQL is stable.
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !patchableUserColumns[col] {
			return fmt.Errorf("column %q is not patchable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, fields[col])
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, userID)

	query := fmt.Sprintf(
		"UPDATE users SET %s WHERE user_id = $%d",
		strings.Join(sets, ", "),
		len(cols)+1,
	)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch user %s: %w", userID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("user %s not found", userID)
	}

	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var firstName, lastName, phone, mainNotification sql.NullString
	var checkinInterval, pushOnlyCount, pushThenCallCount sql.NullInt64
	var lastCheckinAt, missedStartedAt, mainLastNotifiedAt, ecLastNotifiedAt, ackAt sql.NullTime

	err := row.Scan(
		&user.UserID,
		&firstName,
		&lastName,
		&phone,
		&user.CheckinEnabled,
		&checkinInterval,
		&lastCheckinAt,
		&mainNotification,
		&pushOnlyCount,
		&pushThenCallCount,
		&missedStartedAt,
		&user.MainNotifyRounds,
		&mainLastNotifiedAt,
		&user.MainCallPlaced,
		&user.EcNotifyRounds,
		&ecLastNotifiedAt,
		&user.EcCallPlaced,
		&ackAt,
	)
	if err != nil {
		return nil, err
	}

	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.Phone = phone.String
	if checkinInterval.Valid {
		user.CheckinIntervalMin = int(checkinInterval.Int64)
	}
	if pushOnlyCount.Valid {
		v := int(pushOnlyCount.Int64)
		user.PushOnlyCount = &v
	}
	if pushThenCallCount.Valid {
		v := int(pushThenCallCount.Int64)
		user.PushThenCallCount = &v
	}
	user.LastCheckinAt = timePtr(lastCheckinAt)
	user.MissedStartedAt = timePtr(missedStartedAt)
	user.MainLastNotifiedAt = timePtr(mainLastNotifiedAt)
	user.EcLastNotifiedAt = timePtr(ecLastNotifiedAt)
	user.LastEscalationAcknowledgedAt = timePtr(ackAt)

	if mainNotification.Valid && mainNotification.String != "" {
		if err := json.Unmarshal([]byte(mainNotification.String), &user.MainNotification); err != nil {
			// Malformed settings fall back to defaults downstream.
			user.MainNotification = nil
		}
	}

	return &user, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
