package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"lifesignal-escalation/internal/models"
)

// PostgresContactsRepository 紧急联系人 Repository 实现
type PostgresContactsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresContactsRepository 创建联系人 Repository
func NewPostgresContactsRepository(db *sql.DB, logger *zap.Logger) *PostgresContactsRepository {
	return &PostgresContactsRepository{db: db, logger: logger}
}

var _ ContactsRepository = (*PostgresContactsRepository)(nil)

// FindActiveContacts 获取用户的 ACTIVE 联系人（按公平轮换排序）
// Phone validity is filtered here in Go so the E.164 rule stays in one
// place (models.IsE164).
func (r *PostgresContactsRepository) FindActiveContacts(ctx context.Context, userID string) ([]*models.EmergencyContact, error) {
	query := `
		SELECT
			link_id,
			user_id,
			COALESCE(emergency_contact_uid, ''),
			COALESCE(phone, ''),
			status,
			COALESCE(relationship, ''),
			notification_settings,
			COALESCE(sent_count_in_window, 0),
			created_at
		FROM emergency_contacts
		WHERE user_id = $1 AND status = $2
		ORDER BY COALESCE(sent_count_in_window, 0) ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, models.ContactStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.EmergencyContact
	for rows.Next() {
		var c models.EmergencyContact
		var settings sql.NullString
		var createdAt sql.NullTime

		err := rows.Scan(
			&c.LinkID,
			&c.UserID,
			&c.EmergencyContactUID,
			&c.Phone,
			&c.Status,
			&c.Relationship,
			&settings,
			&c.SentCountInWindow,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}

		if !models.IsE164(c.Phone) {
			continue
		}

		c.CreatedAt = timePtr(createdAt)
		if settings.Valid && settings.String != "" {
			if err := json.Unmarshal([]byte(settings.String), &c.NotificationSettings); err != nil {
				c.NotificationSettings = nil
			}
		}

		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}

	return contacts, nil
}

// FindActiveContactUIDs 获取 ACTIVE 联系人身份（去重，用于推送）
func (r *PostgresContactsRepository) FindActiveContactUIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT emergency_contact_uid
		FROM emergency_contacts
		WHERE user_id = $1
		  AND status = $2
		  AND emergency_contact_uid IS NOT NULL
		  AND emergency_contact_uid <> ''`

	rows, err := r.db.QueryContext(ctx, query, userID, models.ContactStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query contact uids: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan contact uid: %w", err)
		}
		uids = append(uids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contact uids: %w", err)
	}

	return uids, nil
}

// FindLinkIDsByContactUID 按联系人身份查所有 link（跨用户）
func (r *PostgresContactsRepository) FindLinkIDsByContactUID(ctx context.Context, contactUID string) ([]string, error) {
	if contactUID == "" {
		return nil, fmt.Errorf("contact uid is required")
	}

	query := `SELECT link_id FROM emergency_contacts WHERE emergency_contact_uid = $1`

	rows, err := r.db.QueryContext(ctx, query, contactUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query links by contact uid: %w", err)
	}
	defer rows.Close()

	var linkIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan link id: %w", err)
		}
		linkIDs = append(linkIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate link ids: %w", err)
	}

	return linkIDs, nil
}

// UpdateLinkProfiles 合并 profile 字段到指定 link（一批）
func (r *PostgresContactsRepository) UpdateLinkProfiles(ctx context.Context, linkIDs []string, fields map[string]any) (int64, error) {
	if len(linkIDs) == 0 || len(fields) == 0 {
		return 0, nil
	}

	patch, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal profile patch: %w", err)
	}

	query := `
		UPDATE emergency_contacts
		SET profile = COALESCE(profile, '{}'::jsonb) || $1::jsonb,
		    updated_at = now()
		WHERE link_id = ANY($2)`

	result, err := r.db.ExecContext(ctx, query, string(patch), pq.Array(linkIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to update link profiles: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}
