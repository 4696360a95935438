package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lifesignal-escalation/internal/models"
	"lifesignal-escalation/internal/repository"
)

// Writes per batch stay well under the backend's per-transaction limit.
const profileSyncChunkSize = 450

// ContactSyncService propagates a contact's profile edits to every link
// row that denormalizes it, so escalation passes read current data.
type ContactSyncService struct {
	contacts repository.ContactsRepository
	logger   *zap.Logger
}

// NewContactSyncService 创建联系人资料同步服务
func NewContactSyncService(contacts repository.ContactsRepository, logger *zap.Logger) *ContactSyncService {
	return &ContactSyncService{
		contacts: contacts,
		logger:   logger,
	}
}

// SyncProfile fans the changed profile fields out to all links of one
// contact, chunked so a contact linked to many users still commits.
// Returns the number of link rows updated.
func (s *ContactSyncService) SyncProfile(ctx context.Context, contactUID string, profile *models.ContactProfile) (int64, error) {
	fields := profile.Fields()
	if len(fields) == 0 {
		s.logger.Debug("No profile fields to sync",
			zap.String("contact_uid", contactUID),
		)
		return 0, nil
	}

	linkIDs, err := s.contacts.FindLinkIDsByContactUID(ctx, contactUID)
	if err != nil {
		return 0, fmt.Errorf("failed to find links for contact: %w", err)
	}
	if len(linkIDs) == 0 {
		s.logger.Debug("Contact has no links to sync",
			zap.String("contact_uid", contactUID),
		)
		return 0, nil
	}

	var total int64
	for i := 0; i < len(linkIDs); i += profileSyncChunkSize {
		end := i + profileSyncChunkSize
		if end > len(linkIDs) {
			end = len(linkIDs)
		}

		n, err := s.contacts.UpdateLinkProfiles(ctx, linkIDs[i:end], fields)
		if err != nil {
			return total, fmt.Errorf("failed to update link profiles (%d-%d): %w", i, end, err)
		}
		total += n
	}

	s.logger.Info("Contact profile synced",
		zap.String("contact_uid", contactUID),
		zap.Int("links", len(linkIDs)),
		zap.Int64("rows_updated", total),
	)

	return total, nil
}
