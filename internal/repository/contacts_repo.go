package repository

import (
	"context"

	"lifesignal-escalation/internal/models"
)

// ContactsRepository 紧急联系人 link Repository 接口
type ContactsRepository interface {
	// FindActiveContacts returns ACTIVE links with a valid E.164 phone,
	// ordered by sent_count_in_window asc, then created_at asc
	// (round-robin fairness; element 0 is the cycle's primary contact).
	// An empty result is not an error.
	FindActiveContacts(ctx context.Context, userID string) ([]*models.EmergencyContact, error)

	// FindActiveContactUIDs returns the distinct non-empty contact
	// identities among ACTIVE links (push fan-out targets; no phone
	// requirement).
	FindActiveContactUIDs(ctx context.Context, userID string) ([]string, error)

	// FindLinkIDsByContactUID returns every link id referencing the
	// given contact identity, across all users.
	FindLinkIDsByContactUID(ctx context.Context, contactUID string) ([]string, error)

	// UpdateLinkProfiles merges the given profile fields into the
	// profile JSONB of the listed links. Callers chunk linkIDs to stay
	// below the store's write ceiling. Returns affected link count.
	UpdateLinkProfiles(ctx context.Context, linkIDs []string, fields map[string]any) (int64, error)
}
