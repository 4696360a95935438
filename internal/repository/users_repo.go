package repository

import (
	"context"

	"lifesignal-escalation/internal/models"
)

// UsersRepository 用户 Repository 接口
// Narrow contract over the document/user store: any engine offering a
// page of check-in-enabled users plus merge-semantics patches suffices.
type UsersRepository interface {
	// FindDueUsers returns up to limit users with check-in enabled,
	// oldest check-in first. Overdue filtering happens in the evaluator
	// (the store never computes last_checkin_at + interval).
	FindDueUsers(ctx context.Context, limit int) ([]*models.User, error)

	// PatchUser merges only the given fields into one user record.
	// Keys are column names restricted to the escalation cycle state.
	PatchUser(ctx context.Context, userID string, fields map[string]any) error
}
