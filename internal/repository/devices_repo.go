package repository

import "context"

// DevicesRepository 设备推送令牌 Repository 接口
// Token registration is owned by the client apps; this service only
// reads.
type DevicesRepository interface {
	// TokensForUser returns the non-empty, deduplicated push tokens
	// registered for one user.
	TokensForUser(ctx context.Context, userID string) ([]string, error)
}
