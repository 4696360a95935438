package models

import "time"

// Contact link status values (managed by the user-management flows,
// read-only here).
const (
	ContactStatusActive = "ACTIVE"
)

// EmergencyContact 紧急联系人 link（属于一个 user）
// One link per (user, contact identity); a real person can be linked to
// several users through several links.
type EmergencyContact struct {
	LinkID              string
	UserID              string
	EmergencyContactUID string
	Phone               string
	Status              string
	Relationship        string

	// Raw per-link notification settings (JSONB), resolved by policy.
	NotificationSettings map[string]any

	// Ranking bookkeeping, read-only for the scan (round-robin order).
	SentCountInWindow int
	CreatedAt         *time.Time
}

// ContactProfile watched profile fields mirrored onto links when the
// contact's own account changes. Nil means "leave the field alone".
type ContactProfile struct {
	FirstName    *string `json:"firstName"`
	LastName     *string `json:"lastName"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	Relationship *string `json:"relationship"`
	PhotoURL     *string `json:"photoUrl"`
}

// Fields flattens the non-nil profile fields into profile.* column
// patch entries.
func (p *ContactProfile) Fields() map[string]any {
	out := make(map[string]any)
	if p.FirstName != nil {
		out["firstName"] = *p.FirstName
	}
	if p.LastName != nil {
		out["lastName"] = *p.LastName
	}
	if p.Email != nil {
		out["email"] = *p.Email
	}
	if p.Phone != nil {
		out["phone"] = *p.Phone
	}
	if p.Relationship != nil {
		out["relationship"] = *p.Relationship
	}
	if p.PhotoURL != nil {
		out["photoUrl"] = *p.PhotoURL
	}
	return out
}
