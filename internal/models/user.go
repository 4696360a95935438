package models

import (
	"strings"
	"time"
)

// User 被监护用户（check-in 主体）+ 当前漏打卡周期状态
// Cycle state fields are meaningful only while MissedStartedAt is set;
// the evaluator resets all of them when a check-in lands after a miss.
type User struct {
	UserID    string
	FirstName string
	LastName  string
	Phone     string

	CheckinEnabled     bool
	CheckinIntervalMin int // 0 = not configured, evaluator falls back to 60
	LastCheckinAt      *time.Time

	// Raw notification settings as stored (JSONB); resolved by the
	// policy package, never consumed directly.
	MainNotification  map[string]any
	PushOnlyCount     *int
	PushThenCallCount *int

	// Escalation cycle state
	MissedStartedAt    *time.Time
	MainNotifyRounds   int
	MainLastNotifiedAt *time.Time
	MainCallPlaced     bool
	EcNotifyRounds     int
	EcLastNotifiedAt   *time.Time
	EcCallPlaced       bool

	LastEscalationAcknowledgedAt *time.Time
}

// DisplayName first/last name joined, or "a user" when both are empty
// (used in escalation push bodies sent to emergency contacts).
func (u *User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return "a user"
	}
	return name
}
