// Package policy resolves raw, possibly partial notification settings
// into fully-defaulted escalation policies. Pure functions, no I/O.
package policy

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"lifesignal-escalation/internal/models"
)

// Mode 通知方式
type Mode string

const (
	ModePushOnly     Mode = "PUSH_ONLY"
	ModePushPlusCall Mode = "PUSH_PLUS_CALL"
	ModeCallOnly     Mode = "CALL_ONLY"
)

// Defaults applied when a settings field is missing or unparsable.
const (
	DefaultMainPushIntervalMin    = 10
	DefaultMainPushBatchSize      = 1
	DefaultContactPushIntervalMin = 10
	DefaultContactPushBatchSize   = 3
	DefaultCallDelayMin           = 20
	DefaultPushOnlyCount          = 3
	DefaultPushThenCallCount      = 3
	DefaultEscalationDelayMin     = 30
)

// MainPolicy fully-defaulted notification policy for the monitored user.
type MainPolicy struct {
	Mode            Mode
	PushIntervalMin float64
	PushBatchSize   int
	CallDelayMin    float64

	// Push round caps: PushOnlyCount stops PUSH_ONLY, PushThenCallCount
	// gates the call in PUSH_PLUS_CALL.
	PushOnlyCount     int
	PushThenCallCount int
}

// ContactPolicy fully-defaulted escalation policy for one contact link.
type ContactPolicy struct {
	Mode            Mode
	PushIntervalMin float64
	PushBatchSize   int
	CallDelayMin    float64

	// Minutes after the missed cycle begins before contact escalation
	// may start at all.
	EscalationDelayMin float64
}

// NormalizeMode maps free-text mode input onto a Mode; unrecognized or
// absent input returns fallback. Case and whitespace insensitive.
func NormalizeMode(raw any, fallback Mode) Mode {
	s, ok := raw.(string)
	if !ok || s == "" {
		return fallback
	}
	v := strings.ToLower(strings.Join(strings.Fields(s), ""))

	switch v {
	case "pushonly":
		return ModePushOnly
	case "push+call", "pushandcall", "push_plus_call":
		return ModePushPlusCall
	case "callonly", "call":
		return ModeCallOnly
	}
	return fallback
}

// ResolveMain resolves users.main_notification plus the user-level push
// counts into a MainPolicy.
func ResolveMain(u *models.User) MainPolicy {
	cfg := u.MainNotification

	p := MainPolicy{
		Mode:              NormalizeMode(cfg["mode"], ModePushPlusCall),
		PushIntervalMin:   numberOr(cfg["pushIntervalMin"], DefaultMainPushIntervalMin),
		PushBatchSize:     batchCount(numberOr(cfg["pushBatchSize"], DefaultMainPushBatchSize)),
		CallDelayMin:      numberOr(cfg["callDelayMin"], DefaultCallDelayMin),
		PushOnlyCount:     DefaultPushOnlyCount,
		PushThenCallCount: DefaultPushThenCallCount,
	}
	if u.PushOnlyCount != nil {
		p.PushOnlyCount = *u.PushOnlyCount
	}
	if u.PushThenCallCount != nil {
		p.PushThenCallCount = *u.PushThenCallCount
	}
	return p
}

// ResolveContact resolves a link's notification_settings into a
// ContactPolicy.
func ResolveContact(c *models.EmergencyContact) ContactPolicy {
	cfg := c.NotificationSettings

	return ContactPolicy{
		Mode:               NormalizeMode(cfg["mode"], ModePushPlusCall),
		PushIntervalMin:    numberOr(cfg["pushIntervalMin"], DefaultContactPushIntervalMin),
		PushBatchSize:      batchCount(numberOr(cfg["pushBatchSize"], DefaultContactPushBatchSize)),
		CallDelayMin:       numberOr(cfg["callDelayMin"], DefaultCallDelayMin),
		EscalationDelayMin: numberOr(cfg["escalationDelayMin"], DefaultEscalationDelayMin),
	}
}

// batchCount converts a batch-size setting to a send count. Fractional
// values round up: a counting loop bounded by 2.7 runs 3 times.
func batchCount(f float64) int {
	return int(math.Ceil(f))
}

// numberOr coerces a raw settings value to a finite float64, falling
// back to def for missing, non-numeric, NaN or infinite input. Zero and
// negative values are accepted as-is.
func numberOr(raw any, def float64) float64 {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return def
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}
