// Package evaluator holds the per-user escalation state machine: given
// one overdue user it decides which push/call action is due right now
// and produces a partial state patch to persist.
package evaluator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lifesignal-escalation/internal/models"
	"lifesignal-escalation/internal/notify"
	"lifesignal-escalation/internal/repository"
)

const (
	// Check-in interval fallback when the user never configured one.
	defaultCheckinIntervalMin = 60

	// Contact escalation also opens after this many main rounds,
	// independent of the configured escalation delay (whichever
	// condition is met first wins).
	contactGateFallbackRounds = 3
)

// Dispatcher 通知分发能力（由 notify.Dispatcher 实现）
type Dispatcher interface {
	SendPushBatch(ctx context.Context, targets []string, notification notify.PushNotification, data map[string]string, count int)
	PlaceCall(ctx context.Context, toPhone string, state notify.ClientState) error
	CallsEnabled() bool
}

// Evaluator 漏打卡升级评估器
type Evaluator struct {
	contacts   repository.ContactsRepository
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(contacts repository.ContactsRepository, dispatcher Dispatcher, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		contacts:   contacts,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Result one user's outcome for this pass. Updates holds only the
// fields that actually changed; an empty map means no write and the
// user is not counted as processed.
type Result struct {
	Updates     map[string]any
	CallsQueued int
}

// cycleState working copy of the user's escalation cycle, isolated per
// user within a pass.
type cycleState struct {
	missedStartedAt    time.Time
	mainNotifyRounds   int
	mainLastNotifiedAt *time.Time
	mainCallPlaced     bool
	ecNotifyRounds     int
	ecLastNotifiedAt   *time.Time
	ecCallPlaced       bool
}

// EvaluateUser runs both tracks for one user. Returns nil when the user
// is not overdue. Dispatch failures are logged here and never
// propagated; the returned updates always reflect what actually
// happened.
func (e *Evaluator) EvaluateUser(ctx context.Context, now time.Time, u *models.User) (*Result, error) {
	if !u.CheckinEnabled {
		return nil, nil
	}

	var lastCheckin time.Time
	if u.LastCheckinAt != nil {
		lastCheckin = *u.LastCheckinAt
	}
	intervalMin := u.CheckinIntervalMin
	if intervalMin == 0 {
		intervalMin = defaultCheckinIntervalMin
	}

	dueAt := lastCheckin.Add(time.Duration(intervalMin) * time.Minute)
	if now.Before(dueAt) {
		return nil, nil
	}

	res := &Result{Updates: make(map[string]any)}

	// New miss: no prior cycle, or the user checked in since the last
	// recorded miss start. Reset everything, locals included, before
	// evaluating any step.
	newMiss := u.MissedStartedAt == nil ||
		(u.LastCheckinAt != nil && u.LastCheckinAt.After(*u.MissedStartedAt))

	var st cycleState
	if newMiss {
		st = cycleState{missedStartedAt: now}
		res.Updates["missed_started_at"] = now
		res.Updates["main_notify_rounds"] = 0
		res.Updates["main_last_notified_at"] = nil
		res.Updates["main_call_placed"] = false
		res.Updates["ec_notify_rounds"] = 0
		res.Updates["ec_last_notified_at"] = nil
		res.Updates["ec_call_placed"] = false
	} else {
		st = cycleState{
			missedStartedAt:    *u.MissedStartedAt,
			mainNotifyRounds:   u.MainNotifyRounds,
			mainLastNotifiedAt: u.MainLastNotifiedAt,
			mainCallPlaced:     u.MainCallPlaced,
			ecNotifyRounds:     u.EcNotifyRounds,
			ecLastNotifiedAt:   u.EcLastNotifiedAt,
			ecCallPlaced:       u.EcCallPlaced,
		}
	}

	elapsedMin := now.Sub(st.missedStartedAt).Minutes()

	// Main track first: the contact gate reads this pass's updated
	// round count.
	e.evaluateMainTrack(ctx, now, u, &st, res)
	e.evaluateContactTrack(ctx, now, elapsedMin, u, &st, res)

	return res, nil
}

// pushRoundDue first round fires immediately, later rounds wait out the
// push interval.
func pushRoundDue(now time.Time, rounds int, lastNotifiedAt *time.Time, intervalMin float64) bool {
	if rounds == 0 || lastNotifiedAt == nil {
		return true
	}
	return now.Sub(*lastNotifiedAt).Minutes() >= intervalMin
}

func contactUIDPtr(c *models.EmergencyContact) *string {
	if c.EmergencyContactUID == "" {
		return nil
	}
	uid := c.EmergencyContactUID
	return &uid
}

var _ Dispatcher = (*notify.Dispatcher)(nil)
