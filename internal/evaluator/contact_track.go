package evaluator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lifesignal-escalation/internal/models"
	"lifesignal-escalation/internal/notify"
	"lifesignal-escalation/internal/policy"
)

// evaluateContactTrack 紧急联系人升级轨道
// Runs on the single primary ACTIVE contact; push fan-out still reaches
// every active contact's devices. Skipped entirely (logged, not an
// error) when no qualifying contact exists.
func (e *Evaluator) evaluateContactTrack(ctx context.Context, now time.Time, elapsedMin float64, u *models.User, st *cycleState, res *Result) {
	contacts, err := e.contacts.FindActiveContacts(ctx, u.UserID)
	if err != nil {
		e.logger.Error("Failed to load emergency contacts",
			zap.String("user_id", u.UserID),
			zap.Error(err),
		)
		return
	}
	if len(contacts) == 0 {
		e.logger.Warn("No ACTIVE emergency contact with valid E.164 phone",
			zap.String("user_id", u.UserID),
		)
		return
	}

	primary := contacts[0]
	cfg := policy.ResolveContact(primary)

	// Escalation gate: configured delay elapsed, or the main track has
	// already burned through the fallback round count.
	if elapsedMin < cfg.EscalationDelayMin && st.mainNotifyRounds < contactGateFallbackRounds {
		return
	}

	switch cfg.Mode {
	case policy.ModeCallOnly:
		if !st.ecCallPlaced && e.dispatcher.CallsEnabled() {
			e.placeContactCall(ctx, u, primary, st, res)
		}

	case policy.ModePushOnly:
		// No round cap: keeps nagging until the user checks in.
		if pushRoundDue(now, st.ecNotifyRounds, st.ecLastNotifiedAt, cfg.PushIntervalMin) {
			e.sendContactPushRound(ctx, now, u, cfg.PushBatchSize, st, res)
		}

	case policy.ModePushPlusCall:
		if pushRoundDue(now, st.ecNotifyRounds, st.ecLastNotifiedAt, cfg.PushIntervalMin) {
			e.sendContactPushRound(ctx, now, u, cfg.PushBatchSize, st, res)
		}

		// Call clock runs independently of the push rounds.
		if !st.ecCallPlaced && elapsedMin >= cfg.CallDelayMin && e.dispatcher.CallsEnabled() {
			e.placeContactCall(ctx, u, primary, st, res)
		}
	}
}

// sendContactPushRound one push round fanned out to all active
// contacts' devices, not just the primary.
func (e *Evaluator) sendContactPushRound(ctx context.Context, now time.Time, u *models.User, batchSize int, st *cycleState, res *Result) {
	targets, err := e.contacts.FindActiveContactUIDs(ctx, u.UserID)
	if err != nil {
		e.logger.Error("Failed to load contact identities for push",
			zap.String("user_id", u.UserID),
			zap.Error(err),
		)
		targets = nil
	}

	e.dispatcher.SendPushBatch(ctx,
		targets,
		notify.PushNotification{
			Title: "Life Signal: missed check-in",
			Body:  fmt.Sprintf("%s missed a check-in. Please check on them and acknowledge the alert.", u.DisplayName()),
		},
		map[string]string{
			"type":        "escalation_emergency_contact",
			"mainUserUid": u.UserID,
		},
		batchSize,
	)

	st.ecNotifyRounds++
	st.ecLastNotifiedAt = &now
	res.Updates["ec_notify_rounds"] = st.ecNotifyRounds
	res.Updates["ec_last_notified_at"] = now
}

func (e *Evaluator) placeContactCall(ctx context.Context, u *models.User, contact *models.EmergencyContact, st *cycleState, res *Result) {
	state := notify.ClientState{
		MainUserUID:         u.UserID,
		EmergencyContactUID: contactUIDPtr(contact),
		Reason:              notify.ReasonEscalation,
	}

	if err := e.dispatcher.PlaceCall(ctx, contact.Phone, state); err != nil {
		e.logger.Error("Failed to place call to emergency contact",
			zap.String("user_id", u.UserID),
			zap.String("link_id", contact.LinkID),
			zap.Error(err),
		)
		return
	}

	st.ecCallPlaced = true
	res.Updates["ec_call_placed"] = true
	res.CallsQueued++
}
