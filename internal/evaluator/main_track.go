package evaluator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lifesignal-escalation/internal/models"
	"lifesignal-escalation/internal/notify"
	"lifesignal-escalation/internal/policy"
)

// evaluateMainTrack 主用户通知轨道
// CALL_ONLY calls once immediately; PUSH_ONLY sends capped push rounds
// and never calls; PUSH_PLUS_CALL sends capped rounds then calls once.
func (e *Evaluator) evaluateMainTrack(ctx context.Context, now time.Time, u *models.User, st *cycleState, res *Result) {
	cfg := policy.ResolveMain(u)

	mainPhone := ""
	if models.IsE164(u.Phone) {
		mainPhone = u.Phone
	}

	switch cfg.Mode {
	case policy.ModeCallOnly:
		if !st.mainCallPlaced && mainPhone != "" && e.dispatcher.CallsEnabled() {
			e.placeMainCall(ctx, u, mainPhone, st, res)
		}

	case policy.ModePushOnly:
		// Stop after PushOnlyCount rounds, no call ever.
		if st.mainNotifyRounds < cfg.PushOnlyCount &&
			pushRoundDue(now, st.mainNotifyRounds, st.mainLastNotifiedAt, cfg.PushIntervalMin) {
			e.sendMainPushRound(ctx, now, u, cfg.PushBatchSize, st, res)
		}

	case policy.ModePushPlusCall:
		if st.mainNotifyRounds < cfg.PushThenCallCount &&
			pushRoundDue(now, st.mainNotifyRounds, st.mainLastNotifiedAt, cfg.PushIntervalMin) {
			e.sendMainPushRound(ctx, now, u, cfg.PushBatchSize, st, res)
		}

		if st.mainNotifyRounds >= cfg.PushThenCallCount &&
			!st.mainCallPlaced && mainPhone != "" && e.dispatcher.CallsEnabled() {
			e.placeMainCall(ctx, u, mainPhone, st, res)
		}
	}
}

// sendMainPushRound one push round to the user's own devices. A round
// counts as completed once attempted, whatever delivery did.
func (e *Evaluator) sendMainPushRound(ctx context.Context, now time.Time, u *models.User, batchSize int, st *cycleState, res *Result) {
	e.dispatcher.SendPushBatch(ctx,
		[]string{u.UserID},
		notify.PushNotification{
			Title: "Life Signal: missed check-in",
			Body:  "You missed a scheduled check-in. Please open the app and check in.",
		},
		map[string]string{
			"type":        "missed_checkin_main_user",
			"mainUserUid": u.UserID,
		},
		batchSize,
	)

	st.mainNotifyRounds++
	st.mainLastNotifiedAt = &now
	res.Updates["main_notify_rounds"] = st.mainNotifyRounds
	res.Updates["main_last_notified_at"] = now
}

// placeMainCall marks the call placed only after a confirmed provider
// accept; failures are logged and the flag stays down for the next pass.
func (e *Evaluator) placeMainCall(ctx context.Context, u *models.User, toPhone string, st *cycleState, res *Result) {
	state := notify.ClientState{
		MainUserUID: u.UserID,
		Reason:      notify.ReasonMainUserMissedCheckin,
	}

	if err := e.dispatcher.PlaceCall(ctx, toPhone, state); err != nil {
		e.logger.Error("Failed to place call to main user",
			zap.String("user_id", u.UserID),
			zap.Error(err),
		)
		return
	}

	st.mainCallPlaced = true
	res.Updates["main_call_placed"] = true
	res.CallsQueued++
}
