package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lifesignal-escalation/internal/models"
	"lifesignal-escalation/internal/notify"
)

type fakeContactsRepo struct {
	contacts    []*models.EmergencyContact
	uids        []string
	contactsErr error
	uidsErr     error
}

func (f *fakeContactsRepo) FindActiveContacts(ctx context.Context, userID string) ([]*models.EmergencyContact, error) {
	return f.contacts, f.contactsErr
}

func (f *fakeContactsRepo) FindActiveContactUIDs(ctx context.Context, userID string) ([]string, error) {
	return f.uids, f.uidsErr
}

func (f *fakeContactsRepo) FindLinkIDsByContactUID(ctx context.Context, contactUID string) ([]string, error) {
	return nil, nil
}

func (f *fakeContactsRepo) UpdateLinkProfiles(ctx context.Context, linkIDs []string, fields map[string]any) (int64, error) {
	return 0, nil
}

type pushCall struct {
	targets []string
	notif   notify.PushNotification
	data    map[string]string
	count   int
}

type callAttempt struct {
	to    string
	state notify.ClientState
}

type fakeDispatcher struct {
	pushes       []pushCall
	calls        []callAttempt
	callErr      error
	callsEnabled bool
}

func (f *fakeDispatcher) SendPushBatch(ctx context.Context, targets []string, notification notify.PushNotification, data map[string]string, count int) {
	f.pushes = append(f.pushes, pushCall{targets: targets, notif: notification, data: data, count: count})
}

func (f *fakeDispatcher) PlaceCall(ctx context.Context, toPhone string, state notify.ClientState) error {
	f.calls = append(f.calls, callAttempt{to: toPhone, state: state})
	return f.callErr
}

func (f *fakeDispatcher) CallsEnabled() bool {
	return f.callsEnabled
}

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

// overdueUser checkinInterval=60, last check-in 61 minutes ago
func overdueUser(mode string) *models.User {
	last := testNow.Add(-61 * time.Minute)
	return &models.User{
		UserID:             "u1",
		FirstName:          "Ada",
		Phone:              "+15550001111",
		CheckinEnabled:     true,
		CheckinIntervalMin: 60,
		LastCheckinAt:      &last,
		MainNotification: map[string]any{
			"mode":            mode,
			"pushIntervalMin": float64(10),
		},
	}
}

func activeContact() *models.EmergencyContact {
	created := testNow.Add(-48 * time.Hour)
	return &models.EmergencyContact{
		LinkID:              "l1",
		UserID:              "u1",
		EmergencyContactUID: "ec-1",
		Phone:               "+15550002222",
		Status:              models.ContactStatusActive,
		CreatedAt:           &created,
	}
}

func newTestEvaluator(contacts *fakeContactsRepo, d *fakeDispatcher) *Evaluator {
	return NewEvaluator(contacts, d, zap.NewNop())
}

// applyUpdates simulates the orchestrator persisting a pass's patch so
// the next pass sees it.
func applyUpdates(u *models.User, res *Result) {
	for k, v := range res.Updates {
		switch k {
		case "missed_started_at":
			t := v.(time.Time)
			u.MissedStartedAt = &t
		case "main_notify_rounds":
			u.MainNotifyRounds = v.(int)
		case "main_last_notified_at":
			if v == nil {
				u.MainLastNotifiedAt = nil
			} else {
				t := v.(time.Time)
				u.MainLastNotifiedAt = &t
			}
		case "main_call_placed":
			u.MainCallPlaced = v.(bool)
		case "ec_notify_rounds":
			u.EcNotifyRounds = v.(int)
		case "ec_last_notified_at":
			if v == nil {
				u.EcLastNotifiedAt = nil
			} else {
				t := v.(time.Time)
				u.EcLastNotifiedAt = &t
			}
		case "ec_call_placed":
			u.EcCallPlaced = v.(bool)
		}
	}
}

func TestEvaluateUser_NotOverdue(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)

	u := overdueUser("Push only")
	recent := testNow.Add(-30 * time.Minute)
	u.LastCheckinAt = &recent

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, d.pushes)
	assert.Empty(t, d.calls)
}

func TestEvaluateUser_CheckinDisabledSkipped(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)

	u := overdueUser("Push only")
	u.CheckinEnabled = false

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestEvaluateUser_NewMissResetsCycleState(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)

	// Stale state from a previous cycle: user checked in after the
	// recorded miss start, then missed again.
	u := overdueUser("Push only")
	oldMiss := testNow.Add(-5 * time.Hour)
	oldNotified := testNow.Add(-4 * time.Hour)
	u.MissedStartedAt = &oldMiss
	u.MainNotifyRounds = 3
	u.MainLastNotifiedAt = &oldNotified
	u.MainCallPlaced = true
	u.EcNotifyRounds = 7
	u.EcCallPlaced = true

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	require.NotNil(t, res)

	// Reset happens before any step: the first push round of the new
	// cycle fires despite the stale round count.
	assert.Equal(t, testNow, res.Updates["missed_started_at"])
	assert.Equal(t, false, res.Updates["main_call_placed"])
	assert.Equal(t, 0, res.Updates["ec_notify_rounds"])
	assert.Equal(t, false, res.Updates["ec_call_placed"])
	assert.Equal(t, 1, res.Updates["main_notify_rounds"])
	require.Len(t, d.pushes, 1)
	assert.Equal(t, []string{"u1"}, d.pushes[0].targets)
}

func TestScenarioA_PushOnlyRoundGating(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)
	ctx := context.Background()

	u := overdueUser("Push only")

	// First pass: one push, round 1.
	res, err := e.EvaluateUser(ctx, testNow, u)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Updates["main_notify_rounds"])
	require.Len(t, d.pushes, 1)
	applyUpdates(u, res)

	// 5 minutes later: interval not elapsed, nothing to do, no write.
	res, err = e.EvaluateUser(ctx, testNow.Add(5*time.Minute), u)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.Updates)
	assert.Len(t, d.pushes, 1)

	// 11 minutes after the first round: second push.
	res, err = e.EvaluateUser(ctx, testNow.Add(11*time.Minute), u)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updates["main_notify_rounds"])
	assert.Len(t, d.pushes, 2)
}

func TestPushOnly_NeverExceedsCapAndNeverCalls(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)
	ctx := context.Background()

	u := overdueUser("Push only")
	rounds := 3
	u.PushOnlyCount = &rounds

	now := testNow
	for i := 0; i < 6; i++ {
		res, err := e.EvaluateUser(ctx, now, u)
		require.NoError(t, err)
		if res != nil {
			applyUpdates(u, res)
		}
		now = now.Add(11 * time.Minute)
	}

	assert.Len(t, d.pushes, 3)
	assert.Empty(t, d.calls)
	assert.Equal(t, 3, u.MainNotifyRounds)
}

func TestScenarioB_PushThenCall(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)
	ctx := context.Background()

	u := overdueUser("Push+Call")
	count := 2
	u.PushThenCallCount = &count

	// Pass 1: round 1, below the call threshold.
	res, err := e.EvaluateUser(ctx, testNow, u)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updates["main_notify_rounds"])
	assert.Empty(t, d.calls)
	applyUpdates(u, res)

	// Pass 2: round 2 completes the push phase and the call goes out.
	res, err = e.EvaluateUser(ctx, testNow.Add(11*time.Minute), u)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updates["main_notify_rounds"])
	assert.Equal(t, true, res.Updates["main_call_placed"])
	assert.Equal(t, 1, res.CallsQueued)
	require.Len(t, d.calls, 1)
	assert.Equal(t, "+15550001111", d.calls[0].to)
	assert.Equal(t, notify.ReasonMainUserMissedCheckin, d.calls[0].state.Reason)
	assert.Nil(t, d.calls[0].state.EmergencyContactUID)
	applyUpdates(u, res)

	// Pass 3: call already placed, nothing further.
	res, err = e.EvaluateUser(ctx, testNow.Add(22*time.Minute), u)
	require.NoError(t, err)
	assert.Empty(t, res.Updates)
	assert.Len(t, d.calls, 1)
}

func TestCallOnly_CallsImmediatelyOnce(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)
	ctx := context.Background()

	u := overdueUser("Call")

	res, err := e.EvaluateUser(ctx, testNow, u)
	require.NoError(t, err)
	assert.Equal(t, true, res.Updates["main_call_placed"])
	assert.Empty(t, d.pushes)
	require.Len(t, d.calls, 1)
	applyUpdates(u, res)

	res, err = e.EvaluateUser(ctx, testNow.Add(11*time.Minute), u)
	require.NoError(t, err)
	assert.Empty(t, res.Updates)
	assert.Len(t, d.calls, 1)
}

func TestCallOnly_NoPhoneOrCallsDisabledSuppressesCall(t *testing.T) {
	ctx := context.Background()

	miss := testNow.Add(-10 * time.Minute)

	// No valid phone.
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)
	u := overdueUser("Call")
	u.Phone = "not-a-phone"
	u.MissedStartedAt = &miss
	res, err := e.EvaluateUser(ctx, testNow, u)
	require.NoError(t, err)
	assert.Empty(t, res.Updates)
	assert.Empty(t, d.calls)

	// Calls not configured.
	d = &fakeDispatcher{callsEnabled: false}
	e = newTestEvaluator(&fakeContactsRepo{}, d)
	u = overdueUser("Call")
	u.MissedStartedAt = &miss
	res, err = e.EvaluateUser(ctx, testNow, u)
	require.NoError(t, err)
	assert.Empty(t, res.Updates)
	assert.Empty(t, d.calls)
}

func TestCallFailure_FlagStaysDown(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true, callErr: errors.New("telnyx 500")}
	e := newTestEvaluator(&fakeContactsRepo{}, d)

	u := overdueUser("Call")
	miss := testNow.Add(-10 * time.Minute)
	u.MissedStartedAt = &miss

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	// Attempted but not confirmed: no flag, no write, retried next pass.
	assert.NotContains(t, res.Updates, "main_call_placed")
	assert.Empty(t, res.Updates)
	assert.Zero(t, res.CallsQueued)
	assert.Len(t, d.calls, 1)
}

func TestContactGate_ClosedBeforeDelayAndRounds(t *testing.T) {
	contacts := &fakeContactsRepo{contacts: []*models.EmergencyContact{activeContact()}, uids: []string{"ec-1"}}
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(contacts, d)

	// Cycle started 20 minutes ago, rounds below 3, default
	// escalationDelayMin=30: gate closed.
	u := overdueUser("Push only")
	miss := testNow.Add(-20 * time.Minute)
	notified := testNow.Add(-5 * time.Minute)
	u.MissedStartedAt = &miss
	u.MainNotifyRounds = 2
	u.MainLastNotifiedAt = &notified

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	assert.NotContains(t, res.Updates, "ec_notify_rounds")
	assert.NotContains(t, res.Updates, "ec_call_placed")
	for _, p := range d.pushes {
		assert.NotEqual(t, "escalation_emergency_contact", p.data["type"])
	}
}

func TestContactGate_OpensOnElapsedDelay(t *testing.T) {
	contacts := &fakeContactsRepo{contacts: []*models.EmergencyContact{activeContact()}, uids: []string{"ec-1"}}
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(contacts, d)

	u := overdueUser("Push only")
	one := 1 // main track already done
	u.PushOnlyCount = &one
	miss := testNow.Add(-31 * time.Minute)
	notified := testNow.Add(-31 * time.Minute)
	u.MissedStartedAt = &miss
	u.MainNotifyRounds = 1
	u.MainLastNotifiedAt = &notified

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Updates["ec_notify_rounds"])
	// Default contact mode is PUSH_PLUS_CALL and callDelayMin=20 has
	// elapsed, so the contact call goes out too.
	assert.Equal(t, true, res.Updates["ec_call_placed"])
	require.Len(t, d.calls, 1)
	assert.Equal(t, "+15550002222", d.calls[0].to)
	assert.Equal(t, notify.ReasonEscalation, d.calls[0].state.Reason)
	require.NotNil(t, d.calls[0].state.EmergencyContactUID)
	assert.Equal(t, "ec-1", *d.calls[0].state.EmergencyContactUID)
}

func TestContactGate_OpensOnMainRoundsSamePass(t *testing.T) {
	contact := activeContact()
	contact.NotificationSettings = map[string]any{"mode": "Push only"}
	contacts := &fakeContactsRepo{contacts: []*models.EmergencyContact{contact}, uids: []string{"ec-1", "ec-2"}}
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(contacts, d)

	// Third main round lands this pass; the gate must read the updated
	// count and open in the same pass even though only 25 of the 30
	// delay minutes have elapsed.
	u := overdueUser("Push only")
	miss := testNow.Add(-25 * time.Minute)
	notified := testNow.Add(-12 * time.Minute)
	u.MissedStartedAt = &miss
	u.MainNotifyRounds = 2
	u.MainLastNotifiedAt = &notified

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Updates["main_notify_rounds"])
	assert.Equal(t, 1, res.Updates["ec_notify_rounds"])

	require.Len(t, d.pushes, 2)
	assert.Equal(t, []string{"u1"}, d.pushes[0].targets)
	// Contact push fans out to every active contact identity.
	assert.Equal(t, []string{"ec-1", "ec-2"}, d.pushes[1].targets)
	assert.Equal(t, "escalation_emergency_contact", d.pushes[1].data["type"])
	assert.Contains(t, d.pushes[1].notif.Body, "Ada")
}

func TestContactPushOnly_NoRoundCap(t *testing.T) {
	contact := activeContact()
	contact.NotificationSettings = map[string]any{"mode": "Push only"}
	contacts := &fakeContactsRepo{contacts: []*models.EmergencyContact{contact}, uids: []string{"ec-1"}}
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(contacts, d)

	u := overdueUser("Call")
	u.MainCallPlaced = true
	miss := testNow.Add(-10 * time.Hour)
	ecNotified := testNow.Add(-11 * time.Minute)
	u.MissedStartedAt = &miss
	u.EcNotifyRounds = 50
	u.EcLastNotifiedAt = &ecNotified

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	assert.Equal(t, 51, res.Updates["ec_notify_rounds"])
	assert.Empty(t, d.calls)
}

func TestContactCall_OnlyOncePerCycle(t *testing.T) {
	contacts := &fakeContactsRepo{contacts: []*models.EmergencyContact{activeContact()}, uids: []string{"ec-1"}}
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(contacts, d)

	u := overdueUser("Call")
	u.MainCallPlaced = true
	miss := testNow.Add(-60 * time.Minute)
	ecNotified := testNow.Add(-5 * time.Minute)
	u.MissedStartedAt = &miss
	u.EcNotifyRounds = 3
	u.EcLastNotifiedAt = &ecNotified
	u.EcCallPlaced = true

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	assert.NotContains(t, res.Updates, "ec_call_placed")
	assert.Empty(t, d.calls)
}

func TestNoActiveContacts_TrackSkipped(t *testing.T) {
	contacts := &fakeContactsRepo{} // none
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(contacts, d)

	u := overdueUser("Push only")
	miss := testNow.Add(-2 * time.Hour)
	notified := testNow.Add(-1 * time.Minute)
	u.MissedStartedAt = &miss
	u.MainNotifyRounds = 3
	u.MainLastNotifiedAt = &notified

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	assert.Empty(t, res.Updates)
	assert.Empty(t, d.pushes)
	assert.Empty(t, d.calls)
}

func TestContactsLookupFailure_DoesNotFailUser(t *testing.T) {
	contacts := &fakeContactsRepo{contactsErr: errors.New("db down")}
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(contacts, d)

	u := overdueUser("Push only")

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	// Main track output survives the contact-track failure.
	assert.Equal(t, 1, res.Updates["main_notify_rounds"])
}

func TestMainPushBatchSizeForwarded(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)

	u := overdueUser("Push only")
	u.MainNotification["pushBatchSize"] = float64(4)

	_, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	require.Len(t, d.pushes, 1)
	assert.Equal(t, 4, d.pushes[0].count)
}

func TestDefaultCheckinInterval(t *testing.T) {
	d := &fakeDispatcher{callsEnabled: true}
	e := newTestEvaluator(&fakeContactsRepo{}, d)

	// No interval configured: 60 minutes assumed, 59 minutes since
	// check-in is not yet overdue.
	u := overdueUser("Push only")
	u.CheckinIntervalMin = 0
	last := testNow.Add(-59 * time.Minute)
	u.LastCheckinAt = &last

	res, err := e.EvaluateUser(context.Background(), testNow, u)

	require.NoError(t, err)
	assert.Nil(t, res)
}
