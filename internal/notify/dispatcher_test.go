package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lifesignal-escalation/internal/config"
)

type fakeDevicesRepo struct {
	tokens map[string][]string
	err    error
	calls  int
}

func (f *fakeDevicesRepo) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tokens[userID], nil
}

type fakePushSender struct {
	sends  []fakePushSend
	err    error
}

type fakePushSend struct {
	tokens []string
	notif  PushNotification
	data   map[string]string
}

func (f *fakePushSender) Send(ctx context.Context, tokens []string, notification PushNotification, data map[string]string) error {
	f.sends = append(f.sends, fakePushSend{tokens: tokens, notif: notification, data: data})
	return f.err
}

func newTestDispatcher(t *testing.T, devices *fakeDevicesRepo, push *fakePushSender) *Dispatcher {
	mr := miniredis.RunT(t)
	cache := NewTokenCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute, zap.NewNop())
	telnyx := NewTelnyxClient(config.TelnyxConfig{
		APIKey: "k", ConnectionID: "c", FromNumber: "+15550009999",
	}, zap.NewNop())

	return NewDispatcher(devices, cache, push, telnyx, zap.NewNop())
}

func TestSendPushBatch_SendsCountRounds(t *testing.T) {
	devices := &fakeDevicesRepo{tokens: map[string][]string{"u1": {"tok-a"}}}
	push := &fakePushSender{}
	d := newTestDispatcher(t, devices, push)

	notif := PushNotification{Title: "Life Signal: missed check-in", Body: "b"}
	d.SendPushBatch(context.Background(), []string{"u1"}, notif, map[string]string{"type": "missed_checkin_main_user"}, 3)

	require.Len(t, push.sends, 3)
	assert.Equal(t, []string{"tok-a"}, push.sends[0].tokens)
	assert.Equal(t, notif, push.sends[0].notif)
}

func TestSendPushBatch_DedupesAcrossTargets(t *testing.T) {
	devices := &fakeDevicesRepo{tokens: map[string][]string{
		"u1": {"tok-a", "tok-shared"},
		"u2": {"tok-b", "tok-shared"},
	}}
	push := &fakePushSender{}
	d := newTestDispatcher(t, devices, push)

	d.SendPushBatch(context.Background(), []string{"u1", "u2"}, PushNotification{}, nil, 1)

	require.Len(t, push.sends, 1)
	assert.ElementsMatch(t, []string{"tok-a", "tok-b", "tok-shared"}, push.sends[0].tokens)
}

func TestSendPushBatch_NoTokensIsNoop(t *testing.T) {
	devices := &fakeDevicesRepo{tokens: map[string][]string{}}
	push := &fakePushSender{}
	d := newTestDispatcher(t, devices, push)

	d.SendPushBatch(context.Background(), []string{"u1"}, PushNotification{}, nil, 2)

	assert.Empty(t, push.sends)
}

func TestSendPushBatch_SendFailuresAreSwallowed(t *testing.T) {
	devices := &fakeDevicesRepo{tokens: map[string][]string{"u1": {"tok-a"}}}
	push := &fakePushSender{err: errors.New("fcm down")}
	d := newTestDispatcher(t, devices, push)

	// Must not panic or abort; all rounds still attempted.
	d.SendPushBatch(context.Background(), []string{"u1"}, PushNotification{}, nil, 2)

	assert.Len(t, push.sends, 2)
}

func TestSendPushBatch_TokenLookupFailureSkipsUser(t *testing.T) {
	devices := &fakeDevicesRepo{err: errors.New("db down")}
	push := &fakePushSender{}
	d := newTestDispatcher(t, devices, push)

	d.SendPushBatch(context.Background(), []string{"u1"}, PushNotification{}, nil, 1)

	assert.Empty(t, push.sends)
}

func TestSendPushBatch_UsesTokenCacheOnSecondResolve(t *testing.T) {
	devices := &fakeDevicesRepo{tokens: map[string][]string{"u1": {"tok-a"}}}
	push := &fakePushSender{}
	d := newTestDispatcher(t, devices, push)

	ctx := context.Background()
	d.SendPushBatch(ctx, []string{"u1"}, PushNotification{}, nil, 1)
	d.SendPushBatch(ctx, []string{"u1"}, PushNotification{}, nil, 1)

	assert.Equal(t, 1, devices.calls)
	assert.Len(t, push.sends, 2)
}
