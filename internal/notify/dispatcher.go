package notify

import (
	"context"

	"go.uber.org/zap"

	"lifesignal-escalation/internal/repository"
)

// Dispatcher 通知分发器
// Two result policies on purpose: pushes are fire-and-forget (failures
// are logged and swallowed, the step counts as completed once
// attempted), calls must confirm provider accept (errors propagate).
type Dispatcher struct {
	devices repository.DevicesRepository
	cache   *TokenCache // optional
	push    PushSender
	telnyx  *TelnyxClient
	logger  *zap.Logger
}

// NewDispatcher 创建通知分发器
func NewDispatcher(
	devices repository.DevicesRepository,
	cache *TokenCache,
	push PushSender,
	telnyx *TelnyxClient,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		devices: devices,
		cache:   cache,
		push:    push,
		telnyx:  telnyx,
		logger:  logger,
	}
}

// SendPushBatch 向一组用户的所有设备发送 count 条推送
// One provider call per round, matching the round-based escalation
// cadence. No-op when zero tokens resolve.
func (d *Dispatcher) SendPushBatch(
	ctx context.Context,
	targets []string,
	notification PushNotification,
	data map[string]string,
	count int,
) {
	tokens := d.resolveTokens(ctx, targets)
	if len(tokens) == 0 {
		d.logger.Warn("No push tokens resolved, skipping push batch",
			zap.Strings("targets", targets),
		)
		return
	}

	for i := 0; i < count; i++ {
		if err := d.push.Send(ctx, tokens, notification, data); err != nil {
			d.logger.Error("Failed to send push",
				zap.Strings("targets", targets),
				zap.Int("round_index", i),
				zap.Error(err),
			)
			// best-effort: keep sending the rest of the batch
		}
	}
}

// PlaceCall 发起外呼（错误向上传播）
func (d *Dispatcher) PlaceCall(ctx context.Context, toPhone string, state ClientState) error {
	return d.telnyx.CreateCall(ctx, toPhone, state)
}

// CallsEnabled 是否具备外呼条件
func (d *Dispatcher) CallsEnabled() bool {
	return d.telnyx.CallsEnabled()
}

// resolveTokens 解析目标用户的推送令牌（缓存优先，去重）
// Lookup failures degrade to an empty set for that user.
func (d *Dispatcher) resolveTokens(ctx context.Context, targets []string) []string {
	seen := make(map[string]bool)
	var all []string

	for _, userID := range targets {
		tokens, ok := d.cachedTokens(ctx, userID)
		if !ok {
			var err error
			tokens, err = d.devices.TokensForUser(ctx, userID)
			if err != nil {
				d.logger.Error("Failed to resolve device tokens",
					zap.String("user_id", userID),
					zap.Error(err),
				)
				continue
			}
			if d.cache != nil {
				if err := d.cache.Set(ctx, userID, tokens); err != nil {
					d.logger.Warn("Failed to cache device tokens",
						zap.String("user_id", userID),
						zap.Error(err),
					)
				}
			}
		}

		for _, token := range tokens {
			if token == "" || seen[token] {
				continue
			}
			seen[token] = true
			all = append(all, token)
		}
	}

	return all
}

func (d *Dispatcher) cachedTokens(ctx context.Context, userID string) ([]string, bool) {
	if d.cache == nil {
		return nil, false
	}
	return d.cache.Get(ctx, userID)
}
