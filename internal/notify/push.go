package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PushNotification 推送标题与正文
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PushSender 推送能力（外部协作方，按令牌投递）
type PushSender interface {
	Send(ctx context.Context, tokens []string, notification PushNotification, data map[string]string) error
}

// FCMClient FCM HTTP 推送客户端
type FCMClient struct {
	httpClient *resty.Client
	endpoint   string
	logger     *zap.Logger
}

// NewFCMClient 创建 FCM 客户端
func NewFCMClient(endpoint, serverKey string, logger *zap.Logger) *FCMClient {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "key="+serverKey)

	return &FCMClient{
		httpClient: client,
		endpoint:   endpoint,
		logger:     logger,
	}
}

var _ PushSender = (*FCMClient)(nil)

type fcmMulticastRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    PushNotification  `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmMulticastResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Send 向一组令牌发送一条推送
func (c *FCMClient) Send(ctx context.Context, tokens []string, notification PushNotification, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}

	var response fcmMulticastResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(fcmMulticastRequest{
			RegistrationIDs: tokens,
			Notification:    notification,
			Data:            data,
		}).
		SetResult(&response).
		Post(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to call FCM API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("FCM API error: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("Push sent",
		zap.Int("success_count", response.Success),
		zap.Int("failure_count", response.Failure),
	)

	return nil
}
