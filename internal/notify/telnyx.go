package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"lifesignal-escalation/internal/config"
)

// AlertScript spoken on every answered escalation call.
const AlertScript = "This is an automated Life Signal alert. Please check on the user and press 1 to acknowledge."

// TelnyxClient 电话服务商 API 客户端
type TelnyxClient struct {
	httpClient   *resty.Client
	apiKey       string
	connectionID string
	fromNumber   string
	logger       *zap.Logger
}

// NewTelnyxClient 创建 Telnyx 客户端
func NewTelnyxClient(cfg config.TelnyxConfig, logger *zap.Logger) *TelnyxClient {
	client := resty.New().
		SetBaseURL(cfg.APIBase).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.APIKey)

	return &TelnyxClient{
		httpClient:   client,
		apiKey:       cfg.APIKey,
		connectionID: cfg.ConnectionID,
		fromNumber:   cfg.FromNumber,
		logger:       logger,
	}
}

// Configured reports whether the API key is present (hard precondition
// for the scan job).
func (c *TelnyxClient) Configured() bool {
	return c.apiKey != ""
}

// CallsEnabled reports whether call placement is possible; without a
// connection id or caller-id number only the push branches run.
func (c *TelnyxClient) CallsEnabled() bool {
	return c.connectionID != "" && c.fromNumber != ""
}

type createCallRequest struct {
	ConnectionID string `json:"connection_id"`
	To           string `json:"to"`
	From         string `json:"from"`
	ClientState  string `json:"client_state"`
}

// CreateCall 发起外呼
// Unlike push, a call is not best-effort: any transport error or non-2xx
// response propagates so callers never mark the call as placed.
func (c *TelnyxClient) CreateCall(ctx context.Context, toPhone string, state ClientState) error {
	body := createCallRequest{
		ConnectionID: c.connectionID,
		To:           toPhone,
		From:         c.fromNumber,
		ClientState:  state.Encode(),
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post("/calls")
	if err != nil {
		return fmt.Errorf("failed to call Telnyx create-call API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Telnyx create-call API error: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("Telnyx call queued",
		zap.String("to", toPhone),
		zap.String("reason", state.Reason),
	)

	return nil
}

type speakRequest struct {
	Language string `json:"language"`
	Voice    string `json:"voice"`
	Payload  string `json:"payload"`
}

// Speak 在已接通的呼叫上播报固定话术
func (c *TelnyxClient) Speak(ctx context.Context, callControlID string) error {
	body := speakRequest{
		Language: "en-US",
		Voice:    "female",
		Payload:  AlertScript,
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/calls/%s/actions/speak", callControlID))
	if err != nil {
		return fmt.Errorf("failed to call Telnyx speak API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Telnyx speak API error: status %d: %s", resp.StatusCode(), resp.String())
	}

	return nil
}
