package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"lifesignal-escalation/internal/notify"
)

// CallEventSink 电话事件处理入口（由 service.EscalationService 实现）
type CallEventSink interface {
	AcknowledgeEscalation(ctx context.Context, mainUserUID string) error
	SpeakOnCall(ctx context.Context, callControlID string) error
}

// WebhookHandler receives Telnyx call events. Every request is answered
// 200 regardless of outcome: a non-2xx would make the provider retry
// and the events here are best-effort anyway.
type WebhookHandler struct {
	calls  CallEventSink
	logger *zap.Logger
}

func NewWebhookHandler(calls CallEventSink, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		calls:  calls,
		logger: logger,
	}
}

type telnyxEvent struct {
	EventType string `json:"event_type"`
	Payload   struct {
		CallControlID string `json:"call_control_id"`
		ClientState   string `json:"client_state"`
		Digit         string `json:"digit"`
	} `json:"payload"`
}

// decodeTelnyxEvent unwraps the event from any of the envelope shapes
// the provider and proxies deliver: data.record, data, or the bare body.
func decodeTelnyxEvent(body []byte) telnyxEvent {
	raw := body

	var outer struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &outer); err == nil && len(outer.Data) > 0 && string(outer.Data) != "null" {
		raw = outer.Data

		var inner struct {
			Record json.RawMessage `json:"record"`
		}
		if err := json.Unmarshal(outer.Data, &inner); err == nil && len(inner.Record) > 0 && string(inner.Record) != "null" {
			raw = inner.Record
		}
	}

	var ev telnyxEvent
	_ = json.Unmarshal(raw, &ev)
	return ev
}

// Telnyx handles call.answered (speak the alert script) and
// call.dtmf.received digit "1" (acknowledge the escalation).
func (h *WebhookHandler) Telnyx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Error("Failed to read webhook body",
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	ev := decodeTelnyxEvent(body)

	switch ev.EventType {
	case "call.answered":
		if ev.Payload.CallControlID == "" {
			break
		}
		if err := h.calls.SpeakOnCall(r.Context(), ev.Payload.CallControlID); err != nil {
			h.logger.Error("Failed to speak on answered call",
				zap.String("call_control_id", ev.Payload.CallControlID),
				zap.Error(err),
			)
		}

	case "call.dtmf.received":
		if ev.Payload.Digit != "1" {
			break
		}
		state, err := notify.DecodeClientState(ev.Payload.ClientState)
		if err != nil {
			h.logger.Warn("Webhook carried undecodable client_state",
				zap.Error(err),
			)
			break
		}
		if state.MainUserUID == "" {
			break
		}
		if err := h.calls.AcknowledgeEscalation(r.Context(), state.MainUserUID); err != nil {
			h.logger.Error("Failed to record escalation acknowledgement",
				zap.String("main_user_uid", state.MainUserUID),
				zap.Error(err),
			)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
