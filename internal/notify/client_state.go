package notify

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Call reasons carried in client_state and echoed back on webhooks.
const (
	ReasonMainUserMissedCheckin = "main_user_missed_checkin"
	ReasonEscalation            = "escalation"
)

// ClientState 呼叫关联负载
// Embedded at call placement, echoed back base64-encoded on every
// provider webhook for that call leg.
type ClientState struct {
	MainUserUID         string  `json:"mainUserUid"`
	EmergencyContactUID *string `json:"emergencyContactUid"`
	Reason              string  `json:"reason"`
}

// Encode base64(JSON) 编码
func (s ClientState) Encode() string {
	data, _ := json.Marshal(s)
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeClientState 解码 webhook 带回的 client_state
func DecodeClientState(raw string) (*ClientState, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode client_state base64: %w", err)
	}

	var state ClientState
	if err := json.Unmarshal(decoded, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client_state: %w", err)
	}

	return &state, nil
}
