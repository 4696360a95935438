package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lifesignal-escalation/internal/config"
)

func newTestTelnyxClient(t *testing.T, handler http.HandlerFunc) (*TelnyxClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.TelnyxConfig{
		APIBase:      server.URL,
		APIKey:       "key-123",
		ConnectionID: "conn-456",
		FromNumber:   "+15550009999",
	}
	return NewTelnyxClient(cfg, zap.NewNop()), server
}

func TestCreateCall_Success(t *testing.T) {
	var got createCallRequest
	var gotAuth string

	client, _ := newTestTelnyxClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calls", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":{"call_control_id":"cc-1"}}`))
	})

	state := ClientState{MainUserUID: "u1", Reason: ReasonMainUserMissedCheckin}
	err := client.CreateCall(context.Background(), "+15550001111", state)

	require.NoError(t, err)
	assert.Equal(t, "Bearer key-123", gotAuth)
	assert.Equal(t, "conn-456", got.ConnectionID)
	assert.Equal(t, "+15550001111", got.To)
	assert.Equal(t, "+15550009999", got.From)

	decoded, err := DecodeClientState(got.ClientState)
	require.NoError(t, err)
	assert.Equal(t, "u1", decoded.MainUserUID)
	assert.Equal(t, ReasonMainUserMissedCheckin, decoded.Reason)
}

func TestCreateCall_ProviderErrorPropagates(t *testing.T) {
	client, _ := newTestTelnyxClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"title":"invalid destination"}]}`))
	})

	err := client.CreateCall(context.Background(), "+15550001111", ClientState{MainUserUID: "u1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestSpeak_Success(t *testing.T) {
	var gotPath string
	var got speakRequest

	client, _ := newTestTelnyxClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":{}}`))
	})

	err := client.Speak(context.Background(), "cc-1")

	require.NoError(t, err)
	assert.Equal(t, "/calls/cc-1/actions/speak", gotPath)
	assert.Equal(t, "en-US", got.Language)
	assert.Equal(t, "female", got.Voice)
	assert.Equal(t, AlertScript, got.Payload)
}

func TestCallsEnabled(t *testing.T) {
	full := NewTelnyxClient(config.TelnyxConfig{
		APIKey: "k", ConnectionID: "c", FromNumber: "+15550009999",
	}, zap.NewNop())
	assert.True(t, full.Configured())
	assert.True(t, full.CallsEnabled())

	noConn := NewTelnyxClient(config.TelnyxConfig{APIKey: "k"}, zap.NewNop())
	assert.True(t, noConn.Configured())
	assert.False(t, noConn.CallsEnabled())

	noKey := NewTelnyxClient(config.TelnyxConfig{ConnectionID: "c", FromNumber: "+1"}, zap.NewNop())
	assert.False(t, noKey.Configured())
}
