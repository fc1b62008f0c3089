package queues

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRequest_JSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want JoinRequest
	}{
		{"remote target", `{"ticketId":"t1","target":"1.2.3.4","playerId":"p1"}`, JoinRequest{TicketID: "t1", Target: "1.2.3.4", PlayerID: "p1"}},
		{"local join", `{"ticketId":"t2"}`, JoinRequest{TicketID: "t2"}},
		{"quickplay", `{"ticketId":"t3","target":"*"}`, JoinRequest{TicketID: "t3", Target: "*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got JoinRequest
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttemptResult_OmitsEmpty(t *testing.T) {
	b, err := json.Marshal(AttemptResult{
		EnvelopeVersion: EnvelopeVersion,
		Type:            AttemptResultType,
		TicketID:        "t1",
		Attempt:         2,
		Status:          StatusFailed,
		Reason:          "NoSession",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"envelopeVersion":"1.0","type":"join-attempt-result","ticketId":"t1","attempt":2,"status":"Failed","reason":"NoSession","durationMs":0}`, string(b))
}
