package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/jamtab/internal/protocol"
)

func envelope(t protocol.EventType, sender string) *protocol.Envelope {
	return &protocol.Envelope{Type: t, SenderID: sender, Payload: []byte(`{}`)}
}

func TestUnknownTypeFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		envelope     *protocol.Envelope
		wantAccepted bool
	}{
		{name: "known type", envelope: envelope(protocol.TabStarted, "p"), wantAccepted: true},
		{name: "unknown type", envelope: envelope("CHAT", "p"), wantAccepted: false},
		{name: "nil envelope", envelope: nil, wantAccepted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &UnknownTypeFilter{}
			result := f.Check(context.Background(), Inbound{Envelope: tt.envelope})
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, "unknown_type", result.Code)
			}
		})
	}
}

func TestSelfEchoFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		sender       string
		localID      string
		wantAccepted bool
	}{
		{name: "remote sender", sender: "remote", localID: "local", wantAccepted: true},
		{name: "own envelope", sender: "local", localID: "local", wantAccepted: false},
		{name: "no local identity", sender: "", localID: "", wantAccepted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &SelfEchoFilter{}
			result := f.Check(context.Background(), Inbound{
				Envelope: envelope(protocol.MemberUpdated, tt.sender),
				LocalID:  tt.localID,
			})
			assert.Equal(t, tt.wantAccepted, result.Accepted)
		})
	}
}

func TestSessionScopeFilter_Check(t *testing.T) {
	f := &SessionScopeFilter{}
	env := envelope(protocol.SessionStateSync, "host")

	assert.True(t, f.Check(context.Background(), Inbound{Envelope: env, InSession: true}).Accepted)

	result := f.Check(context.Background(), Inbound{Envelope: env, InSession: false})
	assert.False(t, result.Accepted)
	assert.Equal(t, "no_session", result.Code)
}

func TestChain_StopsAtFirstReject(t *testing.T) {
	calls := 0
	c := NewChain()
	c.Add(&countingFilter{calls: &calls, result: Reject("first")})
	c.Add(&countingFilter{calls: &calls, result: Accept()})

	result := c.Execute(context.Background(), Inbound{})
	assert.False(t, result.Accepted)
	assert.Equal(t, "first", result.Code)
	assert.Equal(t, 1, calls)
}

func TestNewChainFromNames(t *testing.T) {
	c, err := NewChainFromNames(DefaultNames())
	require.NoError(t, err)
	require.Len(t, c.Filters(), 3)

	result := c.Execute(context.Background(), Inbound{
		Envelope:  envelope(protocol.QueueTabAdded, "remote"),
		LocalID:   "local",
		InSession: true,
	})
	assert.True(t, result.Accepted)

	_, err = NewChainFromNames([]string{"no_such_filter"})
	assert.Error(t, err)
}

func TestRegisteredFilters_Metadata(t *testing.T) {
	for name, factory := range GetRegistered() {
		f := factory()
		assert.Equal(t, name, f.Name())
		assert.NotEmpty(t, f.Description())
		assert.NotEmpty(t, f.ReturnCodes())
	}
}

type countingFilter struct {
	calls  *int
	result Result
}

func (f *countingFilter) Name() string          { return "counting" }
func (f *countingFilter) Description() string   { return "counts calls" }
func (f *countingFilter) ReturnCodes() []string { return []string{"first"} }
func (f *countingFilter) Check(ctx context.Context, in Inbound) Result {
	*f.calls++
	return f.result
}
