package filter

import "context"

// SessionScopeFilter drops envelopes that arrive while no session is current,
// e.g. late messages after the local peer left.
type SessionScopeFilter struct{}

func (f *SessionScopeFilter) Name() string {
	return "session_scope_filter"
}

func (f *SessionScopeFilter) Description() string {
	return "Drops envelopes received while not in a session"
}

func (f *SessionScopeFilter) ReturnCodes() []string {
	return []string{"no_session"}
}

func (f *SessionScopeFilter) Check(ctx context.Context, in Inbound) Result {
	if !in.InSession {
		return Reject("no_session")
	}
	return Accept()
}

func init() {
	Register("session_scope_filter", func() Filter {
		return &SessionScopeFilter{}
	})
}
