package filter

import "context"

// SelfEchoFilter drops envelopes that claim to come from the local peer.
type SelfEchoFilter struct{}

func (f *SelfEchoFilter) Name() string {
	return "self_echo_filter"
}

func (f *SelfEchoFilter) Description() string {
	return "Drops envelopes sent by the local peer itself"
}

func (f *SelfEchoFilter) ReturnCodes() []string {
	return []string{"self_echo"}
}

func (f *SelfEchoFilter) Check(ctx context.Context, in Inbound) Result {
	if in.LocalID != "" && in.Envelope != nil && in.Envelope.SenderID == in.LocalID {
		return Reject("self_echo")
	}
	return Accept()
}

func init() {
	Register("self_echo_filter", func() Filter {
		return &SelfEchoFilter{}
	})
}
