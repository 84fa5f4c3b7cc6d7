package filter

import "context"

// UnknownTypeFilter drops envelopes whose type is not part of the protocol.
type UnknownTypeFilter struct{}

func (f *UnknownTypeFilter) Name() string {
	return "unknown_type_filter"
}

func (f *UnknownTypeFilter) Description() string {
	return "Drops envelopes with a type outside the session protocol"
}

func (f *UnknownTypeFilter) ReturnCodes() []string {
	return []string{"unknown_type"}
}

func (f *UnknownTypeFilter) Check(ctx context.Context, in Inbound) Result {
	if in.Envelope == nil || !in.Envelope.Type.Known() {
		return Reject("unknown_type")
	}
	return Accept()
}

func init() {
	Register("unknown_type_filter", func() Filter {
		return &UnknownTypeFilter{}
	})
}
