package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromNames builds a chain from registered filter names.
// Names are applied in sorted order so the chain is deterministic.
func NewChainFromNames(names []string) (*Chain, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	c := NewChain()
	for _, name := range sorted {
		factory, ok := registry[name]
		if !ok {
			return nil, errors.Newf("unknown filter: %s", name)
		}
		c.Add(factory())
	}
	return c, nil
}

// DefaultNames returns every registered filter name.
func DefaultNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the envelope.
func (c *Chain) Execute(ctx context.Context, in Inbound) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, in)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
