// Package discovery maps join codes to host peer identities.
package discovery

import (
	"context"
	"sync"
)

// Direct treats the join code as the host identity. Static entries let a code
// point at a concrete identity such as a websocket URL.
type Direct struct {
	mu     sync.RWMutex
	static map[string]string
}

// NewDirect creates a direct directory with optional static code -> identity entries.
func NewDirect(static map[string]string) *Direct {
	d := &Direct{static: make(map[string]string, len(static))}
	for code, id := range static {
		d.static[code] = id
	}
	return d
}

// HostIdentity asks hosts to use the code itself as their identity.
func (d *Direct) HostIdentity(code string) string {
	return code
}

// Register records the identity so local lookups resolve it.
func (d *Direct) Register(ctx context.Context, code, identity string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.static[code] = identity
	return nil
}

// Resolve returns the registered identity for code, or the code itself.
func (d *Direct) Resolve(ctx context.Context, code string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id, ok := d.static[code]; ok {
		return id, nil
	}
	return code, nil
}

func (d *Direct) Unregister(ctx context.Context, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.static, code)
	return nil
}
