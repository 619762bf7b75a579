package backend

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNotConfigured is wrapped by factory errors that no retry can fix, such
// as a missing credential for a tier.
var ErrNotConfigured = errors.New("backend not configured")

var errClosed = errors.New("clients closed")

// Factory constructs the backend for a tier.
type Factory func(Tier) (Backend, error)

// Clients holds one lazily constructed backend per tier. A tier's backend
// is created on first successful use and kept for the life of the Clients
// value. A failed construction is not cached; the next Get tries again.
type Clients struct {
	factory Factory
	handles [2]handle
}

type handle struct {
	mu     sync.Mutex
	b      Backend
	closed bool
}

// NewClients returns Clients that construct backends with f.
func NewClients(f Factory) *Clients {
	return &Clients{factory: f}
}

// Static returns Clients serving fixed backends. privileged may be nil, in
// which case privileged calls fail with ErrNotConfigured.
func Static(standard, privileged Backend) *Clients {
	return NewClients(func(t Tier) (Backend, error) {
		switch t {
		case TierStandard:
			return standard, nil
		case TierPrivileged:
			return privileged, nil
		}
		return nil, fmt.Errorf("unknown tier %s", t)
	})
}

// Get returns the backend for the tier, constructing it if no earlier call
// succeeded.
func (c *Clients) Get(t Tier) (Backend, error) {
	if t != TierStandard && t != TierPrivileged {
		return nil, fmt.Errorf("unknown tier %s", t)
	}
	h := &c.handles[t]
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errClosed
	}
	if h.b != nil {
		return h.b, nil
	}
	b, err := c.factory(t)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: no %s backend", ErrNotConfigured, t)
	}
	h.b = b
	return b, nil
}

// Close closes every constructed backend that implements io.Closer. Later
// calls to Get fail.
func (c *Clients) Close() error {
	var errs []error
	seen := map[Backend]bool{}
	for i := range c.handles {
		h := &c.handles[i]
		h.mu.Lock()
		b := h.b
		h.b, h.closed = nil, true
		h.mu.Unlock()
		if b == nil || seen[b] {
			continue
		}
		seen[b] = true
		if cl, ok := b.(io.Closer); ok {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}
