package httpapi

import (
	"context"
	"sync"
)

// CallRegistry tracks webhook deliveries in flight and supports graceful
// draining. While draining, new calls are turned away but turns of calls that
// are already connected still run.
type CallRegistry struct {
	mu       sync.Mutex
	draining bool
	count    int64
	idle     []chan struct{}
}

// NewCallRegistry creates a new CallRegistry.
func NewCallRegistry() *CallRegistry {
	return &CallRegistry{}
}

// Admit registers a delivery that would start a new call. Returns false if
// the registry is draining, meaning the call should be refused.
func (cr *CallRegistry) Admit() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.draining {
		return false
	}
	cr.count++
	return true
}

// Enter registers a delivery for a call that is already connected. It
// succeeds even while draining.
func (cr *CallRegistry) Enter() {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.count++
}

// Done marks a delivery as finished. Must be called exactly once per
// successful Admit or Enter.
func (cr *CallRegistry) Done() {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.count == 0 {
		panic("httpapi: CallRegistry.Done without Admit or Enter")
	}
	cr.count--
	if cr.count == 0 {
		for _, ch := range cr.idle {
			close(ch)
		}
		cr.idle = nil
	}
}

// StartDraining makes future Admit calls return false. No Admit can slip
// through after StartDraining returns.
func (cr *CallRegistry) StartDraining() {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (cr *CallRegistry) IsDraining() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.draining
}

// ActiveCount returns the number of deliveries in flight.
func (cr *CallRegistry) ActiveCount() int64 {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.count
}

// Wait blocks until no delivery is in flight or ctx is done.
func (cr *CallRegistry) Wait(ctx context.Context) error {
	cr.mu.Lock()
	if cr.count == 0 {
		cr.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	cr.idle = append(cr.idle, ch)
	cr.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
