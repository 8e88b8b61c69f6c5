// Package transporttest provides a scripted in-memory Transport for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/transport"
)

// Call is one recorded service call.
type Call struct {
	Service string
	Args    map[string]any
}

// HandlerFunc answers one service call.
type HandlerFunc func(args map[string]any) (*transport.Result, error)

// Fake answers calls from per-service handlers and records every call.
// Services without a handler fail with a transport error.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []Call
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{handlers: make(map[string]HandlerFunc)}
}

// Handle registers the handler for a service.
func (f *Fake) Handle(service string, fn HandlerFunc) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[service] = fn
	return f
}

// Reply registers a fixed successful response for a service.
func (f *Fake) Reply(service string, values map[string]any) *Fake {
	return f.Handle(service, func(map[string]any) (*transport.Result, error) {
		return OK(values), nil
	})
}

// Fail registers a fixed remote failure for a service.
func (f *Fake) Fail(service string, code int) *Fake {
	return f.Handle(service, func(map[string]any) (*transport.Result, error) {
		return &transport.Result{Code: code, Values: map[string]any{"error": "rejected"}}, nil
	})
}

// Call implements transport.Transport.
func (f *Fake) Call(_ context.Context, service string, args map[string]any) (*transport.Result, error) {
	f.mu.Lock()
	copied := make(map[string]any, len(args))
	for k, v := range args {
		copied[k] = v
	}
	f.calls = append(f.calls, Call{Service: service, Args: copied})
	fn := f.handlers[service]
	f.mu.Unlock()

	if fn == nil {
		return nil, &domain.TransportFailure{Service: service, Err: fmt.Errorf("no handler registered")}
	}
	return fn(copied)
}

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many times a service was called.
func (f *Fake) Count(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Service == service {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls, keeping handlers.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// OK builds a successful result.
func OK(values map[string]any) *transport.Result {
	res := &transport.Result{Code: transport.CodeOK, Values: make(map[string]any, len(values))}
	for k, v := range values {
		res.Values[k] = v
	}
	return res
}

var _ transport.Transport = (*Fake)(nil)
