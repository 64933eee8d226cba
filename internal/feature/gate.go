// Package feature provides runtime switches that guard costly side effects,
// such as the actual transport send, without changing the calling code.
package feature

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SendEmail guards the transport call inside every queued email job.
const SendEmail = "send_email"

// ErrDisabled is returned by Use when the guarded action was suppressed.
var ErrDisabled = errors.New("feature disabled")

// Gate holds global feature switches plus per-identity overrides.
// Features that were never configured are enabled.
type Gate struct {
	mu     sync.RWMutex
	flags  map[string]bool
	denied map[string]map[string]struct{}
}

// NewGate creates a gate seeded with the given feature states.
func NewGate(defaults map[string]bool) *Gate {
	g := &Gate{
		flags:  make(map[string]bool, len(defaults)),
		denied: make(map[string]map[string]struct{}),
	}
	for name, on := range defaults {
		g.flags[name] = on
	}
	return g
}

// Set switches a feature on or off for every identity.
func (g *Gate) Set(name string, enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flags[name] = enabled
}

// Disable switches a feature off for a single identity.
func (g *Gate) Disable(name, identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids, ok := g.denied[name]
	if !ok {
		ids = make(map[string]struct{})
		g.denied[name] = ids
	}
	ids[identity] = struct{}{}
}

// Enable removes a per-identity override. It does not turn on a globally
// disabled feature.
func (g *Gate) Enable(name, identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids, ok := g.denied[name]
	if !ok {
		return
	}
	delete(ids, identity)
	if len(ids) == 0 {
		delete(g.denied, name)
	}
}

// Enabled reports whether name is on for identity. An empty identity only
// consults the global switch.
func (g *Gate) Enabled(name, identity string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if on, ok := g.flags[name]; ok && !on {
		return false
	}
	if identity == "" {
		return true
	}
	_, denied := g.denied[name][identity]
	return !denied
}

// Use runs fn when the feature is enabled for identity and returns its
// error. When the feature is off fn is not called and ErrDisabled is returned.
func (g *Gate) Use(ctx context.Context, name, identity string, fn func(context.Context) error) error {
	if g != nil && !g.Enabled(name, identity) {
		return fmt.Errorf("%s: %w", name, ErrDisabled)
	}
	return fn(ctx)
}
