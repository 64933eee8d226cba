// Package intent carries the per-request decision that a response should also
// be emailed, from the handler that renders the body to the capture middleware.
package intent

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoSlot is returned by Record when the request was not wrapped by the
	// capture middleware.
	ErrNoSlot = errors.New("no intent slot in context")

	// ErrAlreadyRecorded is returned when a second intent is recorded for the
	// same request.
	ErrAlreadyRecorded = errors.New("intent already recorded for this request")
)

// Intent describes an email to derive from the current response.
type Intent struct {
	ID      string
	From    string
	To      []string
	Cc      []string
	Subject string
	IsHTML  bool

	// Theme only affects rendering.
	Theme string

	Attachments map[string][]byte

	// CanSend is false in design/preview mode.
	CanSend bool
}

// Slot holds at most one Intent for a single request.
type Slot struct {
	mu     sync.Mutex
	intent Intent
	set    bool
}

type slotKey struct{}

// WithSlot returns a child context carrying a fresh, empty slot.
func WithSlot(ctx context.Context) (context.Context, *Slot) {
	s := &Slot{}
	return context.WithValue(ctx, slotKey{}, s), s
}

// SlotFrom returns the slot attached to ctx, if any.
func SlotFrom(ctx context.Context) (*Slot, bool) {
	s, ok := ctx.Value(slotKey{}).(*Slot)
	return s, ok && s != nil
}

// Record stores in into the request's slot.
func Record(ctx context.Context, in Intent) error {
	s, ok := SlotFrom(ctx)
	if !ok {
		return ErrNoSlot
	}
	return s.store(in)
}

func (s *Slot) store(in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set {
		return ErrAlreadyRecorded
	}
	s.intent = in
	s.set = true
	return nil
}

// Load returns the recorded intent. The boolean is false when the request
// produced no intent, which is not an error.
func (s *Slot) Load() (Intent, bool) {
	if s == nil {
		return Intent{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intent, s.set
}
