package rpc

import "sync"

// Arbiter is the process-wide AttachmentState singleton: at most one
// session may be attached to the RPC server at a time.
type Arbiter struct {
	mu       sync.Mutex
	attached string // empty means unattached
	onChange func(newID, previousID string)
}

// NewArbiter returns an initially-unattached Arbiter.
func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// OnChange registers the callback fired after every attachment mutation,
// used to broadcast AttachmentChanged.
func (a *Arbiter) OnChange(fn func(newID, previousID string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Attach atomically replaces any prior attachment with sessionID.
func (a *Arbiter) Attach(sessionID string) {
	a.mu.Lock()
	previous := a.attached
	a.attached = sessionID
	onChange := a.onChange
	a.mu.Unlock()

	if onChange != nil && previous != sessionID {
		onChange(sessionID, previous)
	}
}

// Detach clears the attachment if it is currently sessionID (or
// unconditionally when sessionID is empty).
func (a *Arbiter) Detach(sessionID string) {
	a.mu.Lock()
	previous := a.attached
	if sessionID != "" && previous != sessionID {
		a.mu.Unlock()
		return
	}
	if previous == "" {
		a.mu.Unlock()
		return
	}
	a.attached = ""
	onChange := a.onChange
	a.mu.Unlock()

	if onChange != nil {
		onChange("", previous)
	}
}

// Attached returns the currently-attached session id, or "" if none.
func (a *Arbiter) Attached() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached
}
