package relay

import (
	"sync"
	"sync/atomic"

	"github.com/fxsml/passthru/addressing"
	"github.com/fxsml/passthru/message"
)

// PhaseSource supplies the ordered in-flow phases to scan.
// *message.Configuration implements it.
type PhaseSource interface {
	InFlowPhases() []*message.Phase
}

// State is the resolution state of a Locator.
type State int

const (
	// Unresolved means no scan has run yet.
	Unresolved State = iota
	// Found means the addressing handler was found and is cached.
	Found
	// Absent means the handler is not configured. This is permanent.
	Absent
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Found:
		return "found"
	case Absent:
		return "absent"
	default:
		return "unresolved"
	}
}

type resolution struct {
	handler message.Handler
}

// Locator finds the addressing in-handler in the configured phases once and
// caches the outcome, found or absent, for its lifetime. Resolved lookups are
// a single atomic load.
type Locator struct {
	mu    sync.Mutex
	res   atomic.Pointer[resolution]
	scans atomic.Int64
}

// Resolve returns the addressing handler, scanning src on the first call.
// Concurrent first callers wait for a single scan and all see its result.
func (l *Locator) Resolve(src PhaseSource) (message.Handler, bool) {
	if r := l.res.Load(); r != nil {
		return r.handler, r.handler != nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.res.Load(); r != nil {
		return r.handler, r.handler != nil
	}

	l.scans.Add(1)
	r := &resolution{handler: scan(src)}
	l.res.Store(r)
	return r.handler, r.handler != nil
}

// State reports the resolution state without triggering a scan.
func (l *Locator) State() State {
	r := l.res.Load()
	switch {
	case r == nil:
		return Unresolved
	case r.handler == nil:
		return Absent
	default:
		return Found
	}
}

// Scans returns how many phase scans have run; at most one.
func (l *Locator) Scans() int64 {
	return l.scans.Load()
}

// scan looks in the first phase named addressing.PhaseName only.
func scan(src PhaseSource) message.Handler {
	for _, p := range src.InFlowPhases() {
		if p == nil || p.Name != addressing.PhaseName {
			continue
		}
		if h, ok := p.Handler(addressing.HandlerName); ok {
			return h
		}
		return nil
	}
	return nil
}
