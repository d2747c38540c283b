package message

import "sync"

// Acking settles exactly once, either with Ack or with Nack.
// The first call wins and runs its callback; every later call is a no-op
// that reports whether the earlier outcome matches. Acking is safe for
// concurrent use and is how transports make their back channels idempotent.
type Acking struct {
	mu      sync.Mutex
	ackFn   func()
	nackFn  func(error)
	settled bool
	nackErr error
	doneCh  chan struct{}
}

// NewAcking creates an Acking. Returns nil if either callback is nil.
//
// The callbacks must not panic. If they do, the panic propagates after the
// done channel is closed.
func NewAcking(ack func(), nack func(error)) *Acking {
	if ack == nil || nack == nil {
		return nil
	}
	return &Acking{
		ackFn:  ack,
		nackFn: nack,
		doneCh: make(chan struct{}),
	}
}

// Ack settles successfully. Returns true if this or an earlier call acked.
func (a *Acking) Ack() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	if a.settled {
		wasAcked := a.nackErr == nil
		a.mu.Unlock()
		return wasAcked
	}
	ackFn := a.ackFn
	done := a.doneCh
	a.settled = true
	a.mu.Unlock()

	defer close(done)
	ackFn()
	return true
}

// Nack settles with err. Returns true if this or an earlier call nacked.
func (a *Acking) Nack(err error) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	if a.settled {
		wasNacked := a.nackErr != nil
		a.mu.Unlock()
		return wasNacked
	}
	nackFn := a.nackFn
	done := a.doneCh
	a.settled = true
	a.nackErr = err
	a.mu.Unlock()

	defer close(done)
	nackFn(err)
	return true
}

// Settled reports whether Ack or Nack has been called.
func (a *Acking) Settled() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settled
}

// Err returns the nack error, or nil if pending or acked.
func (a *Acking) Err() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nackErr
}

// Done is closed once the Acking is settled.
func (a *Acking) Done() <-chan struct{} {
	if a == nil {
		return nil
	}
	return a.doneCh
}
