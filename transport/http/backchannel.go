package http

import (
	"sync"

	"github.com/fxsml/passthru/message"
)

// backChannel holds an inbound request open until it is acknowledged,
// answered or failed. The first outcome wins.
type backChannel struct {
	mu     sync.Mutex
	acking *message.Acking
	resp   *message.Response
}

var (
	_ message.BackChannel = (*backChannel)(nil)
	_ message.Responder   = (*backChannel)(nil)
)

func newBackChannel() *backChannel {
	return &backChannel{acking: message.NewAcking(func() {}, func(error) {})}
}

// Acknowledge releases the request with 202 Accepted. Acknowledging an
// acknowledged or answered channel is a no-op.
func (b *backChannel) Acknowledge(*message.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.acking.Ack() {
		return message.ErrBackChannelSettled
	}
	return nil
}

// Respond answers the request with resp.
func (b *backChannel) Respond(_ *message.Context, resp *message.Response) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acking.Settled() {
		return message.ErrBackChannelSettled
	}
	b.resp = resp
	b.acking.Ack()
	return nil
}

// Fail answers the request with a fault for err.
func (b *backChannel) Fail(_ *message.Context, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acking.Settled() {
		return message.ErrBackChannelSettled
	}
	if err == nil {
		err = errUnknownFailure
	}
	b.acking.Nack(err)
	return nil
}

// abandon settles a pending channel so late responses are refused.
func (b *backChannel) abandon(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.acking.Settled() {
		b.acking.Nack(err)
	}
}

func (b *backChannel) done() <-chan struct{} {
	return b.acking.Done()
}

// outcome returns the response (nil for a plain acknowledgment) or the
// failure.
func (b *backChannel) outcome() (*message.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resp, b.acking.Err()
}
