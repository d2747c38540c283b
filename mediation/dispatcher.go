package mediation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fxsml/passthru/message"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("mediation: already started")

	// ErrShutdownDropped is the failure reported for messages still queued
	// when a forced shutdown happens.
	ErrShutdownDropped = errors.New("mediation: dropped on shutdown")
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Concurrency sets the number of workers (default: 1).
	Concurrency int

	// ShutdownTimeout controls shutdown on context cancellation.
	// If <= 0, workers stop immediately and queued messages are failed.
	// If > 0, workers keep going until the input closes or the timeout
	// passes, whichever comes first.
	ShutdownTimeout time.Duration

	// Logger for structured logging (default: slog.Default()).
	Logger message.Logger
}

func (c DispatcherConfig) parse() DispatcherConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Dispatcher feeds message contexts to a Mediator from a pool of workers
// and settles their back channels.
type Dispatcher struct {
	mediator Mediator
	cfg      DispatcherConfig

	mu      sync.Mutex
	started bool
}

// NewDispatcher creates a Dispatcher for m.
func NewDispatcher(m Mediator, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		mediator: m,
		cfg:      cfg.parse(),
	}
}

// Start consumes in until it is closed or a forced shutdown happens. The
// returned channel is closed when all workers have exited.
func (d *Dispatcher) Start(ctx context.Context, in <-chan *message.Context) (<-chan struct{}, error) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	d.started = true
	d.mu.Unlock()

	finished := make(chan struct{})
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(d.cfg.Concurrency)
	for range d.cfg.Concurrency {
		go func() {
			defer wg.Done()
			for {
				// Forced shutdown takes priority over queued input.
				select {
				case <-done:
					d.drain(in)
					return
				default:
				}
				select {
				case <-done:
					d.drain(in)
					return
				case mc, ok := <-in:
					if !ok {
						return
					}
					d.dispatch(ctx, mc)
				}
			}
		}()
	}

	wgDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgDone)
	}()

	go func() {
		select {
		case <-ctx.Done():
			if d.cfg.ShutdownTimeout > 0 {
				select {
				case <-wgDone:
				case <-time.After(d.cfg.ShutdownTimeout):
					close(done)
				}
			} else {
				close(done)
			}
		case <-wgDone:
		}
		<-wgDone
		close(finished)
	}()

	return finished, nil
}

// dispatch runs the mediator and settles the back channel.
func (d *Dispatcher) dispatch(ctx context.Context, mc *message.Context) {
	err := d.mediator.Mediate(ctx, mc)
	if err != nil {
		d.fail(mc, err)
		return
	}
	if mc.BackChannel == nil {
		return
	}
	if err := mc.BackChannel.Acknowledge(mc); err != nil && !errors.Is(err, message.ErrBackChannelSettled) {
		d.cfg.Logger.Warn("Cannot settle back channel",
			"message_id", mc.ID(),
			"error", err)
	}
}

func (d *Dispatcher) fail(mc *message.Context, err error) {
	responder, ok := mc.BackChannel.(message.Responder)
	if !ok {
		d.cfg.Logger.Error("Mediation failed",
			"message_id", mc.ID(),
			"error", err)
		return
	}
	if ferr := responder.Fail(mc, err); ferr != nil && !errors.Is(ferr, message.ErrBackChannelSettled) {
		d.cfg.Logger.Warn("Cannot report failure on back channel",
			"message_id", mc.ID(),
			"error", ferr)
	}
}

// drain fails whatever is still buffered without blocking on an open input.
func (d *Dispatcher) drain(in <-chan *message.Context) {
	for {
		select {
		case mc, ok := <-in:
			if !ok {
				return
			}
			d.fail(mc, ErrShutdownDropped)
		default:
			return
		}
	}
}
