package mediation

import (
	"context"

	"github.com/fxsml/passthru/message"
)

// Mediator processes one message context.
type Mediator interface {
	Mediate(ctx context.Context, mc *message.Context) error
}

// MediatorFunc adapts a function to Mediator.
type MediatorFunc func(ctx context.Context, mc *message.Context) error

// Mediate implements Mediator.
func (f MediatorFunc) Mediate(ctx context.Context, mc *message.Context) error {
	return f(ctx, mc)
}

// Middleware wraps a Mediator with additional behavior.
type Middleware func(next Mediator) Mediator

// Chain wraps m with mw. The first middleware is the outermost.
func Chain(m Mediator, mw ...Middleware) Mediator {
	for i := len(mw) - 1; i >= 0; i-- {
		m = mw[i](m)
	}
	return m
}
