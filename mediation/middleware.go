package mediation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/relay"
)

// RecoveryError wraps a panic value with the stack trace.
type RecoveryError struct {
	// PanicValue is the original value that was passed to panic().
	PanicValue any
	// StackTrace contains the full stack trace at the point of panic.
	StackTrace string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.PanicValue)
}

// Recover converts panics in the wrapped mediator into a *RecoveryError.
func Recover() Middleware {
	return func(next Mediator) Mediator {
		return MediatorFunc(func(ctx context.Context, mc *message.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &RecoveryError{
						PanicValue: r,
						StackTrace: string(debug.Stack()),
					}
				}
			}()
			return next.Mediate(ctx, mc)
		})
	}
}

// ErrMediationTimeout is returned when a mediator outlives its deadline.
var ErrMediationTimeout = errors.New("mediation: timeout")

// Timeout bounds each mediation by d. A non-positive d disables it.
func Timeout(d time.Duration) Middleware {
	return func(next Mediator) Mediator {
		if d <= 0 {
			return next
		}
		return MediatorFunc(func(ctx context.Context, mc *message.Context) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			err := next.Mediate(ctx, mc)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", ErrMediationTimeout, err)
			}
			return err
		})
	}
}

// Log logs the outcome and duration of every mediation.
func Log(logger message.Logger) Middleware {
	return func(next Mediator) Mediator {
		return MediatorFunc(func(ctx context.Context, mc *message.Context) error {
			start := time.Now()
			err := next.Mediate(ctx, mc)
			args := []any{
				"message_id", mc.ID(),
				"to", mc.To,
				"duration", time.Since(start),
			}
			switch {
			case err == nil:
				logger.Debug("Mediation succeeded", args...)
			case errors.Is(err, context.Canceled):
				logger.Warn("Mediation canceled", append(args, "error", err)...)
			default:
				logger.Error("Mediation failed", append(args, "error", err)...)
			}
			return err
		})
	}
}

// InFlow runs the in-flow phases of the message configuration before the
// wrapped mediator.
func InFlow() Middleware {
	return func(next Mediator) Mediator {
		return MediatorFunc(func(ctx context.Context, mc *message.Context) error {
			if err := mc.Config.Invoke(mc); err != nil {
				return err
			}
			return next.Mediate(ctx, mc)
		})
	}
}

// Relay materializes the message before the wrapped mediator runs. With
// earlyBuild set acknowledgment is left to a later Relay call.
func Relay(r *relay.Relayer, earlyBuild bool) Middleware {
	return func(next Mediator) Mediator {
		return MediatorFunc(func(ctx context.Context, mc *message.Context) error {
			if err := r.Relay(mc, earlyBuild); err != nil {
				return err
			}
			return next.Mediate(ctx, mc)
		})
	}
}
