package mediation

import (
	"context"
	"io"

	"github.com/fxsml/passthru/message"
)

// Echo answers every request with its own payload: the built document when
// there is one, the raw bytes otherwise.
func Echo() Mediator {
	return MediatorFunc(func(_ context.Context, mc *message.Context) error {
		responder, ok := mc.BackChannel.(message.Responder)
		if !ok {
			return nil
		}
		ct, _ := mc.Properties.ContentType()
		if mc.Relay().Built && mc.Envelope != nil {
			return responder.Respond(mc, &message.Response{ContentType: ct, Envelope: mc.Envelope})
		}

		var r io.Reader
		switch {
		case mc.Relay().Buffered != nil:
			if err := mc.Relay().Buffered.TryReset(); err != nil {
				return err
			}
			r = mc.Relay().Buffered
		case mc.Pipe != nil:
			pr, err := mc.Pipe.Reader()
			if err != nil {
				return err
			}
			r = pr
		}

		var body []byte
		if r != nil {
			var err error
			if body, err = io.ReadAll(r); err != nil {
				return err
			}
		}
		return responder.Respond(mc, &message.Response{ContentType: ct, Body: body})
	})
}
