package relay

import (
	"errors"

	"github.com/beevik/etree"
	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/replay"
	"github.com/fxsml/passthru/soap"
)

// Relayer materializes messages on demand and coordinates early
// acknowledgment. It is safe for concurrent use; per-request state lives in
// the message context.
type Relayer struct {
	forceStreamingBuild bool
	replayCapacity      int
	builder             DocumentBuilder
	logger              message.Logger
	locator             Locator
}

// New creates a Relayer.
func New(cfg Config) *Relayer {
	cfg = cfg.parse()
	return &Relayer{
		forceStreamingBuild: cfg.ForceStreamingBuild,
		replayCapacity:      cfg.ReplayCapacity,
		builder:             cfg.Builder,
		logger:              cfg.Logger,
	}
}

// Locator returns the addressing handler locator shared by all requests.
// The first configuration it sees is the one it scans.
func (r *Relayer) Locator() *Locator {
	return &r.locator
}

// Relay builds the document of mc if it has not been built yet and, unless
// earlyBuild is set, runs acknowledgment coordination once.
//
// An already built message is not built again. If it was built by an early
// call, the next non-early call still runs coordination, so that call may
// acknowledge the back channel. Any call after that is a no-op.
//
// Errors are only returned for the attachment path: a missing data handler
// (*MissingContentError) or a failed build (*BuildError). Pipe path failures
// are logged and the message stays unparsed.
func (r *Relayer) Relay(mc *message.Context, earlyBuild bool) error {
	state := mc.Relay()
	if state.Built {
		if earlyBuild || state.Coordinated {
			return nil
		}
		return r.finish(mc)
	}

	if r.streams(mc) {
		r.relayPipe(mc, earlyBuild)
		return nil
	}
	return r.relayAttachment(mc, earlyBuild)
}

func (r *Relayer) relayPipe(mc *message.Context, earlyBuild bool) {
	rd, err := r.pipeSource(mc)
	if err != nil {
		if errors.Is(err, replay.ErrReplayExceeded) {
			r.logger.Warn("Cannot rebuild message, replay window exceeded",
				"message_id", mc.ID(),
				"capacity", r.replayCapacity)
			return
		}
		r.logger.Warn("Cannot open message pipe",
			"message_id", mc.ID(),
			"error", err)
		return
	}

	elem, formatters, err := r.builder.Build(mc, rd)
	if err != nil {
		r.logger.Warn("Deferred build failed, relaying message unparsed",
			"message_id", mc.ID(),
			"source", message.SourcePipe.String(),
			"error", err)
		return
	}
	if elem == nil {
		return
	}
	r.commit(mc, elem, formatters, message.SourcePipe)

	if !earlyBuild {
		r.finish(mc)
	}
}

func (r *Relayer) relayAttachment(mc *message.Context, earlyBuild bool) error {
	rd, ok, err := r.attachmentSource(mc)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	elem, formatters, err := r.builder.Build(mc, rd)
	if err != nil {
		return &BuildError{MessageID: mc.ID(), Source: message.SourceAttachment, Cause: err}
	}
	if elem == nil {
		return nil
	}
	r.commit(mc, elem, formatters, message.SourceAttachment)

	if earlyBuild {
		return nil
	}
	return r.finish(mc)
}

func (r *Relayer) commit(mc *message.Context, elem *etree.Element, formatters message.Formatters, src message.Source) {
	mc.Envelope = soap.NewEnvelope(elem)
	state := mc.Relay()
	state.Built = true
	state.Source = src
	state.Formatters = formatters

	r.logger.Debug("Built message",
		"message_id", mc.ID(),
		"source", src.String())
}

// finish runs coordination once. Errors are returned only for messages
// built from an attachment.
func (r *Relayer) finish(mc *message.Context) error {
	state := mc.Relay()
	state.Coordinated = true
	err := r.coordinate(mc)
	if err == nil || state.Source == message.SourceAttachment {
		return err
	}
	r.logger.Warn("Acknowledgment coordination failed",
		"message_id", mc.ID(),
		"error", err)
	return nil
}
