package relay

import (
	"io"

	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/replay"
	"github.com/fxsml/passthru/soap"
)

// streams reports whether mc is built from its pipe.
func (r *Relayer) streams(mc *message.Context) bool {
	return mc.Pipe != nil && r.forceStreamingBuild && !mc.Relay().Built
}

// pipeSource returns the replay buffer over the pipe. A buffer left by an
// earlier attempt is rewound instead of opening the pipe again.
func (r *Relayer) pipeSource(mc *message.Context) (io.Reader, error) {
	state := mc.Relay()
	if state.Buffered != nil {
		if err := state.Buffered.TryReset(); err != nil {
			return nil, err
		}
		return state.Buffered, nil
	}

	pr, err := mc.Pipe.Reader()
	if err != nil {
		return nil, err
	}
	state.Buffered = replay.New(pr, r.replayCapacity)
	return state.Buffered, nil
}

// attachmentSource returns the binary content carried by the envelope,
// behind the same replay buffer the pipe path uses, so content no builder
// consumed can still be relayed as is. ok is false when the envelope carries
// none.
func (r *Relayer) attachmentSource(mc *message.Context) (io.Reader, bool, error) {
	if mc.Envelope == nil {
		return nil, false, nil
	}
	if first := mc.Envelope.FirstBodyChild(); first == nil ||
		first.Tag != soap.BinaryLocalName || first.NamespaceURI() != soap.BinaryNamespace {
		return nil, false, nil
	}

	state := mc.Relay()
	if state.Buffered != nil {
		if err := state.Buffered.TryReset(); err != nil {
			return nil, true, &BuildError{MessageID: mc.ID(), Source: message.SourceAttachment, Cause: err}
		}
		return state.Buffered, true, nil
	}

	_, dh, _ := mc.Envelope.BinaryContent()
	if dh == nil {
		return nil, true, &MissingContentError{MessageID: mc.ID()}
	}
	if lu, ok := dh.(soap.LastUseSetter); ok {
		lu.SetLastUse(true)
	}
	rd, err := dh.Reader()
	if err != nil {
		return nil, true, &BuildError{MessageID: mc.ID(), Source: message.SourceAttachment, Cause: err}
	}
	state.Buffered = replay.New(rd, r.replayCapacity)
	return state.Buffered, true, nil
}
