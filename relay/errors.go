package relay

import (
	"fmt"

	"github.com/fxsml/passthru/message"
)

// BuildError reports that a document could not be built from its source.
type BuildError struct {
	MessageID string
	Source    message.Source
	Cause     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("relay: build message %s from %s: %v", e.MessageID, e.Source, e.Cause)
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// MissingContentError reports a binary content marker without data behind
// it. The message cannot be relayed.
type MissingContentError struct {
	MessageID string
}

func (e *MissingContentError) Error() string {
	return fmt.Sprintf("relay: message %s declares binary content without data", e.MessageID)
}
