package message

import (
	"errors"

	"github.com/fxsml/passthru/replay"
	"github.com/fxsml/passthru/soap"
)

// Source identifies which byte stream a document was built from.
type Source int

const (
	// SourceNone means no document has been built.
	SourceNone Source = iota
	// SourcePipe means the document was built from the transport pipe.
	SourcePipe
	// SourceAttachment means the document was built from binary content
	// carried by the envelope.
	SourceAttachment
)

// String implements fmt.Stringer.
func (s Source) String() string {
	switch s {
	case SourcePipe:
		return "pipe"
	case SourceAttachment:
		return "attachment"
	default:
		return "none"
	}
}

// RelayState is the relay's per-request side table.
type RelayState struct {
	// Built is set once a document was materialized from the raw stream.
	// A built message is never read from its stream again.
	Built bool

	// Source records where the built document came from.
	Source Source

	// Coordinated is set once acknowledgment coordination has run.
	Coordinated bool

	// Buffered is the replay buffer over the pipe, kept across attempts so a
	// failed build can be retried without reading the network again.
	Buffered *replay.Reader

	// Formatters can write the built document back out.
	Formatters Formatters
}

// Context is the per-request state shared by transport, relay and mediation.
// A Context is handled by one goroutine at a time; only its BackChannel may
// be touched concurrently.
type Context struct {
	// Properties is the free-form property bag.
	Properties Properties

	// To is the destination address.
	To string

	// Envelope is the structured document, nil until one exists.
	Envelope *soap.Envelope

	// Service is the service the request was dispatched to, if any.
	Service *Service

	// Operation is the operation the request was dispatched to, if any.
	Operation *Operation

	// Config is the process-wide phase configuration.
	Config *Configuration

	// Pipe is the raw request stream, if the transport provides one.
	Pipe Pipe

	// BackChannel controls the inbound connection, if the transport has one.
	BackChannel BackChannel

	// Addressing endpoints, set by the addressing handler.
	From    *EndpointReference
	ReplyTo *EndpointReference
	FaultTo *EndpointReference

	relay RelayState
}

// NewContext creates a context with a fresh message ID.
func NewContext(cfg *Configuration) *Context {
	return &Context{
		Properties: Properties{PropID: DefaultIDGenerator()},
		Config:     cfg,
	}
}

// ID returns the message ID, or "" if none is set.
func (c *Context) ID() string {
	id, _ := c.Properties.ID()
	return id
}

// SetProperty sets key to v, allocating the property bag of a zero Context.
func (c *Context) SetProperty(key string, v any) {
	if c.Properties == nil {
		c.Properties = Properties{}
	}
	c.Properties[key] = v
}

// Relay returns the relay side table.
func (c *Context) Relay() *RelayState {
	return &c.relay
}

// DisableResponseAck resolves the effective "disable acknowledgment" flag:
// the message property wins, then the service parameter, then false.
// A value of the wrong type at either level is returned as an error.
func (c *Context) DisableResponseAck() (bool, error) {
	v, err := c.Properties.Bool(PropDisableResponseAck)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrPropertyNotFound) {
		return false, err
	}
	if c.Service == nil {
		return false, nil
	}
	v, err = c.Service.Parameters.Bool(PropDisableResponseAck)
	if errors.Is(err, ErrPropertyNotFound) {
		return false, nil
	}
	return v, err
}

// IsReplyRedirected reports whether replies go somewhere other than the
// back channel.
func (c *Context) IsReplyRedirected() bool {
	return c.ReplyTo != nil && !c.ReplyTo.IsAnonymous()
}

// IsFaultRedirected reports whether faults go somewhere other than the back
// channel.
func (c *Context) IsFaultRedirected() bool {
	return c.FaultTo != nil && !c.FaultTo.IsAnonymous()
}
