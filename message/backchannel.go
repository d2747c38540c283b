package message

import "github.com/fxsml/passthru/soap"

// BackChannel is the transport control object of a two-way transport.
// Acknowledge releases the inbound connection before the response exists.
// Implementations must treat repeated calls as no-ops and must be safe for
// concurrent use.
type BackChannel interface {
	Acknowledge(mc *Context) error
}

// Responder is implemented by back channels that can carry a response.
type Responder interface {
	// Respond sends resp on the back channel. It returns
	// ErrBackChannelSettled if the channel was already acknowledged,
	// answered or closed.
	Respond(mc *Context, resp *Response) error

	// Fail answers with a fault for err.
	Fail(mc *Context, err error) error
}

// Response is what a mediator sends back on the back channel.
// Envelope is formatted with the request's formatters when set; otherwise
// Body is sent as is.
type Response struct {
	Status      int
	ContentType string
	Envelope    *soap.Envelope
	Body        []byte
}
