// Package message holds the per-request state a relay gateway passes between
// its transport, the relay core and the mediation pipeline.
//
// It sits between these packages of passthru:
//
//   - [replay]: bounded look-back over a raw byte stream
//   - [soap]: the envelope model documents are materialized into
//   - [relay]: deferred materialization and early transport acknowledgment
//
// # Context
//
// A [Context] is created by the transport for every inbound request and
// dropped when the response is complete. It carries a free-form [Properties]
// bag, the structured document once one exists, the raw [Pipe] the transport
// read the request from and the [BackChannel] that can release the inbound
// connection before the response is ready.
//
// State the relay must keep consistent, the "already built" marker and the
// replay buffer, lives in a typed side table ([RelayState]) instead of the
// property bag.
//
// # Properties
//
// Property accessors distinguish a missing key ([ErrPropertyNotFound]) from a
// value of the wrong type ([*PropertyTypeError]):
//
//	disabled, err := mc.Properties.Bool(message.PropDisableResponseAck)
//	switch {
//	case errors.Is(err, message.ErrPropertyNotFound):
//		// not set
//	case err != nil:
//		// set, but not a bool
//	}
//
// # Phases
//
// A [Configuration] lists the in-flow [Phase]s of the gateway in order; each
// phase lists named [Handler]s in order. Handlers are looked up by name, which
// is how the relay finds the optional addressing handler.
package message
