// Package relay decides, per request, whether the raw bytes of a message are
// materialized into a document, and when the inbound connection may be
// released before the response exists.
//
// The mediation pipeline calls [Relayer.Relay] before it inspects content.
// Relay resolves a byte source for the message, either the transport pipe
// (wrapped in a bounded replay buffer so a failed attempt can be retried) or
// binary content carried by the envelope the transport produced. It builds a
// document from that source and, unless the build is an early one, runs the
// addressing handler and acknowledges the back channel for one-way
// exchanges.
//
// Failures on the pipe path are logged and the message continues unparsed.
// Failures on the attachment path are returned, since the message cannot be
// relayed without its declared content.
package relay
