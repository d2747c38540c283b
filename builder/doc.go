// Package builder materializes raw message bytes into documents.
//
// [Deferred] picks a media-type specific [Builder] from the message's content
// type and returns the element it produced together with the formatters that
// can write documents back out. Builders never see the transport: they get a
// reader and the message context, nothing else.
//
// Supported media types:
//
//	text/xml, application/soap+xml, application/xml  → XML as is
//	application/json                                 → <jsonObject> element tree
//	text/plain                                       → <text> wrapper
//	application/cloudevents+json, ce-* headers       → <event> element
//
// A message without a content type is treated as XML. A message with a
// content type no builder claims is left opaque: Build returns nil and no
// error, and the relay passes the bytes through untouched.
package builder
