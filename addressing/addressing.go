// Package addressing implements the WS-Addressing in-handler the relay looks
// up in the "Addressing" phase, and the matching reply annotation.
//
// The handler copies the addressing headers of a request into the message
// context: destination, action, message ID, the reply, fault and source
// endpoints. It also records whether responses should carry addressing
// headers; a request without any asks for a response without any.
package addressing

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/beevik/etree"
	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/soap"
)

// Addressing namespaces. The 2004/08 submission namespace is still common.
const (
	Namespace           = "http://www.w3.org/2005/08/addressing"
	SubmissionNamespace = "http://schemas.xmlsoap.org/ws/2004/08/addressing"
)

// Names under which the handler is registered.
const (
	PhaseName   = "Addressing"
	HandlerName = "AddressingInHandler"
)

// PropMessageID holds the wsa:MessageID of the request.
const PropMessageID = "ws_addressing_message_id"

// ErrMissingAction is returned for addressed requests without wsa:Action.
var ErrMissingAction = errors.New("addressing: missing Action header")

// HeaderError reports a malformed addressing header.
type HeaderError struct {
	Header string
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("addressing: %s header: %s", e.Header, e.Reason)
}

// Config configures an InHandler.
type Config struct {
	// Logger is used for debug output. Default: slog.Default().
	Logger message.Logger
}

func (c Config) parse() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// InHandler reads addressing headers into the message context.
// It holds no per-request state and is safe for concurrent use.
type InHandler struct {
	logger message.Logger
}

var _ message.Handler = (*InHandler)(nil)

// NewInHandler creates an InHandler.
func NewInHandler(cfg Config) *InHandler {
	cfg = cfg.parse()
	return &InHandler{logger: cfg.Logger}
}

// Name implements message.Handler.
func (h *InHandler) Name() string {
	return HandlerName
}

// Invoke implements message.Handler. It does nothing while
// disable_addressing_for_in_messages is true.
func (h *InHandler) Invoke(mc *message.Context) error {
	disabled, err := mc.Properties.Bool(message.PropDisableAddressingIn)
	switch {
	case err == nil && disabled:
		return nil
	case err != nil && !errors.Is(err, message.ErrPropertyNotFound):
		return err
	}

	var blocks []*etree.Element
	ns := Namespace
	if mc.Envelope != nil {
		blocks = mc.Envelope.HeaderBlocks(Namespace)
		if len(blocks) == 0 {
			ns = SubmissionNamespace
			blocks = mc.Envelope.HeaderBlocks(SubmissionNamespace)
		}
	}
	if len(blocks) == 0 {
		mc.SetProperty(message.PropDisableAddressingOut, true)
		return nil
	}

	h.logger.Debug("Processing addressing headers",
		"message_id", mc.ID(),
		"namespace", ns,
		"headers", len(blocks))

	headers, err := collect(blocks)
	if err != nil {
		return err
	}
	if headers.action == "" {
		return ErrMissingAction
	}

	if headers.to != "" {
		mc.To = headers.to
	}
	mc.SetProperty(message.PropAction, headers.action)
	if headers.messageID != "" {
		mc.SetProperty(PropMessageID, headers.messageID)
	}
	if headers.relatesTo != "" {
		mc.SetProperty(message.PropRelatesTo, headers.relatesTo)
	}
	mc.ReplyTo = headers.replyTo
	mc.FaultTo = headers.faultTo
	mc.From = headers.from

	if mc.Service != nil {
		if op, ok := mc.Service.OperationByAction(headers.action); ok {
			mc.Operation = op
		}
	}

	mc.SetProperty(message.PropDisableAddressingOut, false)
	return nil
}

type headers struct {
	to, action, messageID, relatesTo string
	replyTo, faultTo, from           *message.EndpointReference
}

func collect(blocks []*etree.Element) (*headers, error) {
	var hs headers
	seen := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		// RelatesTo may repeat with different relationship types.
		if b.Tag != "RelatesTo" && seen[b.Tag] {
			return nil, &HeaderError{Header: b.Tag, Reason: "duplicate"}
		}
		seen[b.Tag] = true

		switch b.Tag {
		case "To":
			hs.to = b.Text()
		case "Action":
			hs.action = b.Text()
		case "MessageID":
			hs.messageID = b.Text()
		case "RelatesTo":
			if hs.relatesTo == "" {
				hs.relatesTo = b.Text()
			}
		case "ReplyTo":
			epr, err := endpoint(b)
			if err != nil {
				return nil, err
			}
			hs.replyTo = epr
		case "FaultTo":
			epr, err := endpoint(b)
			if err != nil {
				return nil, err
			}
			hs.faultTo = epr
		case "From":
			epr, err := endpoint(b)
			if err != nil {
				return nil, err
			}
			hs.from = epr
		}
	}
	return &hs, nil
}

func endpoint(b *etree.Element) (*message.EndpointReference, error) {
	for _, c := range b.ChildElements() {
		if c.Tag == "Address" && c.NamespaceURI() == b.NamespaceURI() {
			return &message.EndpointReference{Address: c.Text()}, nil
		}
	}
	return nil, &HeaderError{Header: b.Tag, Reason: "missing Address"}
}

// AnnotateReply adds wsa:MessageID, wsa:RelatesTo and wsa:Action headers to
// a response envelope. It does nothing when
// disable_addressing_for_out_messages is set or the request was not
// addressed.
func AnnotateReply(mc *message.Context, reply *soap.Envelope) error {
	disabled, err := mc.Properties.Bool(message.PropDisableAddressingOut)
	switch {
	case errors.Is(err, message.ErrPropertyNotFound):
		return nil
	case err != nil:
		return err
	case disabled:
		return nil
	}

	action, err := mc.Properties.Action()
	if err != nil {
		return nil
	}

	header := reply.EnsureHeader()
	add := func(local, text string) {
		el := header.CreateElement("wsa:" + local)
		el.CreateAttr("xmlns:wsa", Namespace)
		el.SetText(text)
	}
	add("MessageID", "urn:uuid:"+message.DefaultIDGenerator())
	if id, err := mc.Properties.String(PropMessageID); err == nil {
		add("RelatesTo", id)
	}
	add("Action", action+"Response")
	return nil
}
