package message

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Properties is a map of per-message properties.
type Properties map[string]any

// Reserved property keys.
const (
	// PropID is the unique message identifier.
	PropID = "message_id"

	// PropContentType is the content type the transport received.
	PropContentType = "content_type"

	// PropTransportHeaders holds the inbound transport headers as http.Header.
	PropTransportHeaders = "transport_headers"

	// PropDisableAddressingIn switches inbound addressing processing off.
	PropDisableAddressingIn = "disable_addressing_for_in_messages"

	// PropDisableAddressingOut switches addressing headers on responses off.
	PropDisableAddressingOut = "disable_addressing_for_out_messages"

	// PropDisableResponseAck keeps the back channel open even when the
	// exchange pattern would allow an early acknowledgment. Looked up on the
	// message first, then in the service parameters.
	PropDisableResponseAck = "disable_response_ack"

	// PropAction is the requested action (SOAPAction or wsa:Action).
	PropAction = "ws_addressing_action"

	// PropRelatesTo is the message ID this message replies to.
	PropRelatesTo = "ws_addressing_relates_to"
)

// ErrPropertyNotFound is returned by typed accessors for missing keys.
var ErrPropertyNotFound = errors.New("message: property not found")

// PropertyTypeError is returned by typed accessors when the stored value
// cannot be read as the requested type.
type PropertyTypeError struct {
	Key   string
	Want  string
	Value any
}

func (e *PropertyTypeError) Error() string {
	return fmt.Sprintf("message: property %q is %T, want %s", e.Key, e.Value, e.Want)
}

// String retrieves a string property by key.
func (p Properties) String(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", ErrPropertyNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", &PropertyTypeError{Key: key, Want: "string", Value: v}
	}
	return s, nil
}

// Bool retrieves a boolean property by key. Strings accepted by
// strconv.ParseBool are converted, since flags are often set from text
// configuration.
func (p Properties) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return false, ErrPropertyNotFound
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, &PropertyTypeError{Key: key, Want: "bool", Value: v}
		}
		return parsed, nil
	default:
		return false, &PropertyTypeError{Key: key, Want: "bool", Value: v}
	}
}

// Header retrieves an http.Header property by key. Plain string maps are
// converted.
func (p Properties) Header(key string) (http.Header, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, ErrPropertyNotFound
	}
	switch h := v.(type) {
	case http.Header:
		return h, nil
	case map[string][]string:
		return http.Header(h), nil
	case map[string]string:
		out := make(http.Header, len(h))
		for k, val := range h {
			out.Set(k, val)
		}
		return out, nil
	default:
		return nil, &PropertyTypeError{Key: key, Want: "http.Header", Value: v}
	}
}

// Has reports whether key is set to a non-nil value.
func (p Properties) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// ID returns the message ID.
func (p Properties) ID() (string, error) {
	return p.String(PropID)
}

// ContentType returns the inbound content type.
func (p Properties) ContentType() (string, error) {
	return p.String(PropContentType)
}

// TransportHeaders returns the inbound transport headers.
func (p Properties) TransportHeaders() (http.Header, error) {
	return p.Header(PropTransportHeaders)
}

// Action returns the requested action.
func (p Properties) Action() (string, error) {
	return p.String(PropAction)
}
