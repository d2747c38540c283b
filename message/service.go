package message

import "strings"

// MEP is a message exchange pattern.
type MEP string

// Exchange patterns. The WSDL 2.0 URIs are accepted as aliases.
const (
	MEPInOnly       MEP = "in-only"
	MEPRobustInOnly MEP = "robust-in-only"
	MEPInOut        MEP = "in-out"

	MEPURIInOnly       MEP = "http://www.w3.org/ns/wsdl/in-only"
	MEPURIRobustInOnly MEP = "http://www.w3.org/ns/wsdl/robust-in-only"
	MEPURIInOut        MEP = "http://www.w3.org/ns/wsdl/in-out"
)

// OneWay reports whether m is strictly in-only.
func (m MEP) OneWay() bool {
	return m == MEPInOnly || m == MEPURIInOnly
}

// InOut reports whether m is request/response.
func (m MEP) InOut() bool {
	return m == MEPInOut || m == MEPURIInOut
}

// Valid reports whether m is a known pattern.
func (m MEP) Valid() bool {
	switch m {
	case MEPInOnly, MEPRobustInOnly, MEPInOut, MEPURIInOnly, MEPURIRobustInOnly, MEPURIInOut:
		return true
	}
	return false
}

// Operation is a named operation of a service.
type Operation struct {
	Name   string
	Action string
	MEP    MEP
}

// Service describes a relayed service.
type Service struct {
	Name string

	// Parameters are service-level overrides, e.g. PropDisableResponseAck.
	Parameters Properties

	// Operations in declaration order. The first one is the default.
	Operations []*Operation
}

// DefaultOperation returns the first declared operation, or nil.
func (s *Service) DefaultOperation() *Operation {
	if len(s.Operations) == 0 {
		return nil
	}
	return s.Operations[0]
}

// OperationByAction returns the operation declared for action.
// Surrounding quotes, as sent in SOAPAction headers, are ignored.
func (s *Service) OperationByAction(action string) (*Operation, bool) {
	action = strings.Trim(action, `"`)
	if action == "" {
		return nil, false
	}
	for _, op := range s.Operations {
		if op.Action == action {
			return op, true
		}
	}
	return nil, false
}
