package message

// Well-known addressing URIs.
const (
	AnonymousURI           = "http://www.w3.org/2005/08/addressing/anonymous"
	NoneURI                = "http://www.w3.org/2005/08/addressing/none"
	SubmissionAnonymousURI = "http://schemas.xmlsoap.org/ws/2004/08/addressing/role/anonymous"
)

// EndpointReference is an addressing endpoint.
type EndpointReference struct {
	Address string
}

// IsAnonymous reports whether the endpoint means "use the back channel".
func (e *EndpointReference) IsAnonymous() bool {
	switch e.Address {
	case "", AnonymousURI, SubmissionAnonymousURI:
		return true
	}
	return false
}

// IsNone reports whether the endpoint discards messages.
func (e *EndpointReference) IsNone() bool {
	return e.Address == NoneURI
}
