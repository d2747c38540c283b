package soap

// Standard SOAP 1.1 fault codes.
const (
	FaultClient = "soapenv:Client"
	FaultServer = "soapenv:Server"
)

// NewFault returns a SOAP 1.1 envelope carrying a single Fault.
func NewFault(code, reason string) *Envelope {
	env := NewEmptyEnvelope()
	fault := env.Body().CreateElement(envelopePrefix + ":Fault")
	fault.CreateElement("faultcode").SetText(code)
	fault.CreateElement("faultstring").SetText(reason)
	return env
}

// Fault returns the code and reason of a SOAP 1.1 fault body, if any.
func (e *Envelope) Fault() (code, reason string, ok bool) {
	f := child(e.Body(), e.Namespace(), "Fault")
	if f == nil {
		return "", "", false
	}
	if c := f.SelectElement("faultcode"); c != nil {
		code = c.Text()
	}
	if r := f.SelectElement("faultstring"); r != nil {
		reason = r.Text()
	}
	return code, reason, true
}
