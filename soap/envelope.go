// Package soap is the small envelope model the relay materializes messages
// into. It sits on top of an etree document and only knows what the relay
// needs: where the header and body are, how to wrap a bare payload, and how a
// transport marks an unparsed body as binary content.
package soap

import (
	"io"

	"github.com/beevik/etree"
)

// SOAP envelope namespaces.
const (
	Namespace11 = "http://schemas.xmlsoap.org/soap/envelope/"
	Namespace12 = "http://www.w3.org/2003/05/soap-envelope"
)

const envelopePrefix = "soapenv"

// Envelope is a SOAP envelope backed by an etree document.
// An Envelope is owned by a single message context and is not safe for
// concurrent mutation.
type Envelope struct {
	doc    *etree.Document
	binary map[*etree.Element]DataHandler
}

// NewEnvelope adopts elem as the envelope when it already is a SOAP 1.1 or
// 1.2 Envelope element, and otherwise wraps it as the only body child of a new
// SOAP 1.1 envelope.
func NewEnvelope(elem *etree.Element) *Envelope {
	if elem != nil && IsEnvelope(elem) {
		doc := etree.NewDocument()
		doc.SetRoot(elem)
		return &Envelope{doc: doc}
	}
	env := NewEmptyEnvelope()
	if elem != nil {
		if p := elem.Parent(); p != nil {
			p.RemoveChild(elem)
		}
		env.Body().AddChild(elem)
	}
	return env
}

// NewEmptyEnvelope returns a SOAP 1.1 envelope with an empty header and body.
func NewEmptyEnvelope() *Envelope {
	doc := etree.NewDocument()
	root := doc.CreateElement(envelopePrefix + ":Envelope")
	root.CreateAttr("xmlns:"+envelopePrefix, Namespace11)
	root.CreateElement(envelopePrefix + ":Header")
	root.CreateElement(envelopePrefix + ":Body")
	return &Envelope{doc: doc}
}

// IsEnvelope reports whether elem is a SOAP 1.1 or 1.2 Envelope element.
func IsEnvelope(elem *etree.Element) bool {
	if elem.Tag != "Envelope" {
		return false
	}
	ns := elem.NamespaceURI()
	return ns == Namespace11 || ns == Namespace12
}

// Root returns the Envelope element.
func (e *Envelope) Root() *etree.Element {
	return e.doc.Root()
}

// Namespace returns the SOAP namespace the envelope was written in.
func (e *Envelope) Namespace() string {
	return e.Root().NamespaceURI()
}

// Header returns the Header element, or nil if the envelope has none.
func (e *Envelope) Header() *etree.Element {
	return child(e.Root(), e.Namespace(), "Header")
}

// EnsureHeader returns the Header element, creating it in front of the body
// when the envelope has none.
func (e *Envelope) EnsureHeader() *etree.Element {
	if h := e.Header(); h != nil {
		return h
	}
	root := e.Root()
	tag := "Header"
	if root.Space != "" {
		tag = root.Space + ":Header"
	}
	h := etree.NewElement(tag)
	if body := e.Body(); body != nil {
		root.InsertChildAt(body.Index(), h)
	} else {
		root.AddChild(h)
	}
	return h
}

// Body returns the Body element, or nil for a malformed envelope.
func (e *Envelope) Body() *etree.Element {
	return child(e.Root(), e.Namespace(), "Body")
}

// FirstBodyChild returns the payload element, or nil for an empty body.
func (e *Envelope) FirstBodyChild() *etree.Element {
	body := e.Body()
	if body == nil {
		return nil
	}
	children := body.ChildElements()
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

// HeaderBlocks returns all header blocks in namespace ns, in document order.
func (e *Envelope) HeaderBlocks(ns string) []*etree.Element {
	header := e.Header()
	if header == nil {
		return nil
	}
	var blocks []*etree.Element
	for _, c := range header.ChildElements() {
		if c.NamespaceURI() == ns {
			blocks = append(blocks, c)
		}
	}
	return blocks
}

// WriteTo serializes the whole envelope.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	return e.doc.WriteTo(w)
}

// String serializes the whole envelope. Errors yield an empty string.
func (e *Envelope) String() string {
	s, err := e.doc.WriteToString()
	if err != nil {
		return ""
	}
	return s
}

// child returns the first child of parent named {ns}local.
func child(parent *etree.Element, ns, local string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, c := range parent.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == ns {
			return c
		}
	}
	return nil
}
