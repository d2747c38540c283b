package builder

import (
	"io"

	"github.com/beevik/etree"
	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/soap"
)

// XML parses the stream as an XML document and returns its root element.
type XML struct{}

// Build implements Builder.
func (XML) Build(_ *message.Context, r io.Reader) (*etree.Element, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, err
	}
	return doc.Root(), nil
}

// Text wraps the whole stream in a single text element.
type Text struct{}

// TextLocalName is the element plain text is wrapped in.
const TextLocalName = "text"

// Build implements Builder.
func (Text) Build(_ *message.Context, r io.Reader) (*etree.Element, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	el := etree.NewElement(TextLocalName)
	el.CreateAttr("xmlns", soap.BinaryNamespace)
	el.SetText(string(data))
	return el, nil
}
