package builder

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/beevik/etree"
	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/soap"
)

var errEmptyBody = errors.New("builder: envelope body is empty")

// DefaultFormatters returns a fresh registry with the built-in formatters.
func DefaultFormatters() message.Formatters {
	return message.Formatters{
		ContentTypeTextXML:     XMLFormatter{contentType: ContentTypeTextXML},
		ContentTypeSOAP12:      XMLFormatter{contentType: ContentTypeSOAP12},
		ContentTypeXML:         XMLFormatter{contentType: ContentTypeXML, payloadOnly: true},
		ContentTypeJSON:        JSONFormatter{},
		ContentTypeText:        TextFormatter{},
		ContentTypeCloudEvents: CloudEventsFormatter{},
	}
}

// XMLFormatter writes the envelope, or only its payload for plain XML.
type XMLFormatter struct {
	contentType string
	payloadOnly bool
}

// ContentType implements message.Formatter.
func (f XMLFormatter) ContentType() string {
	return f.contentType
}

// Format implements message.Formatter.
func (f XMLFormatter) Format(w io.Writer, env *soap.Envelope) error {
	if !f.payloadOnly {
		_, err := env.WriteTo(w)
		return err
	}
	payload := env.FirstBodyChild()
	if payload == nil {
		return errEmptyBody
	}
	doc := etree.NewDocument()
	doc.SetRoot(payload.Copy())
	_, err := doc.WriteTo(w)
	return err
}

// JSONFormatter writes the payload element tree as JSON, the inverse of the
// JSON builder. Repeated sibling names become arrays.
type JSONFormatter struct{}

// ContentType implements message.Formatter.
func (JSONFormatter) ContentType() string {
	return ContentTypeJSON
}

// Format implements message.Formatter.
func (JSONFormatter) Format(w io.Writer, env *soap.Envelope) error {
	payload := env.FirstBodyChild()
	if payload == nil {
		return errEmptyBody
	}
	var buf bytes.Buffer
	if err := writeJSONValue(&buf, payload); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// TextFormatter writes the text content of the payload element.
type TextFormatter struct{}

// ContentType implements message.Formatter.
func (TextFormatter) ContentType() string {
	return ContentTypeText
}

// Format implements message.Formatter.
func (TextFormatter) Format(w io.Writer, env *soap.Envelope) error {
	payload := env.FirstBodyChild()
	if payload == nil {
		return errEmptyBody
	}
	_, err := io.WriteString(w, payload.Text())
	return err
}

// CloudEventsFormatter writes an event element as a structured-mode
// CloudEvent.
type CloudEventsFormatter struct{}

// ContentType implements message.Formatter.
func (CloudEventsFormatter) ContentType() string {
	return ContentTypeCloudEvents
}

// Format implements message.Formatter.
func (CloudEventsFormatter) Format(w io.Writer, env *soap.Envelope) error {
	ev, err := EventFromElement(env.FirstBodyChild())
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// writeJSONValue writes el as a JSON value.
func writeJSONValue(buf *bytes.Buffer, el *etree.Element) error {
	if el.SelectAttrValue("nil", "") == "true" {
		buf.WriteString("null")
		return nil
	}

	children := el.ChildElements()
	if len(children) == 0 {
		return writeScalar(buf, el.Text())
	}

	if el.Tag == JSONArrayName {
		return writeJSONArray(buf, children)
	}

	// Group children by name, keeping first-seen order.
	var names []string
	groups := make(map[string][]*etree.Element)
	for _, c := range children {
		if _, ok := groups[c.Tag]; !ok {
			names = append(names, c.Tag)
		}
		groups[c.Tag] = append(groups[c.Tag], c)
	}

	if len(names) == 1 && names[0] == JSONElementName {
		return writeJSONArray(buf, children)
	}

	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		group := groups[name]
		var err error
		if len(group) > 1 {
			err = writeJSONArray(buf, group)
		} else {
			err = writeJSONValue(buf, group[0])
		}
		if err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeJSONArray(buf *bytes.Buffer, items []*etree.Element) error {
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONValue(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// writeScalar writes numbers and booleans bare and everything else as a
// string.
func writeScalar(buf *bytes.Buffer, text string) error {
	switch text {
	case "true", "false":
		buf.WriteString(text)
		return nil
	}
	var n json.Number
	if text != "" && json.Unmarshal([]byte(text), &n) == nil {
		buf.WriteString(text)
		return nil
	}
	s, err := json.Marshal(text)
	if err != nil {
		return err
	}
	buf.Write(s)
	return nil
}
