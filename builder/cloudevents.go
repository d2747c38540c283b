package builder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/beevik/etree"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/binding"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/fxsml/passthru/message"
)

// EventNamespace is the namespace of the event element.
const EventNamespace = "http://cloudevents.io/xmlformat/V1"

// Local names of the event mapping.
const (
	EventLocalName = "event"
	DataLocalName  = "data"
)

// Values of the data element's type attribute.
const (
	dataTypeJSON   = "json"
	dataTypeXML    = "xml"
	dataTypeText   = "text"
	dataTypeBinary = "binary"
)

var errNoHeaders = errors.New("cloudevents: binary mode requires transport headers")

// CloudEvents reads a CloudEvent, in structured mode
// (application/cloudevents+json) or binary mode (ce-* transport headers),
// and maps it to an event element. Context attributes and extensions become
// attributes; the payload goes into a data child.
type CloudEvents struct{}

// Build implements Builder.
func (CloudEvents) Build(mc *message.Context, r io.Reader) (*etree.Element, error) {
	ev, err := readEvent(mc, r)
	if err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return EventElement(ev)
}

func readEvent(mc *message.Context, r io.Reader) (*cloudevents.Event, error) {
	ct, _ := mc.Properties.ContentType()
	if message.MediaType(ct) == ContentTypeCloudEvents {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		ev := cloudevents.NewEvent()
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	}

	h, err := mc.Properties.TransportHeaders()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoHeaders, err)
	}
	msg := cehttp.NewMessage(h, io.NopCloser(r))
	defer msg.Finish(nil)
	return binding.ToEvent(context.Background(), msg)
}

// EventElement maps ev to an event element.
func EventElement(ev *cloudevents.Event) (*etree.Element, error) {
	el := etree.NewElement(EventLocalName)
	el.CreateAttr("xmlns", EventNamespace)
	el.CreateAttr("specversion", ev.SpecVersion())
	el.CreateAttr("id", ev.ID())
	el.CreateAttr("source", ev.Source())
	el.CreateAttr("type", ev.Type())
	setOptional(el, "subject", ev.Subject())
	if t := ev.Time(); !t.IsZero() {
		el.CreateAttr("time", t.UTC().Format(time.RFC3339Nano))
	}
	setOptional(el, "datacontenttype", ev.DataContentType())
	setOptional(el, "dataschema", ev.DataSchema())

	exts := ev.Extensions()
	names := make([]string, 0, len(exts))
	for name := range exts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		el.CreateAttr(name, fmt.Sprint(exts[name]))
	}

	data := ev.Data()
	if len(data) == 0 {
		return el, nil
	}
	d := el.CreateElement(DataLocalName)
	switch mt := message.MediaType(ev.DataContentType()); {
	case mt == "" || mt == ContentTypeJSON || strings.HasSuffix(mt, "+json"):
		d.CreateAttr("type", dataTypeJSON)
		if err := DecodeJSON(bytes.NewReader(data), d); err != nil {
			return nil, fmt.Errorf("cloudevents: data: %w", err)
		}
	case isXMLMediaType(mt):
		d.CreateAttr("type", dataTypeXML)
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(data); err != nil {
			return nil, fmt.Errorf("cloudevents: data: %w", err)
		}
		if root := doc.Root(); root != nil {
			doc.RemoveChild(root)
			d.AddChild(root)
		}
	case strings.HasPrefix(mt, "text/") && utf8.Valid(data):
		d.CreateAttr("type", dataTypeText)
		d.SetText(string(data))
	default:
		d.CreateAttr("type", dataTypeBinary)
		d.SetText(base64.StdEncoding.EncodeToString(data))
	}
	return el, nil
}

// EventFromElement maps an event element back to a CloudEvent.
func EventFromElement(el *etree.Element) (*cloudevents.Event, error) {
	if el == nil || el.Tag != EventLocalName {
		return nil, errors.New("cloudevents: not an event element")
	}
	ev := cloudevents.NewEvent(el.SelectAttrValue("specversion", cloudevents.VersionV1))
	for _, a := range el.Attr {
		if a.Space == "xmlns" || a.Key == "xmlns" {
			continue
		}
		switch a.Key {
		case "specversion":
		case "id":
			ev.SetID(a.Value)
		case "source":
			ev.SetSource(a.Value)
		case "type":
			ev.SetType(a.Value)
		case "subject":
			ev.SetSubject(a.Value)
		case "dataschema":
			ev.SetDataSchema(a.Value)
		case "datacontenttype":
			ev.SetDataContentType(a.Value)
		case "time":
			t, err := time.Parse(time.RFC3339Nano, a.Value)
			if err != nil {
				return nil, fmt.Errorf("cloudevents: time: %w", err)
			}
			ev.SetTime(t)
		default:
			ev.SetExtension(a.Key, a.Value)
		}
	}

	d := el.SelectElement(DataLocalName)
	if d == nil {
		return &ev, nil
	}
	data, err := eventData(d)
	if err != nil {
		return nil, err
	}
	if err := ev.SetData(ev.DataContentType(), data); err != nil {
		return nil, err
	}
	return &ev, nil
}

// eventData returns the payload in the form SetData expects: raw JSON for
// JSON data so it is not base64 encoded, bytes for everything else.
func eventData(d *etree.Element) (any, error) {
	switch d.SelectAttrValue("type", dataTypeText) {
	case dataTypeJSON:
		var buf bytes.Buffer
		if err := writeJSONValue(&buf, d); err != nil {
			return nil, err
		}
		return json.RawMessage(buf.Bytes()), nil
	case dataTypeXML:
		children := d.ChildElements()
		if len(children) == 0 {
			return []byte{}, nil
		}
		doc := etree.NewDocument()
		doc.SetRoot(children[0].Copy())
		return doc.WriteToBytes()
	case dataTypeBinary:
		return base64.StdEncoding.DecodeString(strings.TrimSpace(d.Text()))
	default:
		return []byte(d.Text()), nil
	}
}

func setOptional(el *etree.Element, key, value string) {
	if value != "" {
		el.CreateAttr(key, value)
	}
}

func isXMLMediaType(mt string) bool {
	return mt == ContentTypeTextXML || mt == ContentTypeXML || mt == ContentTypeSOAP12 ||
		strings.HasSuffix(mt, "+xml")
}
