package builder

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/beevik/etree"
	"github.com/fxsml/passthru/message"
)

// Media types with built-in builders.
const (
	ContentTypeTextXML     = "text/xml"
	ContentTypeSOAP12      = "application/soap+xml"
	ContentTypeXML         = "application/xml"
	ContentTypeJSON        = "application/json"
	ContentTypeText        = "text/plain"
	ContentTypeCloudEvents = "application/cloudevents+json"
)

// Builder turns a byte stream into an element. A nil element with a nil
// error means the content was not recognized.
type Builder interface {
	Build(mc *message.Context, r io.Reader) (*etree.Element, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(mc *message.Context, r io.Reader) (*etree.Element, error)

// Build implements Builder.
func (f BuilderFunc) Build(mc *message.Context, r io.Reader) (*etree.Element, error) {
	return f(mc, r)
}

// Config configures a Deferred builder.
type Config struct {
	// Builders adds or replaces builders by media type.
	Builders map[string]Builder

	// Formatters adds or replaces formatters by media type.
	Formatters message.Formatters

	// DefaultContentType is assumed for messages without a content type.
	// Default: text/xml.
	DefaultContentType string
}

func (c Config) parse() Config {
	if c.DefaultContentType == "" {
		c.DefaultContentType = ContentTypeTextXML
	}
	return c
}

// Deferred dispatches to a media-type specific Builder.
// It is read-only after construction and safe for concurrent use.
type Deferred struct {
	builders    map[string]Builder
	formatters  message.Formatters
	defaultType string
}

// NewDeferred creates a Deferred builder with the built-in builders and
// formatters, overlaid with those from cfg.
func NewDeferred(cfg Config) *Deferred {
	cfg = cfg.parse()

	xml := XML{}
	builders := map[string]Builder{
		ContentTypeTextXML:     xml,
		ContentTypeSOAP12:      xml,
		ContentTypeXML:         xml,
		ContentTypeJSON:        JSON{},
		ContentTypeText:        Text{},
		ContentTypeCloudEvents: CloudEvents{},
	}
	for mt, b := range cfg.Builders {
		builders[message.MediaType(mt)] = b
	}

	formatters := DefaultFormatters()
	for mt, f := range cfg.Formatters {
		formatters[message.MediaType(mt)] = f
	}

	return &Deferred{
		builders:    builders,
		formatters:  formatters,
		defaultType: message.MediaType(cfg.DefaultContentType),
	}
}

// Build materializes r according to the message content type.
// It returns (nil, nil, nil) for empty bodies and unclaimed media types.
func (d *Deferred) Build(mc *message.Context, r io.Reader) (*etree.Element, message.Formatters, error) {
	mt := d.mediaType(mc)
	b, ok := d.lookup(mc, mt)
	if !ok {
		return nil, nil, nil
	}

	br := bufio.NewReader(r)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	elem, err := b.Build(mc, br)
	if err != nil {
		return nil, nil, fmt.Errorf("builder: %s: %w", mt, err)
	}
	if elem == nil {
		return nil, nil, nil
	}
	return elem, d.formatters, nil
}

// Formatters returns the formatter registry handed out with every build.
func (d *Deferred) Formatters() message.Formatters {
	return d.formatters
}

func (d *Deferred) mediaType(mc *message.Context) string {
	if ct, err := mc.Properties.ContentType(); err == nil && ct != "" {
		return message.MediaType(ct)
	}
	if h, err := mc.Properties.TransportHeaders(); err == nil {
		if ct := h.Get("Content-Type"); ct != "" {
			return message.MediaType(ct)
		}
	}
	return d.defaultType
}

func (d *Deferred) lookup(mc *message.Context, mt string) (Builder, bool) {
	if isBinaryCloudEvent(mc) {
		b, ok := d.builders[ContentTypeCloudEvents]
		return b, ok
	}
	b, ok := d.builders[mt]
	return b, ok
}

func isBinaryCloudEvent(mc *message.Context) bool {
	h, err := mc.Properties.TransportHeaders()
	if err != nil {
		return false
	}
	return h.Get("Ce-Specversion") != ""
}
