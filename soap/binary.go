package soap

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/beevik/etree"
)

// Binary content marker. A transport that does not parse a request places an
// element with this name in the body and keeps the raw bytes behind a
// DataHandler, so the relay can materialize the real document later.
const (
	BinaryNamespace = "http://ws.apache.org/commons/ns/payload"
	BinaryLocalName = "binary"
)

// ErrStreamConsumed is returned by a StreamingDataHandler whose stream was
// already handed out for last use.
var ErrStreamConsumed = errors.New("soap: binary content stream already consumed")

// DataHandler gives access to binary content carried by the envelope.
type DataHandler interface {
	Reader() (io.Reader, error)
}

// LastUseSetter is implemented by data handlers that can stream their content
// instead of caching it when told the next read is the final one.
type LastUseSetter interface {
	SetLastUse(lastUse bool)
}

// AttachBinary appends a binary content marker backed by dh to the body and
// returns the marker element.
func (e *Envelope) AttachBinary(dh DataHandler) *etree.Element {
	body := e.Body()
	if body == nil {
		body = e.Root().CreateElement(envelopePrefix + ":Body")
	}
	marker := body.CreateElement("ns:" + BinaryLocalName)
	marker.CreateAttr("xmlns:ns", BinaryNamespace)
	if e.binary == nil {
		e.binary = make(map[*etree.Element]DataHandler)
	}
	e.binary[marker] = dh
	return marker
}

// BinaryContent returns the first binary content marker in the body and the
// data handler behind it. The handler is nil when the marker carries no data,
// for example after the envelope was reparsed from text.
func (e *Envelope) BinaryContent() (*etree.Element, DataHandler, bool) {
	marker := child(e.Body(), BinaryNamespace, BinaryLocalName)
	if marker == nil {
		return nil, nil, false
	}
	return marker, e.binary[marker], true
}

// BytesDataHandler serves a fixed byte slice.
type BytesDataHandler []byte

// Reader returns a fresh reader over the bytes.
func (b BytesDataHandler) Reader() (io.Reader, error) {
	return bytes.NewReader(b), nil
}

// StreamingDataHandler opens its source lazily. Until SetLastUse(true) is
// called, the first Reader call drains the source into memory so the content
// can be read again; once marked as last use, the source is streamed straight
// through and can only be read once.
type StreamingDataHandler struct {
	mu       sync.Mutex
	open     func() (io.Reader, error)
	lastUse  bool
	cached   []byte
	hasCache bool
	consumed bool
}

// NewStreamingDataHandler returns a handler reading from open on demand.
func NewStreamingDataHandler(open func() (io.Reader, error)) *StreamingDataHandler {
	return &StreamingDataHandler{open: open}
}

// SetLastUse implements LastUseSetter.
func (h *StreamingDataHandler) SetLastUse(lastUse bool) {
	h.mu.Lock()
	h.lastUse = lastUse
	h.mu.Unlock()
}

// Reader implements DataHandler.
func (h *StreamingDataHandler) Reader() (io.Reader, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.hasCache {
		return bytes.NewReader(h.cached), nil
	}
	if h.consumed {
		return nil, ErrStreamConsumed
	}

	r, err := h.open()
	if err != nil {
		return nil, err
	}
	if h.lastUse {
		h.consumed = true
		return r, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		h.consumed = true
		return nil, err
	}
	h.cached = data
	h.hasCache = true
	return bytes.NewReader(data), nil
}
