package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fxsml/passthru/addressing"
	"github.com/fxsml/passthru/builder"
	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/soap"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/semaphore"
)

var (
	errUnknownFailure  = errors.New("http: mediation failed")
	errAckTimeout      = errors.New("http: back channel not settled in time")
	errServerClosed    = errors.New("http: server closed")
	errRequestCanceled = errors.New("http: request canceled")
)

// Config configures a Server.
type Config struct {
	// BufferSize is the channel buffer size (default: 100).
	BufferSize int

	// AckTimeout is the maximum time to wait for the back channel to settle
	// (default: 30s).
	AckTimeout time.Duration

	// MaxInFlight bounds concurrently held requests; excess requests get 503
	// (default: 1024).
	MaxInFlight int64

	// Services maps request paths to services. With no services every path
	// is accepted and dispatched to no service.
	Services map[string]*message.Service

	// Configuration is attached to every message context.
	Configuration *message.Configuration

	// Formatters write response envelopes when the request produced none
	// (default: builder.DefaultFormatters()).
	Formatters message.Formatters

	// Logger for structured logging (default: slog.Default()).
	Logger message.Logger
}

func (c Config) parse() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 30 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 1024
	}
	if c.Formatters == nil {
		c.Formatters = builder.DefaultFormatters()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Server receives requests over HTTP and delivers them as message contexts
// to a channel, without reading the body. The body is exposed as the
// context's pipe and, for builds that do not stream, as binary content of a
// placeholder envelope.
type Server struct {
	mu         sync.RWMutex
	ch         chan *message.Context
	done       chan struct{}
	wg         sync.WaitGroup
	subscribed bool
	cfg        Config
	sem        *semaphore.Weighted
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	cfg = cfg.parse()
	return &Server{
		cfg: cfg,
		sem: semaphore.NewWeighted(cfg.MaxInFlight),
	}
}

// Subscribe starts accepting requests and returns the channel to receive
// them. When ctx is cancelled, pending and new requests get 503 and the
// channel is closed once in-flight requests have returned.
//
// Subscribe can only be called once.
func (s *Server) Subscribe(ctx context.Context) (<-chan *message.Context, error) {
	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		return nil, errors.New("already subscribed")
	}
	s.ch = make(chan *message.Context, s.cfg.BufferSize)
	s.done = make(chan struct{})
	s.subscribed = true
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(s.done)
		s.wg.Wait()
		close(s.ch)
	}()

	return s.ch, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	if !s.subscribed {
		s.mu.RUnlock()
		http.Error(w, "no subscriber", http.StatusServiceUnavailable)
		return
	}
	s.mu.RUnlock()

	s.wg.Add(1)
	defer s.wg.Done()

	select {
	case <-s.done:
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	default:
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.sem.TryAcquire(1) {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many requests in flight", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	svc, ok := s.service(r.URL.Path)
	if !ok {
		s.writeFault(w, http.StatusNotFound, soap.FaultClient, "no service at "+r.URL.Path)
		return
	}

	body, err := requestBody(r)
	if err != nil {
		s.writeFault(w, http.StatusBadRequest, soap.FaultClient, err.Error())
		return
	}

	mc, bc := s.newContext(r, svc, body)

	select {
	case s.ch <- mc:
	case <-s.done:
		bc.abandon(errServerClosed)
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		bc.abandon(errRequestCanceled)
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return
	}

	timeout := time.NewTimer(s.cfg.AckTimeout)
	defer timeout.Stop()

	select {
	case <-bc.done():
	case <-s.done:
		bc.abandon(errServerClosed)
	case <-timeout.C:
		bc.abandon(errAckTimeout)
	case <-r.Context().Done():
		bc.abandon(errRequestCanceled)
	}

	resp, err := bc.outcome()
	switch {
	case errors.Is(err, errServerClosed):
		http.Error(w, "server closed", http.StatusServiceUnavailable)
	case errors.Is(err, errAckTimeout):
		s.cfg.Logger.Warn("Back channel not settled in time",
			"message_id", mc.ID(),
			"timeout", s.cfg.AckTimeout)
		http.Error(w, "ack timeout", http.StatusGatewayTimeout)
	case errors.Is(err, errRequestCanceled):
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
	case err != nil:
		s.cfg.Logger.Warn("Mediation failed",
			"message_id", mc.ID(),
			"error", err)
		s.writeFault(w, http.StatusInternalServerError, soap.FaultServer, err.Error())
	case resp == nil:
		w.WriteHeader(http.StatusAccepted)
	default:
		s.writeResponse(w, mc, resp)
	}
}

func (s *Server) service(path string) (*message.Service, bool) {
	if len(s.cfg.Services) == 0 {
		return nil, true
	}
	svc, ok := s.cfg.Services[path]
	return svc, ok
}

// requestBody undoes gzip content encoding. The body itself is not read.
func requestBody(r *http.Request) (io.Reader, error) {
	if !strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		return r.Body, nil
	}
	zr, err := gzip.NewReader(r.Body)
	if err != nil {
		return nil, err
	}
	return zr, nil
}

func (s *Server) newContext(r *http.Request, svc *message.Service, body io.Reader) (*message.Context, *backChannel) {
	mc := message.NewContext(s.cfg.Configuration)
	mc.To = r.URL.RequestURI()
	mc.Service = svc

	headers := r.Header.Clone()
	if headers.Get("Content-Encoding") != "" {
		headers.Del("Content-Encoding")
		headers.Del("Content-Length")
	}
	mc.Properties[message.PropTransportHeaders] = headers
	ct := r.Header.Get("Content-Type")
	if ct != "" {
		mc.Properties[message.PropContentType] = ct
	}

	// Addressing runs when the relay has a document, not before.
	mc.Properties[message.PropDisableAddressingIn] = true

	action := requestAction(r.Header)
	if action != "" {
		mc.Properties[message.PropAction] = action
	}
	if svc != nil {
		if op, ok := svc.OperationByAction(action); ok {
			mc.Operation = op
		} else {
			mc.Operation = svc.DefaultOperation()
		}
	}

	pipe := message.NewPipe(body)
	mc.Pipe = pipe
	mc.Envelope = soap.NewEmptyEnvelope()
	mc.Envelope.AttachBinary(soap.NewStreamingDataHandler(pipe.Reader))

	bc := newBackChannel()
	mc.BackChannel = bc
	return mc, bc
}

// requestAction reads SOAPAction, or the action parameter of a SOAP 1.2
// content type.
func requestAction(h http.Header) string {
	if a := strings.Trim(h.Get("SOAPAction"), `"`); a != "" {
		return a
	}
	_, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return params["action"]
}

func (s *Server) writeResponse(w http.ResponseWriter, mc *message.Context, resp *message.Response) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	ct := resp.ContentType
	body := resp.Body
	if resp.Envelope != nil {
		if ct == "" {
			ct, _ = mc.Properties.ContentType()
		}
		if ct == "" {
			ct = builder.ContentTypeTextXML
		}
		if err := addressing.AnnotateReply(mc, resp.Envelope); err != nil {
			s.cfg.Logger.Warn("Cannot annotate reply",
				"message_id", mc.ID(),
				"error", err)
		}
		f, ok := mc.Relay().Formatters.Lookup(ct)
		if !ok {
			f, ok = s.cfg.Formatters.Lookup(ct)
		}
		if !ok {
			s.writeFault(w, http.StatusInternalServerError, soap.FaultServer, "no formatter for "+ct)
			return
		}
		var buf bytes.Buffer
		if err := f.Format(&buf, resp.Envelope); err != nil {
			s.writeFault(w, http.StatusInternalServerError, soap.FaultServer, err.Error())
			return
		}
		body = buf.Bytes()
	}

	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.cfg.Logger.Debug("Cannot write response",
			"message_id", mc.ID(),
			"error", err)
	}
}

func (s *Server) writeFault(w http.ResponseWriter, status int, code, reason string) {
	var buf bytes.Buffer
	if _, err := soap.NewFault(code, reason).WriteTo(&buf); err != nil {
		http.Error(w, reason, status)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
