package relay

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/beevik/etree"
	"github.com/fxsml/passthru/addressing"
	"github.com/fxsml/passthru/builder"
	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/soap"
)

var quiet = slog.New(slog.DiscardHandler)

type fakeBackChannel struct {
	acks atomic.Int32
}

func (b *fakeBackChannel) Acknowledge(*message.Context) error {
	b.acks.Add(1)
	return nil
}

type countingPipe struct {
	r     *countingReader
	opens atomic.Int32
}

func newCountingPipe(s string) *countingPipe {
	return &countingPipe{r: &countingReader{r: strings.NewReader(s)}}
}

func (p *countingPipe) Reader() (io.Reader, error) {
	if p.opens.Add(1) > 1 {
		return nil, message.ErrPipeConsumed
	}
	return p.r, nil
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

type countingBuilder struct {
	calls atomic.Int32
	next  DocumentBuilder
}

func (b *countingBuilder) Build(mc *message.Context, r io.Reader) (*etree.Element, message.Formatters, error) {
	b.calls.Add(1)
	return b.next.Build(mc, r)
}

func addressingConfig() *message.Configuration {
	return &message.Configuration{InFlow: []*message.Phase{
		{Name: "Transport"},
		{Name: addressing.PhaseName, Handlers: []message.Handler{addressing.NewInHandler(addressing.Config{Logger: quiet})}},
		{Name: "Dispatch"},
	}}
}

func newRelayer(b DocumentBuilder) *Relayer {
	cfg := DefaultConfig()
	cfg.Builder = b
	cfg.Logger = quiet
	return New(cfg)
}

func pipeContext(body string, mep message.MEP) (*message.Context, *countingPipe, *fakeBackChannel) {
	mc := message.NewContext(addressingConfig())
	pipe := newCountingPipe(body)
	bc := &fakeBackChannel{}
	mc.Pipe = pipe
	mc.BackChannel = bc
	mc.Operation = &message.Operation{Name: "op", MEP: mep}
	return mc, pipe, bc
}

func TestRelay_PipeScenario(t *testing.T) {
	mc, _, bc := pipeContext("<root/>", message.MEPInOnly)

	if err := newRelayer(nil).Relay(mc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mc.Envelope == nil || mc.Envelope.FirstBodyChild() == nil || mc.Envelope.FirstBodyChild().Tag != "root" {
		t.Fatalf("envelope = %v, want <root/> payload", mc.Envelope)
	}
	state := mc.Relay()
	if !state.Built || state.Source != message.SourcePipe || !state.Coordinated {
		t.Errorf("state = %+v", *state)
	}
	if state.Formatters == nil {
		t.Error("expected formatters")
	}
	if got := bc.acks.Load(); got != 1 {
		t.Errorf("acks = %d, want 1", got)
	}
}

func TestRelay_Idempotent(t *testing.T) {
	mc, pipe, bc := pipeContext("<root/>", message.MEPInOnly)
	b := &countingBuilder{next: builder.NewDeferred(builder.Config{})}
	r := newRelayer(b)

	for i := 0; i < 3; i++ {
		if err := r.Relay(mc, false); err != nil {
			t.Fatalf("relay %d: %v", i, err)
		}
	}

	if got := b.calls.Load(); got != 1 {
		t.Errorf("builds = %d, want 1", got)
	}
	if got := pipe.opens.Load(); got != 1 {
		t.Errorf("pipe opens = %d, want 1", got)
	}
	if got := pipe.r.n.Load(); got != int64(len("<root/>")) {
		t.Errorf("bytes read = %d, want %d", got, len("<root/>"))
	}
	if got := bc.acks.Load(); got != 1 {
		t.Errorf("acks = %d, want 1", got)
	}
}

func TestRelay_NoSource(t *testing.T) {
	t.Run("no pipe no envelope", func(t *testing.T) {
		mc := message.NewContext(addressingConfig())
		bc := &fakeBackChannel{}
		mc.BackChannel = bc
		mc.Operation = &message.Operation{MEP: message.MEPInOnly}

		if err := newRelayer(nil).Relay(mc, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mc.Envelope != nil || mc.Relay().Built {
			t.Error("expected no document")
		}
		if bc.acks.Load() != 0 {
			t.Error("expected no acknowledgment")
		}
	})

	t.Run("envelope without binary content", func(t *testing.T) {
		mc := message.NewContext(addressingConfig())
		env := soap.NewEnvelope(etree.NewElement("order"))
		mc.Envelope = env

		if err := newRelayer(nil).Relay(mc, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mc.Envelope != env || mc.Relay().Built {
			t.Error("envelope must be left alone")
		}
	})
}

func TestRelay_AckGating(t *testing.T) {
	redirect := &message.EndpointReference{Address: "http://elsewhere/replies"}
	anon := &message.EndpointReference{Address: message.AnonymousURI}

	tests := []struct {
		name     string
		mep      message.MEP
		msgFlag  any
		svcFlag  any
		replyTo  *message.EndpointReference
		faultTo  *message.EndpointReference
		wantAcks int32
	}{
		{name: "in-only", mep: message.MEPInOnly, wantAcks: 1},
		{name: "in-only wsdl uri", mep: message.MEPURIInOnly, wantAcks: 1},
		{name: "in-only message disable", mep: message.MEPInOnly, msgFlag: true, wantAcks: 0},
		{name: "message disable wins over service enable", mep: message.MEPInOnly, msgFlag: true, svcFlag: false, wantAcks: 0},
		{name: "message enable wins over service disable", mep: message.MEPInOnly, msgFlag: false, svcFlag: true, wantAcks: 1},
		{name: "service disable", mep: message.MEPInOnly, svcFlag: "true", wantAcks: 0},
		{name: "malformed override keeps channel", mep: message.MEPInOnly, msgFlag: 42, wantAcks: 0},
		{name: "in-out", mep: message.MEPInOut, wantAcks: 0},
		{name: "in-out reply redirected only", mep: message.MEPInOut, replyTo: redirect, faultTo: anon, wantAcks: 0},
		{name: "in-out both redirected", mep: message.MEPInOut, replyTo: redirect, faultTo: redirect, wantAcks: 1},
		{name: "robust in-only both redirected", mep: message.MEPRobustInOnly, replyTo: redirect, faultTo: redirect, wantAcks: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc, _, bc := pipeContext("<root/>", tt.mep)
			mc.Service = &message.Service{Name: "svc", Parameters: message.Properties{}}
			if tt.msgFlag != nil {
				mc.Properties[message.PropDisableResponseAck] = tt.msgFlag
			}
			if tt.svcFlag != nil {
				mc.Service.Parameters[message.PropDisableResponseAck] = tt.svcFlag
			}
			mc.ReplyTo = tt.replyTo
			mc.FaultTo = tt.faultTo

			if err := newRelayer(nil).Relay(mc, false); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := bc.acks.Load(); got != tt.wantAcks {
				t.Errorf("acks = %d, want %d", got, tt.wantAcks)
			}
		})
	}
}

func TestRelay_OutboundFlagPreserved(t *testing.T) {
	clearing := message.NewHandler(addressing.HandlerName, func(mc *message.Context) error {
		mc.Properties[message.PropDisableAddressingOut] = false
		return nil
	})

	tests := []struct {
		name    string
		handler message.Handler
		body    string
	}{
		{name: "handler clears flag", handler: clearing, body: "<root/>"},
		{
			name:    "addressed request",
			handler: addressing.NewInHandler(addressing.Config{Logger: quiet}),
			body: `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" xmlns:wsa="` + addressing.Namespace + `">` +
				`<s:Header><wsa:Action>urn:a</wsa:Action></s:Header><s:Body><root/></s:Body></s:Envelope>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &message.Configuration{InFlow: []*message.Phase{
				{Name: addressing.PhaseName, Handlers: []message.Handler{tt.handler}},
			}}
			mc, _, _ := pipeContext(tt.body, message.MEPInOnly)
			mc.Config = cfg
			mc.Properties[message.PropDisableAddressingOut] = true

			if err := newRelayer(nil).Relay(mc, false); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out, err := mc.Properties.Bool(message.PropDisableAddressingOut); err != nil || !out {
				t.Errorf("disable out = %v, %v, want true", out, err)
			}
			if in, err := mc.Properties.Bool(message.PropDisableAddressingIn); err != nil || in {
				t.Errorf("disable in = %v, %v, want false", in, err)
			}
		})
	}
}

func TestRelay_OutboundFlagUnsetStaysHandlerValue(t *testing.T) {
	mc, _, _ := pipeContext("<root/>", message.MEPInOnly)

	if err := newRelayer(nil).Relay(mc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// no addressing headers: the handler disables them on the response
	if out, err := mc.Properties.Bool(message.PropDisableAddressingOut); err != nil || !out {
		t.Errorf("disable out = %v, %v, want true", out, err)
	}
}

func TestRelay_EarlyBuild(t *testing.T) {
	mc, pipe, bc := pipeContext("<root/>", message.MEPInOnly)
	b := &countingBuilder{next: builder.NewDeferred(builder.Config{})}
	r := newRelayer(b)

	if err := r.Relay(mc, true); err != nil {
		t.Fatalf("early relay: %v", err)
	}
	if !mc.Relay().Built || mc.Relay().Coordinated {
		t.Fatalf("state = %+v, want built and not coordinated", *mc.Relay())
	}
	if bc.acks.Load() != 0 {
		t.Fatal("early build must not acknowledge")
	}

	if err := r.Relay(mc, true); err != nil {
		t.Fatalf("second early relay: %v", err)
	}
	if bc.acks.Load() != 0 {
		t.Fatal("early build must not acknowledge")
	}

	if err := r.Relay(mc, false); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if got := bc.acks.Load(); got != 1 {
		t.Errorf("acks = %d, want 1", got)
	}
	if got := b.calls.Load(); got != 1 {
		t.Errorf("builds = %d, want 1", got)
	}
	if got := pipe.opens.Load(); got != 1 {
		t.Errorf("pipe opens = %d, want 1", got)
	}

	if err := r.Relay(mc, false); err != nil {
		t.Fatalf("repeated relay: %v", err)
	}
	if got := bc.acks.Load(); got != 1 {
		t.Errorf("acks after repeated relay = %d, want 1", got)
	}
}

func TestRelay_StreamingFailureSwallowed(t *testing.T) {
	mc, _, bc := pipeContext("<root b=></root>", message.MEPInOnly)

	if err := newRelayer(nil).Relay(mc, false); err != nil {
		t.Fatalf("streaming failures must not surface: %v", err)
	}
	if mc.Envelope != nil || mc.Relay().Built {
		t.Error("expected message to stay unparsed")
	}
	if bc.acks.Load() != 0 {
		t.Error("expected no acknowledgment")
	}
}

func TestRelay_RetryReusesReplayBuffer(t *testing.T) {
	mc, pipe, bc := pipeContext("<root/>", message.MEPInOnly)

	var attempts atomic.Int32
	deferred := builder.NewDeferred(builder.Config{})
	flaky := builderFunc(func(mc *message.Context, r io.Reader) (*etree.Element, message.Formatters, error) {
		if attempts.Add(1) == 1 {
			buf := make([]byte, 3)
			_, _ = io.ReadFull(r, buf)
			return nil, nil, errors.New("transient")
		}
		return deferred.Build(mc, r)
	})
	r := newRelayer(flaky)

	if err := r.Relay(mc, false); err != nil {
		t.Fatalf("first relay: %v", err)
	}
	if mc.Relay().Built || mc.Relay().Buffered == nil {
		t.Fatalf("state = %+v, want unbuilt with buffer", *mc.Relay())
	}

	if err := r.Relay(mc, false); err != nil {
		t.Fatalf("second relay: %v", err)
	}
	if mc.Envelope == nil || mc.Envelope.FirstBodyChild().Tag != "root" {
		t.Fatalf("envelope = %v, want <root/>", mc.Envelope)
	}
	if got := pipe.opens.Load(); got != 1 {
		t.Errorf("pipe opens = %d, want 1", got)
	}
	if got := bc.acks.Load(); got != 1 {
		t.Errorf("acks = %d, want 1", got)
	}
}

func TestRelay_ReplayExceeded(t *testing.T) {
	mc, _, bc := pipeContext("<root>too long for the window</root>", message.MEPInOnly)

	var attempts atomic.Int32
	greedy := builderFunc(func(_ *message.Context, r io.Reader) (*etree.Element, message.Formatters, error) {
		attempts.Add(1)
		_, _ = io.ReadAll(r)
		return nil, nil, errors.New("gave up")
	})
	cfg := DefaultConfig()
	cfg.Builder = greedy
	cfg.Logger = quiet
	cfg.ReplayCapacity = 4
	r := New(cfg)

	for i := 0; i < 2; i++ {
		if err := r.Relay(mc, false); err != nil {
			t.Fatalf("relay %d: %v", i, err)
		}
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if mc.Relay().Built || bc.acks.Load() != 0 {
		t.Error("expected no-op after replay window was exceeded")
	}
}

func TestRelay_Attachment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForceStreamingBuild = false
	cfg.Logger = quiet
	r := New(cfg)

	mc, pipe, bc := pipeContext("<ignored/>", message.MEPInOnly)
	mc.Envelope = soap.NewEmptyEnvelope()
	mc.Envelope.AttachBinary(soap.BytesDataHandler("<root/>"))

	if err := r.Relay(mc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Envelope.FirstBodyChild() == nil || mc.Envelope.FirstBodyChild().Tag != "root" {
		t.Fatalf("envelope = %v, want <root/>", mc.Envelope)
	}
	if mc.Relay().Source != message.SourceAttachment {
		t.Errorf("source = %v, want attachment", mc.Relay().Source)
	}
	if pipe.opens.Load() != 0 {
		t.Error("pipe must not be read when streaming build is off")
	}
	if got := bc.acks.Load(); got != 1 {
		t.Errorf("acks = %d, want 1", got)
	}
}

func TestRelay_AttachmentLastUse(t *testing.T) {
	var opens atomic.Int32
	dh := soap.NewStreamingDataHandler(func() (io.Reader, error) {
		opens.Add(1)
		return strings.NewReader("<root/>"), nil
	})
	mc := message.NewContext(nil)
	mc.Envelope = soap.NewEmptyEnvelope()
	mc.Envelope.AttachBinary(dh)

	if err := newRelayer(nil).Relay(mc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dh.Reader(); !errors.Is(err, soap.ErrStreamConsumed) {
		t.Errorf("err = %v, want content streamed and not cached", err)
	}
	if opens.Load() != 1 {
		t.Errorf("opens = %d, want 1", opens.Load())
	}
}

func TestRelay_AttachmentOpaqueStaysReplayable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForceStreamingBuild = false
	cfg.Logger = quiet
	r := New(cfg)

	dh := soap.NewStreamingDataHandler(func() (io.Reader, error) {
		return strings.NewReader("opaque-bytes"), nil
	})
	mc := message.NewContext(nil)
	mc.Properties[message.PropContentType] = "application/octet-stream"
	mc.Envelope = soap.NewEmptyEnvelope()
	mc.Envelope.AttachBinary(dh)

	for range 2 {
		if err := r.Relay(mc, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	state := mc.Relay()
	if state.Built {
		t.Fatal("unknown content type must stay unparsed")
	}
	if state.Buffered == nil {
		t.Fatal("expected attachment content behind the replay buffer")
	}
	if err := state.Buffered.TryReset(); err != nil {
		t.Fatalf("TryReset: %v", err)
	}
	got, _ := io.ReadAll(state.Buffered)
	if string(got) != "opaque-bytes" {
		t.Errorf("replayed %q, want opaque-bytes", got)
	}
}

func TestRelay_AttachmentErrors(t *testing.T) {
	t.Run("marker without data", func(t *testing.T) {
		doc := etree.NewDocument()
		if err := doc.ReadFromString(`<s:Envelope xmlns:s="` + soap.Namespace11 + `"><s:Body>` +
			`<ns:binary xmlns:ns="` + soap.BinaryNamespace + `"/></s:Body></s:Envelope>`); err != nil {
			t.Fatal(err)
		}
		mc := message.NewContext(nil)
		mc.Envelope = soap.NewEnvelope(doc.Root())

		err := newRelayer(nil).Relay(mc, false)
		var mce *MissingContentError
		if !errors.As(err, &mce) || mce.MessageID != mc.ID() {
			t.Fatalf("err = %v, want *MissingContentError", err)
		}
	})

	t.Run("malformed content", func(t *testing.T) {
		mc := message.NewContext(nil)
		mc.Envelope = soap.NewEmptyEnvelope()
		mc.Envelope.AttachBinary(soap.BytesDataHandler("<root b=></root>"))

		err := newRelayer(nil).Relay(mc, false)
		var be *BuildError
		if !errors.As(err, &be) || be.Source != message.SourceAttachment {
			t.Fatalf("err = %v, want *BuildError from attachment", err)
		}
		if mc.Relay().Built {
			t.Error("failed build must not be marked built")
		}
	})

	t.Run("addressing failure", func(t *testing.T) {
		mc := message.NewContext(addressingConfig())
		mc.Envelope = soap.NewEmptyEnvelope()
		mc.Envelope.AttachBinary(soap.BytesDataHandler(`<s:Envelope xmlns:s="` + soap.Namespace11 +
			`" xmlns:wsa="` + addressing.Namespace + `"><s:Header><wsa:To>x</wsa:To></s:Header><s:Body/></s:Envelope>`))

		err := newRelayer(nil).Relay(mc, false)
		if !errors.Is(err, addressing.ErrMissingAction) {
			t.Fatalf("err = %v, want %v", err, addressing.ErrMissingAction)
		}
	})
}

func TestRelay_AddressingFailureOnPipeSwallowed(t *testing.T) {
	body := `<s:Envelope xmlns:s="` + soap.Namespace11 + `" xmlns:wsa="` + addressing.Namespace +
		`"><s:Header><wsa:To>x</wsa:To></s:Header><s:Body/></s:Envelope>`
	mc, _, bc := pipeContext(body, message.MEPInOnly)

	if err := newRelayer(nil).Relay(mc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mc.Relay().Built {
		t.Error("expected document to be built")
	}
	if bc.acks.Load() != 0 {
		t.Error("failed addressing must not acknowledge")
	}
}

func TestRelay_AddressingAbsent(t *testing.T) {
	mc, _, bc := pipeContext("<root/>", message.MEPInOnly)
	mc.Config = &message.Configuration{InFlow: []*message.Phase{{Name: "Transport"}}}
	r := newRelayer(nil)

	if err := r.Relay(mc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bc.acks.Load() != 0 {
		t.Error("no acknowledgment without addressing handler")
	}
	if r.Locator().State() != Absent {
		t.Errorf("state = %v, want absent", r.Locator().State())
	}
	if !mc.Relay().Coordinated {
		t.Error("coordination should be recorded even when skipped")
	}
}

func TestRelay_NilConfiguration(t *testing.T) {
	mc, _, bc := pipeContext("<root/>", message.MEPInOnly)
	mc.Config = nil
	r := newRelayer(nil)

	if err := r.Relay(mc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bc.acks.Load() != 0 {
		t.Error("no acknowledgment without configuration")
	}
	if r.Locator().State() != Unresolved {
		t.Errorf("state = %v, want unresolved", r.Locator().State())
	}
}

type builderFunc func(mc *message.Context, r io.Reader) (*etree.Element, message.Formatters, error)

func (f builderFunc) Build(mc *message.Context, r io.Reader) (*etree.Element, message.Formatters, error) {
	return f(mc, r)
}

func TestRelay_ZeroContext(t *testing.T) {
	pipe := newCountingPipe("<root/>")
	bc := &fakeBackChannel{}
	mc := &message.Context{
		Config:      addressingConfig(),
		Pipe:        pipe,
		BackChannel: bc,
		Operation:   &message.Operation{Name: "op", MEP: message.MEPInOnly},
	}

	if err := newRelayer(nil).Relay(mc, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mc.Relay().Built || !mc.Relay().Coordinated {
		t.Errorf("state = %+v", *mc.Relay())
	}
	if out, err := mc.Properties.Bool(message.PropDisableAddressingOut); err != nil || !out {
		t.Errorf("disable out = %v, %v; want handler value true", out, err)
	}
	if got := bc.acks.Load(); got != 1 {
		t.Errorf("acks = %d, want 1", got)
	}
}
