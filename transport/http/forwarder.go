package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/fxsml/passthru/builder"
	"github.com/fxsml/passthru/message"
)

// ErrPayloadConsumed is returned when neither a document nor any unread
// byte source is left to forward.
var ErrPayloadConsumed = errors.New("http: message payload already consumed")

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	// TargetURL receives messages of services without an endpoint.
	TargetURL string

	// Endpoints maps service names to target URLs.
	Endpoints map[string]string

	// Client is the HTTP client to use (default: http.DefaultClient).
	Client *http.Client

	// Headers are additional HTTP headers to include in requests.
	Headers http.Header

	// Logger for structured logging (default: slog.Default()).
	Logger message.Logger
}

func (c ForwarderConfig) parse() ForwarderConfig {
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Forwarder relays messages to a backend and passes the backend response to
// the back channel. A message that was never built is forwarded as the
// untouched request bytes; a built one is serialized with its formatter.
//
// Forwarder implements mediation.Mediator.
type Forwarder struct {
	cfg        ForwarderConfig
	logger     message.Logger
	formatters message.Formatters
}

// NewForwarder creates a Forwarder.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	cfg = cfg.parse()
	return &Forwarder{
		cfg:        cfg,
		logger:     cfg.Logger,
		formatters: builder.DefaultFormatters(),
	}
}

// Mediate forwards mc and responds on its back channel. A back channel that
// was already acknowledged drops the backend response.
func (f *Forwarder) Mediate(ctx context.Context, mc *message.Context) error {
	target := f.target(mc)
	if target == "" {
		return fmt.Errorf("http: no endpoint for message %s", mc.ID())
	}

	body, ct, err := f.payload(mc)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if action, err := mc.Properties.Action(); err == nil && action != "" {
		req.Header.Set("SOAPAction", `"`+action+`"`)
	}
	for k, v := range f.cfg.Headers {
		req.Header[k] = v
	}

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	f.logger.Debug("Forwarded message",
		"message_id", mc.ID(),
		"url", target,
		"status", resp.StatusCode)

	responder, ok := mc.BackChannel.(message.Responder)
	if !ok {
		return nil
	}
	err = responder.Respond(mc, &message.Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	})
	if errors.Is(err, message.ErrBackChannelSettled) {
		f.logger.Debug("Dropped backend response, back channel settled",
			"message_id", mc.ID())
		return nil
	}
	return err
}

func (f *Forwarder) target(mc *message.Context) string {
	if mc.Service != nil {
		if u, ok := f.cfg.Endpoints[mc.Service.Name]; ok {
			return u
		}
	}
	return f.cfg.TargetURL
}

// payload picks what to send: the built document, the replay buffer left by
// a failed build, the unread pipe, or unread binary content.
func (f *Forwarder) payload(mc *message.Context) (io.Reader, string, error) {
	ct, _ := mc.Properties.ContentType()
	state := mc.Relay()

	if state.Built && mc.Envelope != nil {
		if ct == "" {
			ct = builder.ContentTypeTextXML
		}
		fm, ok := state.Formatters.Lookup(ct)
		if !ok {
			fm, ok = f.formatters.Lookup(ct)
		}
		if !ok {
			return nil, "", fmt.Errorf("http: no formatter for %s", ct)
		}
		var buf bytes.Buffer
		if err := fm.Format(&buf, mc.Envelope); err != nil {
			return nil, "", err
		}
		return &buf, ct, nil
	}

	if state.Buffered != nil {
		if err := state.Buffered.TryReset(); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrPayloadConsumed, err)
		}
		return state.Buffered, ct, nil
	}

	if mc.Pipe != nil {
		r, err := mc.Pipe.Reader()
		if err == nil {
			return r, ct, nil
		}
		if !errors.Is(err, message.ErrPipeConsumed) {
			return nil, "", err
		}
	}

	if mc.Envelope != nil {
		if _, dh, ok := mc.Envelope.BinaryContent(); ok && dh != nil {
			r, err := dh.Reader()
			if err != nil {
				return nil, "", fmt.Errorf("%w: %v", ErrPayloadConsumed, err)
			}
			return r, ct, nil
		}
		// Envelope set by mediation without a build.
		var buf bytes.Buffer
		if _, err := mc.Envelope.WriteTo(&buf); err != nil {
			return nil, "", err
		}
		if ct == "" {
			ct = builder.ContentTypeTextXML
		}
		return &buf, ct, nil
	}

	if mc.Pipe != nil {
		return nil, "", ErrPayloadConsumed
	}
	return http.NoBody, ct, nil
}
