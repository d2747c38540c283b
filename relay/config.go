package relay

import (
	"io"
	"log/slog"

	"github.com/beevik/etree"
	"github.com/fxsml/passthru/builder"
	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/replay"
)

// DocumentBuilder materializes a byte stream. It returns (nil, nil, nil) when
// the content is not of a recognized type, which is not an error.
type DocumentBuilder interface {
	Build(mc *message.Context, r io.Reader) (*etree.Element, message.Formatters, error)
}

// Config configures a Relayer.
type Config struct {
	// ForceStreamingBuild builds from the transport pipe when one is present.
	// When false the pipe is ignored and only binary content carried by the
	// envelope is built. DefaultConfig enables it.
	ForceStreamingBuild bool

	// ReplayCapacity bounds how many bytes of the pipe are kept for a retry.
	// Default: replay.DefaultCapacity (128 KiB).
	ReplayCapacity int

	// Builder materializes documents. Default: builder.NewDeferred.
	Builder DocumentBuilder

	// Logger is used for recovered failures. Default: slog.Default().
	Logger message.Logger
}

// DefaultConfig returns the configuration used by the gateway.
func DefaultConfig() Config {
	return Config{
		ForceStreamingBuild: true,
		ReplayCapacity:      replay.DefaultCapacity,
	}
}

func (c Config) parse() Config {
	if c.ReplayCapacity <= 0 {
		c.ReplayCapacity = replay.DefaultCapacity
	}
	if c.Builder == nil {
		c.Builder = builder.NewDeferred(builder.Config{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
