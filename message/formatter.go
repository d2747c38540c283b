package message

import (
	"io"
	"mime"
	"strings"

	"github.com/fxsml/passthru/soap"
)

// Formatter writes a document in one content type.
type Formatter interface {
	ContentType() string
	Format(w io.Writer, env *soap.Envelope) error
}

// Formatters maps media types (without parameters, lower case) to formatters.
type Formatters map[string]Formatter

// Lookup returns the formatter for contentType. Media type parameters such as
// charset are ignored.
func (f Formatters) Lookup(contentType string) (Formatter, bool) {
	fm, ok := f[MediaType(contentType)]
	return fm, ok
}

// MediaType strips parameters from contentType and lower-cases it.
// Unparsable values are trimmed and lower-cased as a best effort.
func MediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
		mt = strings.TrimSpace(mt)
	}
	return strings.ToLower(mt)
}
