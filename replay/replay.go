// Package replay wraps a forward-only byte stream with a bounded look-back
// window, so a consumer that gave up half way through the stream can start
// over from the first byte without going back to the network.
//
// A Reader records everything it hands out until the recorded prefix would
// grow past its capacity. Up to that point [Reader.TryReset] rewinds to the
// start of the stream; afterwards the window is gone for good and the Reader
// refuses to be used again.
//
//	r := replay.New(body, 128*1024)
//	if _, err := parse(r); err != nil {
//		if err := r.TryReset(); err != nil {
//			// more than 128 KiB consumed, content is lost
//		}
//		_, err = parse(r) // sees the same bytes again
//	}
package replay

import (
	"errors"
	"io"
)

// DefaultCapacity is the replay window used when none is given.
const DefaultCapacity = 128 * 1024

// ErrReplayExceeded is returned by TryReset when more bytes were consumed than
// the replay window holds, and by every call on the Reader after that.
var ErrReplayExceeded = errors.New("replay: read beyond replay capacity")

// Reader is an io.Reader with a single mark at offset zero.
// It is not safe for concurrent use; one request owns one Reader.
type Reader struct {
	r        io.Reader
	capacity int

	buf      []byte // bytes consumed from r, while they still fit
	pos      int    // read offset into buf
	overflow bool   // more than capacity bytes consumed from r
	broken   bool   // a reset failed
}

// New wraps r with a replay window of capacity bytes.
// A capacity <= 0 selects DefaultCapacity.
func New(r io.Reader, capacity int) *Reader {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Reader{r: r, capacity: capacity}
}

// Read replays recorded bytes first, then reads from the underlying stream.
func (b *Reader) Read(p []byte) (int, error) {
	if b.broken {
		return 0, ErrReplayExceeded
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.pos < len(b.buf) {
		n := copy(p, b.buf[b.pos:])
		b.pos += n
		return n, nil
	}

	n, err := b.r.Read(p)
	if n > 0 && !b.overflow {
		if len(b.buf)+n > b.capacity {
			b.overflow = true
			b.buf = nil
			b.pos = 0
		} else {
			b.buf = append(b.buf, p[:n]...)
			b.pos = len(b.buf)
		}
	}
	return n, err
}

// TryReset rewinds to the first byte of the stream. It fails with
// ErrReplayExceeded if more than Cap bytes have been consumed, and leaves the
// Reader unusable in that case.
func (b *Reader) TryReset() error {
	if b.broken || b.overflow {
		b.broken = true
		b.buf = nil
		return ErrReplayExceeded
	}
	b.pos = 0
	return nil
}

// Len returns the number of bytes currently held for replay.
func (b *Reader) Len() int {
	return len(b.buf)
}

// Cap returns the replay capacity in bytes.
func (b *Reader) Cap() int {
	return b.capacity
}

// Exceeded reports whether the replay window has been overrun.
func (b *Reader) Exceeded() bool {
	return b.overflow || b.broken
}
