package message

import (
	"errors"
	"io"
	"sync"
)

// ErrPipeConsumed is returned when a one-shot pipe is opened a second time.
var ErrPipeConsumed = errors.New("message: pipe already opened")

// Pipe is the raw, forward-only byte stream of a request as the transport
// received it.
type Pipe interface {
	// Reader opens the stream. The stream is not replayable.
	Reader() (io.Reader, error)
}

type readerPipe struct {
	mu     sync.Mutex
	r      io.Reader
	opened bool
}

// NewPipe returns a Pipe that hands out r exactly once.
func NewPipe(r io.Reader) Pipe {
	return &readerPipe{r: r}
}

func (p *readerPipe) Reader() (io.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened {
		return nil, ErrPipeConsumed
	}
	p.opened = true
	return p.r, nil
}
