package message

// Handler is a named processing step of a phase.
type Handler interface {
	Name() string
	Invoke(mc *Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(mc *Context) error

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// NewHandler returns a Handler called name that runs fn.
func NewHandler(name string, fn HandlerFunc) Handler {
	return &namedHandler{name: name, fn: fn}
}

func (h *namedHandler) Name() string { return h.name }

func (h *namedHandler) Invoke(mc *Context) error { return h.fn(mc) }

// Phase is an ordered list of handlers.
type Phase struct {
	Name     string
	Handlers []Handler
}

// Handler returns the first handler called name.
func (p *Phase) Handler(name string) (Handler, bool) {
	for _, h := range p.Handlers {
		if h.Name() == name {
			return h, true
		}
	}
	return nil, false
}

// Configuration is the process-wide gateway configuration.
// It is built once at startup and read-only afterwards.
type Configuration struct {
	InFlow     []*Phase
	Parameters Properties
}

// InFlowPhases returns the in-flow phases in order.
func (c *Configuration) InFlowPhases() []*Phase {
	if c == nil {
		return nil
	}
	return c.InFlow
}

// Phase returns the first in-flow phase called name.
func (c *Configuration) Phase(name string) (*Phase, bool) {
	for _, p := range c.InFlowPhases() {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Invoke runs every in-flow handler in order and stops at the first error.
func (c *Configuration) Invoke(mc *Context) error {
	for _, p := range c.InFlowPhases() {
		for _, h := range p.Handlers {
			if err := h.Invoke(mc); err != nil {
				return &HandlerError{Phase: p.Name, Handler: h.Name(), Err: err}
			}
		}
	}
	return nil
}

// HandlerError reports which handler of which phase failed.
type HandlerError struct {
	Phase   string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return "message: " + e.Phase + "/" + e.Handler + ": " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
