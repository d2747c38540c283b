package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fxsml/passthru/addressing"
	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/relay"
	"github.com/fxsml/passthru/replay"
	"gopkg.in/yaml.v3"
)

// Server configures the inbound HTTP listener.
type Server struct {
	Addr            string        `yaml:"addr"`
	AckTimeout      time.Duration `yaml:"ack_timeout"`
	MaxInFlight     int64         `yaml:"max_in_flight"`
	BufferSize      int           `yaml:"buffer_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Relay configures the relay orchestrator.
type Relay struct {
	ForceStreamingBuild bool     `yaml:"force_streaming_build"`
	ReplayCapacity      ByteSize `yaml:"replay_capacity"`

	// EarlyBuild runs the relay before in-flow handlers without coordinating
	// the acknowledgment.
	EarlyBuild bool `yaml:"early_build"`
}

// Mediation configures the worker pool and the forwarding target.
type Mediation struct {
	Concurrency     int           `yaml:"concurrency"`
	Timeout         time.Duration `yaml:"timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TargetURL is the backend every service is forwarded to. Empty selects
	// the echo mediator.
	TargetURL string `yaml:"target_url"`

	// Endpoints override TargetURL per service name.
	Endpoints map[string]string `yaml:"endpoints"`
}

// Phase names an in-flow phase and its handlers, in order.
type Phase struct {
	Name     string   `yaml:"name"`
	Handlers []string `yaml:"handlers"`
}

// Operation declares a service operation.
type Operation struct {
	Name   string `yaml:"name"`
	Action string `yaml:"action"`
	MEP    string `yaml:"mep"`
}

// Service declares a relayed service reachable under Path.
type Service struct {
	Name       string            `yaml:"name"`
	Path       string            `yaml:"path"`
	Parameters map[string]string `yaml:"parameters"`
	Operations []Operation       `yaml:"operations"`
}

// ByteSize is a size in bytes, written in human form such as "128KiB",
// "64 kB" or "4096" in the file and the environment.
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return err
	}
	if n > math.MaxInt32 {
		return fmt.Errorf("size %s out of range", text)
	}
	*s = ByteSize(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s ByteSize) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s ByteSize) String() string {
	return humanize.IBytes(uint64(s))
}

// File is the gateway configuration file.
type File struct {
	Server     Server            `yaml:"server"`
	Relay      Relay             `yaml:"relay"`
	Mediation  Mediation         `yaml:"mediation"`
	Parameters map[string]string `yaml:"parameters"`
	Phases     []Phase           `yaml:"phases"`
	Services   []Service         `yaml:"services"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Server: Server{
			Addr:            ":8280",
			AckTimeout:      30 * time.Second,
			MaxInFlight:     1024,
			BufferSize:      100,
			ShutdownTimeout: 10 * time.Second,
		},
		Relay: Relay{
			ForceStreamingBuild: true,
			ReplayCapacity:      replay.DefaultCapacity,
		},
		Mediation: Mediation{
			Concurrency:     4,
			Timeout:         time.Minute,
			ShutdownTimeout: 5 * time.Second,
		},
		Phases: []Phase{
			{Name: "Transport"},
			{Name: addressing.PhaseName, Handlers: []string{addressing.HandlerName}},
			{Name: "Dispatch"},
		},
	}
}

// LoadFile reads a YAML file on top of Default. Unknown keys are an error.
func LoadFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads YAML from r on top of Default.
func Decode(r io.Reader) (File, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ReplayCapacity returns the replay window in bytes.
func (f File) ReplayCapacity() int {
	if f.Relay.ReplayCapacity <= 0 {
		return replay.DefaultCapacity
	}
	return int(f.Relay.ReplayCapacity)
}

// RelayConfig returns the relay configuration. The builder is left to the
// relay default.
func (f File) RelayConfig(logger message.Logger) relay.Config {
	cfg := relay.DefaultConfig()
	cfg.ForceStreamingBuild = f.Relay.ForceStreamingBuild
	cfg.ReplayCapacity = f.ReplayCapacity()
	cfg.Logger = logger
	return cfg
}

// ServiceMap returns the declared services keyed by path.
func (f File) ServiceMap() (map[string]*message.Service, error) {
	services := make(map[string]*message.Service, len(f.Services))
	for i, s := range f.Services {
		if s.Name == "" {
			return nil, fmt.Errorf("config: services[%d]: missing name", i)
		}
		path := s.Path
		if path == "" {
			path = "/services/" + s.Name
		}
		if _, ok := services[path]; ok {
			return nil, fmt.Errorf("config: service %s: duplicate path %q", s.Name, path)
		}

		svc := &message.Service{Name: s.Name, Parameters: message.Properties{}}
		for k, v := range s.Parameters {
			svc.Parameters[k] = v
		}
		for _, o := range s.Operations {
			mep := message.MEP(o.MEP)
			if mep == "" {
				mep = message.MEPInOut
			}
			if !mep.Valid() {
				return nil, fmt.Errorf("config: service %s: operation %s: unknown mep %q", s.Name, o.Name, o.MEP)
			}
			svc.Operations = append(svc.Operations, &message.Operation{Name: o.Name, Action: o.Action, MEP: mep})
		}
		services[path] = svc
	}
	return services, nil
}

// Handlers maps handler names to the handlers the phases refer to.
type Handlers map[string]message.Handler

// Register adds h under its own name.
func (hs Handlers) Register(h message.Handler) {
	hs[h.Name()] = h
}

// Configuration resolves the phase list against hs.
func (f File) Configuration(hs Handlers) (*message.Configuration, error) {
	return BuildConfiguration(f.Phases, f.Parameters, hs)
}

// BuildConfiguration builds the process-wide in-flow configuration. A phase
// naming a handler missing from hs is an error.
func BuildConfiguration(phases []Phase, params map[string]string, hs Handlers) (*message.Configuration, error) {
	cfg := &message.Configuration{Parameters: message.Properties{}}
	for k, v := range params {
		cfg.Parameters[k] = v
	}
	for _, p := range phases {
		if p.Name == "" {
			return nil, errors.New("config: phase without name")
		}
		phase := &message.Phase{Name: p.Name}
		for _, name := range p.Handlers {
			h, ok := hs[name]
			if !ok {
				return nil, fmt.Errorf("config: phase %s: unknown handler %q", p.Name, name)
			}
			phase.Handlers = append(phase.Handlers, h)
		}
		cfg.InFlow = append(cfg.InFlow, phase)
	}
	return cfg, nil
}
