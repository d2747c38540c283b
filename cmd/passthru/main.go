// passthru is an HTTP/SOAP pass-through gateway. It accepts requests on the
// configured service paths, acknowledges one-way exchanges early, builds the
// message only when mediation needs it and forwards it to a backend (or
// echoes it when no backend is configured).
//
//	passthru --config passthru.yaml --log-level debug
//
// Scalar settings can be overridden with PASSTHRU_* environment variables,
// e.g. PASSTHRU_RELAY_REPLAY_CAPACITY=1MiB.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fxsml/passthru/addressing"
	"github.com/fxsml/passthru/builder"
	"github.com/fxsml/passthru/config"
	"github.com/fxsml/passthru/mediation"
	"github.com/fxsml/passthru/message"
	"github.com/fxsml/passthru/relay"
	transport "github.com/fxsml/passthru/transport/http"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		addr       string
		logLevel   string
		logFormat  string
	)
	flags := pflag.NewFlagSet("passthru", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	flags.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		if cfg, err = config.LoadFile(configPath); err != nil {
			return err
		}
	}
	if err := (config.Loader{}).Overlay(&cfg); err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lv}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func serve(ctx context.Context, cfg config.File, logger *slog.Logger) error {
	handlers := config.Handlers{}
	handlers.Register(addressing.NewInHandler(addressing.Config{Logger: logger}))
	conf, err := cfg.Configuration(handlers)
	if err != nil {
		return err
	}
	services, err := cfg.ServiceMap()
	if err != nil {
		return err
	}
	relayCfg := cfg.RelayConfig(logger)
	relayer := relay.New(relayCfg)

	server := transport.NewServer(transport.Config{
		BufferSize:    cfg.Server.BufferSize,
		AckTimeout:    cfg.Server.AckTimeout,
		MaxInFlight:   cfg.Server.MaxInFlight,
		Services:      services,
		Configuration: conf,
		Formatters:    builder.DefaultFormatters(),
		Logger:        logger,
	})

	subCtx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()
	in, err := server.Subscribe(subCtx)
	if err != nil {
		return err
	}

	dispCtx, cancelDisp := context.WithCancel(context.Background())
	defer cancelDisp()
	dispatcher := mediation.NewDispatcher(newMediator(cfg, relayer, logger), mediation.DispatcherConfig{
		Concurrency:     cfg.Mediation.Concurrency,
		ShutdownTimeout: cfg.Mediation.ShutdownTimeout,
		Logger:          logger,
	})
	finished, err := dispatcher.Start(dispCtx, in)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()

	logger.Info("Gateway started",
		"addr", cfg.Server.Addr,
		"services", len(services),
		"replay_capacity", config.ByteSize(relayCfg.ReplayCapacity).String(),
		"force_streaming_build", relayCfg.ForceStreamingBuild)

	select {
	case <-ctx.Done():
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	logger.Info("Gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}

	cancelSub()
	select {
	case <-finished:
	case <-time.After(cfg.Mediation.ShutdownTimeout):
		cancelDisp()
		<-finished
	}
	logger.Info("Gateway stopped")
	return nil
}

// newMediator builds the mediation chain. The transport turns inbound
// addressing off for the in-flow pass, so the addressing handler only runs
// from inside the relay. Early build materializes the message before the
// in-flow phases as well.
func newMediator(cfg config.File, r *relay.Relayer, logger message.Logger) mediation.Mediator {
	var m mediation.Mediator = mediation.Echo()
	if cfg.Mediation.TargetURL != "" || len(cfg.Mediation.Endpoints) > 0 {
		m = transport.NewForwarder(transport.ForwarderConfig{
			TargetURL: cfg.Mediation.TargetURL,
			Endpoints: cfg.Mediation.Endpoints,
			Logger:    logger,
		})
	}

	mw := []mediation.Middleware{
		mediation.Recover(),
		mediation.Log(logger),
	}
	if cfg.Mediation.Timeout > 0 {
		mw = append(mw, mediation.Timeout(cfg.Mediation.Timeout))
	}
	if cfg.Relay.EarlyBuild {
		mw = append(mw, mediation.Relay(r, true))
	}
	mw = append(mw, mediation.InFlow(), mediation.Relay(r, false))
	return mediation.Chain(m, mw...)
}
