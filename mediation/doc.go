// Package mediation runs mediators over the message contexts a transport
// delivers. A [Dispatcher] consumes the transport channel with a fixed pool
// of workers and settles every back channel it is handed: failures become
// faults, and a mediator that neither acknowledged nor answered gets its
// request acknowledged once it returns.
//
// Middleware wraps mediators with cross-cutting behavior. [Relay] is the one
// the gateway cannot do without: it materializes the message and coordinates
// early acknowledgment before the mediator inspects content.
//
//	m := mediation.Chain(forwarder,
//	    mediation.Recover(),
//	    mediation.Log(logger),
//	    mediation.InFlow(),
//	    mediation.Relay(relayer, false),
//	)
//	done, _ := mediation.NewDispatcher(m, mediation.DispatcherConfig{Concurrency: 16}).Start(ctx, ch)
package mediation
