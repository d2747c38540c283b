// Package http is the HTTP side of the gateway: an inbound [Server] that
// hands every request to mediation as a message context without reading its
// body, and a [Forwarder] that relays a message to a backend, streaming the
// untouched bytes when nothing parsed them.
//
// # Server
//
// [Server] implements [http.Handler] and delivers message contexts to a
// channel. The request is held open until mediation settles the back channel:
//
//	srv := http.NewServer(http.Config{Services: services, Configuration: cfg})
//
//	ctx, cancel := context.WithCancel(context.Background())
//	ch, _ := srv.Subscribe(ctx)
//
//	go http.ListenAndServe(":8280", srv)
//
//	for mc := range ch {
//	    relayer.Relay(mc, false)
//	    mc.BackChannel.Acknowledge(mc) // 202 Accepted
//	}
//
// Settling outcomes map to status codes: early acknowledgment is 202, a
// response is written as given, a failure becomes a SOAP fault with 500.
// Requests not settled within AckTimeout get 504; requests pending at
// shutdown get 503.
package http
