// Package udp serves the agent over UDP datagrams: one CBOR frame per
// datagram in, at most one status frame per datagram out.
//
// Requests from one peer address are handled and answered in the order they
// arrive, so a client may pipeline CREATE_CLIENT, CREATE and DELETE without
// waiting for each status. Ordering across peers is not defined. A peer that
// reconnects from a new address starts a new stream.
//
// Example:
//
//	srv := udp.New(dispatch.New(a), udp.WithLogger(logger))
//	if err := srv.ListenAndServe(ctx, ":7400"); err != nil {
//	    log.Fatal(err)
//	}
//
// Serve returns nil once ctx is canceled and every in-flight datagram has
// been answered.
package udp
