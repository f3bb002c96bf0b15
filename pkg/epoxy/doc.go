// Package epoxy implements the Epoxy connection core: a bidirectional,
// framed, binary RPC transport that multiplexes request/response
// exchanges and fire-and-forget events over a single reliable byte
// stream (conventionally TCP).
//
// Each peer of a connection runs the same [Connection] state machine;
// the only asymmetry between a client and a server is which side opens
// the channel and which side allocates even vs. odd conversation IDs.
//
// This package does not open sockets, dispatch application logic by
// method name, or serialize user payloads: it treats payloads as
// opaque byte ranges. Those concerns are supplied by the caller
// through the [ServiceHost] and [LayerStack] interfaces and a plain
// [net.Conn]; see [pkg/netconn] for a bare-TCP dialer/listener that
// produces one.
//
// [pkg/netconn]: https://pkg.go.dev/github.com/epoxyrpc/epoxy/pkg/netconn
package epoxy
