// Package netconn produces the connected byte streams that
// [github.com/epoxyrpc/epoxy/pkg/epoxy.Connection] is built around. It
// plays the role of the listener/connector collaborator kept
// external to the connection core: dialing and accepting raw TCP, with
// no knowledge of framing or the handshake.
package netconn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/epoxyrpc/epoxy/internal/logger"
)

// DialOpt configures [Dial], mirroring the functional-option shape used
// throughout this module's transport layer.
type DialOpt func(*net.Dialer)

// WithDialTimeout bounds how long [Dial] waits for the TCP handshake
// itself. It has no effect on the Epoxy handshake that follows; use
// [context.WithTimeout] on the ctx passed to
// [github.com/epoxyrpc/epoxy/pkg/epoxy.Connection.Start] for that.
func WithDialTimeout(d time.Duration) DialOpt {
	return func(dialer *net.Dialer) { dialer.Timeout = d }
}

// WithLocalAddr binds the outgoing connection to a specific local
// address, useful for clients that must present a stable source
// address.
func WithLocalAddr(addr net.Addr) DialOpt {
	return func(dialer *net.Dialer) { dialer.LocalAddr = addr }
}

// Dial opens a TCP connection to address, ready to be handed to
// [github.com/epoxyrpc/epoxy/pkg/epoxy.NewConnection] with
// [github.com/epoxyrpc/epoxy/pkg/epoxy.RoleClient].
func Dial(ctx context.Context, address string, opts ...DialOpt) (net.Conn, error) {
	d := &net.Dialer{}
	for _, opt := range opts {
		opt(d)
	}

	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return conn, nil
}

// Server accepts TCP connections and hands each one to a callback,
// ready to be wrapped with
// [github.com/epoxyrpc/epoxy/pkg/epoxy.NewConnection] with
// [github.com/epoxyrpc/epoxy/pkg/epoxy.RoleServer].
type Server struct {
	ln     net.Listener
	logger *slog.Logger
}

// Listen opens a TCP listener on address ("host:port", or ":port" for
// all interfaces).
func Listen(address string, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{ln: ln, logger: log}, nil
}

// Addr returns the listener's bound address, useful when address was
// passed as ":0" to pick an ephemeral port.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, handing each one to handle on its own goroutine. It returns
// nil when ctx cancellation caused the shutdown, and the Accept error
// otherwise.
func (s *Server) Serve(ctx context.Context, handle func(net.Conn)) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		logger.FromContext(ctx).Debug("accepted connection", slog.String("remote", conn.RemoteAddr().String()))
		go handle(conn)
	}
}

// Close stops accepting new connections without affecting connections
// already handed to handle.
func (s *Server) Close() error {
	return s.ln.Close()
}
