package epoxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

type fakeHost struct {
	mu          sync.Mutex
	eventsSeen  []string
	eventSignal chan string
}

func newFakeHost() *fakeHost {
	return &fakeHost{eventSignal: make(chan string, 8)}
}

func (h *fakeHost) DispatchRequest(_ context.Context, method string, payload []byte, _ ConnectionMetricsSnapshot) ([]byte, *ErrorRecord) {
	if method == "Echo" {
		return payload, nil
	}
	return nil, NewInternalServerError("unknown method: " + method)
}

func (h *fakeHost) DispatchEvent(_ context.Context, method string, _ []byte, _ ConnectionMetricsSnapshot) {
	h.mu.Lock()
	h.eventsSeen = append(h.eventsSeen, method)
	h.mu.Unlock()
	h.eventSignal <- method
}

type rejectingListener struct {
	NopListener
	err *ErrorRecord
}

func (l rejectingListener) OnConnected(context.Context) *ErrorRecord { return l.err }

type captureSink struct {
	mu      sync.Mutex
	records []ConnectionMetrics
}

func (s *captureSink) Record(m ConnectionMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, m)
}

func (s *captureSink) last() ConnectionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return ConnectionMetrics{}
	}
	return s.records[len(s.records)-1]
}

func isGraceful(r ShutdownReason) bool {
	return r == ShutdownClientGraceful || r == ShutdownServerGraceful
}

func TestConnectionCleanRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ctx := context.Background()

	clientSink, serverSink := &captureSink{}, &captureSink{}
	client := NewConnection(clientConn, RoleClient, newFakeHost(), WithMetricsSink(clientSink))
	server := NewConnection(serverConn, RoleServer, newFakeHost(), WithMetricsSink(serverSink))

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Start(ctx) }()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("client.Start() error = %v", err)
	}
	if err := <-serverErrCh; err != nil {
		t.Fatalf("server.Start() error = %v", err)
	}

	got, err := client.RequestResponse(ctx, "Echo", []byte("hi"))
	if err != nil {
		t.Fatalf("RequestResponse() error = %v", err)
	}
	if string(got) != "hi" {
		t.Errorf("RequestResponse() = %q, want %q", got, "hi")
	}

	if err := client.Stop(ctx); err != nil {
		t.Fatalf("client.Stop() error = %v", err)
	}
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("server.Stop() error = %v", err)
	}

	if r := clientSink.last().ShutdownReason; !isGraceful(r) {
		t.Errorf("client shutdown reason = %v, want a graceful reason", r)
	}
	if r := serverSink.last().ShutdownReason; !isGraceful(r) {
		t.Errorf("server shutdown reason = %v, want a graceful reason", r)
	}
}

func TestConnectionHandshakeRejection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ctx := context.Background()

	rejection := &ErrorRecord{Code: 42, Message: "nope"}
	server := NewConnection(serverConn, RoleServer, newFakeHost(), WithListener(rejectingListener{err: rejection}))
	client := NewConnection(clientConn, RoleClient, newFakeHost())

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Start(ctx) }()

	err := client.Start(ctx)
	if err == nil {
		t.Fatal("client.Start() error = nil, want a protocol error")
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("client.Start() error = %v (%T), want *ProtocolError", err, err)
	}
	if pe.Code != CodeConnectionRejected {
		t.Errorf("ProtocolError.Code = %v, want CodeConnectionRejected", pe.Code)
	}
	if pe.Details == nil || pe.Details.Code != 42 || pe.Details.Message != "nope" {
		t.Errorf("ProtocolError.Details = %+v, want {42 nope}", pe.Details)
	}

	<-serverErrCh

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Stop(stopCtx); err != nil {
		t.Fatalf("client.Stop() error = %v", err)
	}
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("server.Stop() error = %v", err)
	}
}

func TestConnectionFireEventDelivered(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ctx := context.Background()

	serverHost := newFakeHost()
	server := NewConnection(serverConn, RoleServer, serverHost)
	client := NewConnection(clientConn, RoleClient, newFakeHost())

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Start(ctx) }()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client.Start() error = %v", err)
	}
	<-serverErrCh

	if err := client.FireEvent(ctx, "Ping", []byte("ping")); err != nil {
		t.Fatalf("FireEvent() error = %v", err)
	}

	select {
	case method := <-serverHost.eventSignal:
		if method != "Ping" {
			t.Errorf("dispatched event method = %q, want %q", method, "Ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event dispatch")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Stop(stopCtx)
	_ = server.Stop(stopCtx)
}

func TestConnectionRequestResponseRequiresConnectedState(t *testing.T) {
	clientConn, _ := net.Pipe()
	client := NewConnection(clientConn, RoleClient, newFakeHost())

	_, err := client.RequestResponse(context.Background(), "Echo", []byte("hi"))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("RequestResponse() before Start error = %v, want ErrNotConnected", err)
	}
}

func TestConnectionAbruptCloseFailsPendingRequest(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ctx := context.Background()

	// A host that never responds, so the request is still pending when
	// the socket goes away.
	blockingHost := blockingHostType{release: make(chan struct{})}
	server := NewConnection(serverConn, RoleServer, blockingHost)
	client := NewConnection(clientConn, RoleClient, newFakeHost())

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Start(ctx) }()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client.Start() error = %v", err)
	}
	<-serverErrCh

	resultCh := make(chan error, 1)
	go func() {
		_, err := client.RequestResponse(ctx, "Echo", []byte("hi"))
		resultCh <- err
	}()

	// Give the request time to be written and registered, then sever
	// the connection abruptly, as the OS would on a peer crash.
	time.Sleep(50 * time.Millisecond)
	_ = clientConn.Close()

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("RequestResponse() error = nil, want a transport error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pending request to fail")
	}

	close(blockingHost.release)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Stop(stopCtx)
	_ = server.Stop(stopCtx)
}

func TestConnectionConversationIDExhaustionTearsDownConnection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ctx := context.Background()

	clientSink := &captureSink{}
	client := NewConnection(clientConn, RoleClient, newFakeHost(), WithMetricsSink(clientSink))
	server := NewConnection(serverConn, RoleServer, newFakeHost())

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Start(ctx) }()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client.Start() error = %v", err)
	}
	<-serverErrCh

	// Force the next allocation to wrap, as if the counter had already
	// climbed through the entire signed-positive range.
	client.ids.next.Store(1<<63 - 2)

	_, err := client.RequestResponse(ctx, "Echo", []byte("hi"))
	if !errors.Is(err, ErrConversationIDExhausted) {
		t.Fatalf("RequestResponse() error = %v, want ErrConversationIDExhausted", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Stop(stopCtx); err != nil {
		t.Fatalf("client.Stop() error = %v", err)
	}
	_ = server.Stop(stopCtx)

	if got := client.State(); got != StateDisconnected {
		t.Errorf("client.State() = %v, want StateDisconnected", got)
	}
	if r := clientSink.last().ShutdownReason; r != ShutdownClientProtocolError {
		t.Errorf("client shutdown reason = %v, want ShutdownClientProtocolError", r)
	}
}

type blockingHostType struct {
	release chan struct{}
}

func (h blockingHostType) DispatchRequest(_ context.Context, _ string, payload []byte, _ ConnectionMetricsSnapshot) ([]byte, *ErrorRecord) {
	<-h.release
	return payload, nil
}

func (h blockingHostType) DispatchEvent(context.Context, string, []byte, ConnectionMetricsSnapshot) {}
