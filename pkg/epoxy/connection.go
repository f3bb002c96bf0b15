package epoxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/epoxyrpc/epoxy/internal/logger"
)

// Option configures a [Connection] at construction time.
type Option func(*Connection)

// WithListener installs the server-role connect/disconnect gate. Has no
// effect on a client-role connection.
func WithListener(l Listener) Option {
	return func(c *Connection) { c.listener = l }
}

// WithLayerStack installs the send/receive transform pipeline.
func WithLayerStack(l LayerStack) Option {
	return func(c *Connection) { c.layers = l }
}

// WithMetricsSink installs the sink that receives the one
// [ConnectionMetrics] record emitted at teardown.
func WithMetricsSink(s MetricsSink) Option {
	return func(c *Connection) { c.sink = s }
}

// WithLogger installs a structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// Connection is the Epoxy connection engine: the handshake and
// steady-state state machine, the send paths, the receive loop, and
// teardown. Exactly one goroutine — the engine
// goroutine started by [Connection.Start] — reads from the socket and
// mutates state; every other method only ever observes state or hands
// work to the engine goroutine via the socket, the correlator, or the
// conversation-id allocator, all of which are independently
// concurrency-safe.
type Connection struct {
	role Role
	sock *socket
	host ServiceHost

	listener Listener
	layers   LayerStack
	sink     MetricsSink
	logger   *slog.Logger

	state atomic.Int32

	ids  *conversationIDs
	corr *correlator

	metrics *metricsRecorder

	idsExhausted atomic.Bool

	runOnce sync.Once

	startOnce sync.Once
	startDone chan struct{}
	startErr  error

	stopOnce   sync.Once
	stopSignal chan struct{}
	doneCh     chan struct{}
}

// NewConnection builds a connection engine around an already-connected
// stream. host is mandatory; every other collaborator defaults to a
// no-op implementation via [Option]s. The engine does not start running
// until [Connection.Start] is called.
func NewConnection(conn net.Conn, role Role, host ServiceHost, opts ...Option) *Connection {
	c := &Connection{
		role:       role,
		sock:       newSocket(conn),
		host:       host,
		listener:   NopListener{},
		layers:     NopLayerStack{},
		sink:       NopMetricsSink{},
		logger:     slog.Default(),
		ids:        newConversationIDs(role),
		corr:       newCorrelator(),
		startDone:  make(chan struct{}),
		stopSignal: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = newMetricsRecorder(role, localAddrString(conn), remoteAddrString(conn), time.Now())
	c.state.Store(int32(StateCreated))
	return c
}

func localAddrString(conn net.Conn) string {
	if a := conn.LocalAddr(); a != nil {
		return a.String()
	}
	return ""
}

func remoteAddrString(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// State reports the connection's current state. Safe to call from any
// goroutine.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Connection) resolveStart(err error) {
	c.startOnce.Do(func() {
		c.startErr = err
		close(c.startDone)
	})
}

// Start launches the engine goroutine on first call and blocks until
// the handshake resolves. It returns nil once the state reaches
// [StateConnected], and a [*ProtocolError] when the handshake ended in a
// rejection or in a protocol error reported by the peer; Start always
// fails once such a handshake error was captured, whichever path
// reached teardown. A handshake that ends any other way (the peer hangs
// up, an I/O error, or a protocol violation detected on this side) also
// returns nil, with the connection already torn down. If ctx is cancelled first, Start returns ctx.Err() without
// aborting the in-progress handshake; call [Connection.Stop] to
// actually tear down.
func (c *Connection) Start(ctx context.Context) error {
	c.runOnce.Do(func() { go c.run() })

	select {
	case <-c.startDone:
		return c.startErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop requests teardown and blocks until the engine reaches
// [StateDisconnected]. Valid from any state, including before Start has
// returned. Stop itself never fails; ctx only bounds how long the
// caller waits for teardown to finish.
func (c *Connection) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopSignal)
		c.sock.shutdown()
	})

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) stopRequested() bool {
	select {
	case <-c.stopSignal:
		return true
	default:
		return false
	}
}

func (c *Connection) gracefulReason() ShutdownReason {
	if c.role == RoleServer {
		return ShutdownServerGraceful
	}
	return ShutdownClientGraceful
}

// RequestResponse sends a request and blocks for its matching response.
// The pending slot is registered before the frame is
// written, so a response racing ahead of write completion is still
// matched.
func (c *Connection) RequestResponse(ctx context.Context, method string, payload []byte) ([]byte, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	convID, ok := c.ids.alloc()
	if !ok {
		c.failConversationIDsExhausted()
		return nil, ErrConversationIDExhausted
	}

	layerData, layerErr := c.layers.OnSend(ctx, PayloadRequest)
	if layerErr != nil {
		return nil, layerErr
	}

	slot := c.corr.add(convID)

	framelets := []Framelet{{Type: FrameletHeaders, Data: encodeHeaders(Headers{
		ConversationID: convID,
		PayloadType:    PayloadRequest,
		MethodName:     method,
	})}}
	if layerData != nil {
		framelets = append(framelets, Framelet{Type: FrameletLayerData, Data: layerData})
	}
	framelets = append(framelets, Framelet{Type: FrameletPayloadData, Data: payload})

	if err := c.sock.writeFrame(Frame{Framelets: framelets}); err != nil {
		c.corr.complete(convID, Envelope{Err: NewTransportError(fmt.Sprintf("failed to write request: %v", err))})
	}

	select {
	case env := <-slot.completion:
		if env.Err != nil {
			return nil, env.Err
		}
		return env.Payload, nil
	case <-ctx.Done():
		// Removing the slot burns the conversation
		// id; a late response for it is dropped as unmatched.
		c.corr.remove(convID)
		return nil, ctx.Err()
	}
}

// FireEvent sends a fire-and-forget event. It returns once the frame is
// written; there is no response to await.
func (c *Connection) FireEvent(ctx context.Context, method string, payload []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	convID, ok := c.ids.alloc()
	if !ok {
		c.failConversationIDsExhausted()
		return ErrConversationIDExhausted
	}

	layerData, layerErr := c.layers.OnSend(ctx, PayloadEvent)
	if layerErr != nil {
		return layerErr
	}

	framelets := []Framelet{{Type: FrameletHeaders, Data: encodeHeaders(Headers{
		ConversationID: convID,
		PayloadType:    PayloadEvent,
		MethodName:     method,
	})}}
	if layerData != nil {
		framelets = append(framelets, Framelet{Type: FrameletLayerData, Data: layerData})
	}
	framelets = append(framelets, Framelet{Type: FrameletPayloadData, Data: payload})

	if err := c.sock.writeFrame(Frame{Framelets: framelets}); err != nil {
		return NewTransportError(fmt.Sprintf("failed to write event: %v", err))
	}
	return nil
}

// run is the engine goroutine's entire lifetime: handshake, steady
// state, teardown. It is started at most once, by the first call to
// [Connection.Start].
func (c *Connection) run() {
	defer close(c.doneCh)

	ctx := logger.InContext(context.Background(), c.logger)

	reason := ShutdownUnknown
	state, handshakeErr := c.doHandshake(ctx, &reason)
	c.setState(state)

	if state == StateConnected {
		c.resolveStart(nil)
		state = c.doConnected(ctx, &reason)
		c.setState(state)
	}

	c.teardown(ctx, handshakeErr, reason)
}

func (c *Connection) teardown(ctx context.Context, handshakeErr *ProtocolError, reason ShutdownReason) {
	c.setState(StateDisconnecting)
	c.sock.shutdown()

	if c.role == RoleServer {
		var details *ErrorRecord
		if handshakeErr != nil {
			details = handshakeErr.Details
		}
		c.listener.OnDisconnected(ctx, details)
	}

	c.corr.shutdown()
	c.setState(StateDisconnected)

	// Start() always fails once a handshake error was captured, even if
	// some earlier codepath already tried to resolve it successfully.
	if handshakeErr != nil {
		c.resolveStart(handshakeErr)
	} else {
		c.resolveStart(nil)
	}

	c.sink.Record(c.metrics.finish(reason, time.Now()))
}

// doHandshake runs the client or server handshake variant to
// completion, returning the state the engine should enter next
// (StateConnected on success, StateDisconnecting otherwise) and, if the
// handshake ended in a protocol error reported by the peer or in a
// rejection this side sent, that error for [Connection.Start] to fail
// with.
func (c *Connection) doHandshake(ctx context.Context, reason *ShutdownReason) (State, *ProtocolError) {
	if c.role == RoleServer {
		return c.doServerHandshake(ctx, reason)
	}
	return c.doClientHandshake(ctx, reason)
}

func (c *Connection) doClientHandshake(ctx context.Context, reason *ShutdownReason) (State, *ProtocolError) {
	c.setState(StateClientSendConfig)
	if err := c.sock.writeFrame(configFrame()); err != nil {
		*reason = ShutdownNetworkError
		return StateDisconnecting, nil
	}

	c.setState(StateClientExpectConfig)
	return c.awaitHandshakeConfig(ctx, reason)
}

func (c *Connection) doServerHandshake(ctx context.Context, reason *ShutdownReason) (State, *ProtocolError) {
	c.setState(StateCreated)
	if rejection := c.listener.OnConnected(ctx); rejection != nil {
		*reason = ShutdownServiceInternalError
		// The client writes its config frame without waiting for us, so
		// consume it before replying: on a synchronous stream such as
		// net.Pipe both sides would otherwise block writing at once.
		_, _ = c.sock.readFrame()
		state := c.sendProtocolErrorAndDisconnect(CodeConnectionRejected, rejection)
		return state, &ProtocolError{Code: CodeConnectionRejected, Details: rejection}
	}

	c.setState(StateServerExpectConfig)
	state, pe := c.awaitHandshakeConfig(ctx, reason)
	if state != StateConnected {
		return state, pe
	}

	c.setState(StateServerSendConfig)
	if err := c.sock.writeFrame(configFrame()); err != nil {
		*reason = ShutdownNetworkError
		return StateDisconnecting, nil
	}
	return StateConnected, nil
}

// awaitHandshakeConfig reads the frame the peer owes us during
// {Client,Server}ExpectConfig and maps it to the next handshake state.
func (c *Connection) awaitHandshakeConfig(ctx context.Context, reason *ShutdownReason) (State, *ProtocolError) {
	frame, err := c.sock.readFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			*reason = c.gracefulReason()
		} else {
			*reason = ShutdownNetworkError
		}
		return StateDisconnecting, nil
	}

	cls := Classify(frame)
	switch cls.Disposition {
	case ProcessConfig:
		return StateConnected, nil

	case HandleProtocolErrorDisposition:
		*reason = ShutdownClientProtocolError
		pe := cls.ProtoError
		return StateDisconnecting, &pe

	case HangUp:
		*reason = ShutdownClientProtocolError
		return StateDisconnecting, nil

	default:
		// "any other disposition" during a handshake-expect state is a
		// protocol violation, regardless of what the classifier itself
		// would have us reply with.
		*reason = ShutdownClientProtocolError
		state := c.sendProtocolErrorAndDisconnect(CodeProtocolViolated, nil)
		return state, nil
	}
}

func configFrame() Frame {
	return Frame{Framelets: []Framelet{{Type: FrameletConfig}}}
}

// sendProtocolErrorAndDisconnect enters StateSendProtocolError, writes
// the ProtocolError frame on a best-effort basis, and returns
// StateDisconnecting.
func (c *Connection) sendProtocolErrorAndDisconnect(code ProtocolErrorCode, details *ErrorRecord) State {
	c.setState(StateSendProtocolError)
	body, err := encodeProtocolError(ProtocolError{Code: code, Details: details})
	if err == nil {
		_ = c.sock.writeFrame(Frame{Framelets: []Framelet{{Type: FrameletProtocolError, Data: body}}})
	}
	return StateDisconnecting
}

// failConversationIDsExhausted marks the connection fatally broken
// because its conversation-id counter wrapped, and kicks the receive
// loop into the same SendProtocolError -> Disconnecting path a
// locally-detected protocol violation takes. Safe to call from any
// goroutine (RequestResponse/FireEvent callers, not the engine
// goroutine); idempotent. It does not set state directly: only the
// engine goroutine does that, once doConnected observes the read
// failure this causes.
func (c *Connection) failConversationIDsExhausted() {
	if !c.idsExhausted.CompareAndSwap(false, true) {
		return
	}
	body, err := encodeProtocolError(ProtocolError{Code: CodeProtocolViolated})
	if err == nil {
		_ = c.sock.writeFrame(Frame{Framelets: []Framelet{{Type: FrameletProtocolError, Data: body}}})
	}
	c.sock.shutdown()
}

// doConnected runs the steady-state receive loop until a terminal
// disposition or I/O failure.
func (c *Connection) doConnected(ctx context.Context, reason *ShutdownReason) State {
	for {
		frame, err := c.sock.readFrame()
		if err != nil {
			switch {
			case c.idsExhausted.Load():
				*reason = ShutdownClientProtocolError
			case errors.Is(err, io.EOF):
				*reason = c.gracefulReason()
			case c.stopRequested() || c.sock.isShuttingDown():
				*reason = c.gracefulReason()
			default:
				*reason = ShutdownNetworkError
			}
			return StateDisconnecting
		}

		cls := Classify(frame)
		switch cls.Disposition {
		case DeliverRequest:
			if cls.Headers.ErrorCode != 0 {
				*reason = ShutdownClientProtocolError
				return c.sendProtocolErrorAndDisconnect(CodeProtocolViolated, nil)
			}
			c.handleInboundRequest(ctx, cls)

		case DeliverEvent:
			c.handleInboundEvent(ctx, cls)

		case DeliverResponse:
			c.handleInboundResponse(ctx, cls)

		case SendProtocolErrorDisposition:
			*reason = ShutdownClientProtocolError
			return c.sendProtocolErrorAndDisconnect(cls.SendCode, nil)

		case HandleProtocolErrorDisposition, HangUp:
			*reason = ShutdownClientProtocolError
			return StateDisconnecting

		default:
			*reason = ShutdownBondInternalError
			return c.sendProtocolErrorAndDisconnect(CodeInternalError, nil)
		}
	}
}

func (c *Connection) handleInboundRequest(ctx context.Context, cls Classified) {
	var layerBlob []byte
	if cls.HasLayer {
		layerBlob = cls.LayerData
	}
	layerErr := c.layers.OnReceive(ctx, PayloadRequest, layerBlob)

	go c.dispatchRequest(ctx, cls.Headers, cls.Payload, layerErr)
}

func (c *Connection) dispatchRequest(ctx context.Context, headers Headers, payload []byte, layerErr *ErrorRecord) {
	var respPayload []byte
	var respErr *ErrorRecord

	if layerErr != nil {
		respErr = layerErr
	} else {
		respPayload, respErr = c.runHostDispatchRequest(ctx, headers.MethodName, payload, c.metrics.snapshot())
	}

	outLayer, sendErr := c.layers.OnSend(ctx, PayloadResponse)
	if sendErr != nil {
		respErr = sendErr
		respPayload = nil
		outLayer = nil
	}

	outHeaders := Headers{ConversationID: headers.ConversationID, PayloadType: PayloadResponse}
	var body []byte
	if respErr != nil {
		outHeaders.ErrorCode = respErr.Code
		body = encodeErrorPayload(respErr)
	} else {
		body = respPayload
	}

	framelets := []Framelet{{Type: FrameletHeaders, Data: encodeHeaders(outHeaders)}}
	if outLayer != nil {
		framelets = append(framelets, Framelet{Type: FrameletLayerData, Data: outLayer})
	}
	framelets = append(framelets, Framelet{Type: FrameletPayloadData, Data: body})

	// A write failure here is silently absorbed: the socket is already
	// broken, and the next receive-loop read will observe that and
	// drive teardown.
	_ = c.sock.writeFrame(Frame{Framelets: framelets})
}

// runHostDispatchRequest isolates a panicking dispatch so it can't take
// down the engine goroutine: dispatch exceptions are
// isolated per detached task and converted to an InternalServerError
// reply.
func (c *Connection) runHostDispatchRequest(ctx context.Context, method string, payload []byte, metrics ConnectionMetricsSnapshot) (resp []byte, errRec *ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			errRec = NewInternalServerError(fmt.Sprintf("panic in request dispatch for %q: %v", method, r))
			resp = nil
		}
	}()
	return c.host.DispatchRequest(ctx, method, payload, metrics)
}

func (c *Connection) handleInboundEvent(ctx context.Context, cls Classified) {
	var layerBlob []byte
	if cls.HasLayer {
		layerBlob = cls.LayerData
	}
	layerErr := c.layers.OnReceive(ctx, PayloadEvent, layerBlob)
	if layerErr != nil {
		logger.FromContext(ctx).WarnContext(ctx, "dropping event after layer error",
			"method", cls.Headers.MethodName, "error", layerErr)
		return
	}

	go c.runHostDispatchEvent(ctx, cls.Headers.MethodName, cls.Payload, c.metrics.snapshot())
}

func (c *Connection) runHostDispatchEvent(ctx context.Context, method string, payload []byte, metrics ConnectionMetricsSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).ErrorContext(ctx, "panic in event dispatch", "method", method, "panic", r)
		}
	}()
	c.host.DispatchEvent(ctx, method, payload, metrics)
}

func (c *Connection) handleInboundResponse(ctx context.Context, cls Classified) {
	env := Envelope{Payload: cls.Payload}
	if cls.Headers.ErrorCode != 0 {
		env = Envelope{Err: decodeErrorPayload(cls.Payload)}
	}

	if layerErr := c.layers.OnReceive(ctx, PayloadResponse, cls.LayerData); layerErr != nil {
		env = Envelope{Err: layerErr}
	}

	if !c.corr.complete(cls.Headers.ConversationID, env) {
		logger.FromContext(ctx).WarnContext(ctx, "unmatched response",
			"conversation_id", cls.Headers.ConversationID)
	}
}
