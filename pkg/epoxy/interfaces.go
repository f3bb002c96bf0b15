package epoxy

import "context"

// ServiceHost is the external collaborator that dispatches inbound
// requests and events by method name. The core treats
// it as an opaque pair of hooks; it never inspects method names or
// payload contents itself.
//
// DispatchRequest must not block the caller beyond the time it takes
// to produce a response: the engine invokes it from a detached
// goroutine per inbound request, so a slow or stuck dispatch never
// stalls the receive loop. A panic inside
// DispatchRequest is recovered by the engine and converted to an
// [NewInternalServerError] response; DispatchEvent panics are
// recovered, logged, and otherwise dropped. metrics is a snapshot of
// the connection's own identity and endpoints, taken at dispatch time.
type ServiceHost interface {
	DispatchRequest(ctx context.Context, method string, payload []byte, metrics ConnectionMetricsSnapshot) ([]byte, *ErrorRecord)
	DispatchEvent(ctx context.Context, method string, payload []byte, metrics ConnectionMetricsSnapshot)
}

// Listener carries the server-role-only hooks invoked during the
// handshake and teardown. A client-role
// [Connection] never calls these.
type Listener interface {
	// OnConnected is invoked synchronously during the Created step. A
	// non-nil return rejects the connection with CONNECTION_REJECTED,
	// carrying the returned record as the rejection's details.
	OnConnected(ctx context.Context) *ErrorRecord

	// OnDisconnected is invoked during Disconnecting. details carries
	// the error details of a handshake that ended in a rejection or in
	// a protocol error reported by the peer; it is nil otherwise,
	// including after a protocol error in the Connected state.
	OnDisconnected(ctx context.Context, details *ErrorRecord)
}

// LayerStack is the user-provided transform pipeline applied on send
// and receive per message type. The core invokes it
// as two opaque hooks and never interprets what they return beyond the
// error-short-circuit contract.
type LayerStack interface {
	// OnSend runs before a frame is written. A non-nil error
	// short-circuits the send: for requests it becomes the
	// locally-completed response, for events the send is abandoned.
	OnSend(ctx context.Context, msgType PayloadType) (layerData []byte, err *ErrorRecord)

	// OnReceive runs after classification, before dispatch/delivery. A
	// non-nil error replaces the inbound message for
	// requests/responses, or drops the event.
	OnReceive(ctx context.Context, msgType PayloadType, layerData []byte) *ErrorRecord
}

// NopLayerStack is a [LayerStack] that performs no transformation. It
// is a convenient default for connections that don't need one.
type NopLayerStack struct{}

func (NopLayerStack) OnSend(context.Context, PayloadType) ([]byte, *ErrorRecord)  { return nil, nil }
func (NopLayerStack) OnReceive(context.Context, PayloadType, []byte) *ErrorRecord { return nil }

// NopListener accepts every incoming connection and ignores
// disconnection notifications. Useful for servers that don't need a
// connection gate.
type NopListener struct{}

func (NopListener) OnConnected(context.Context) *ErrorRecord     { return nil }
func (NopListener) OnDisconnected(context.Context, *ErrorRecord) {}
