package epoxy

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame marks a locally-detected protocol violation found
// while decoding bytes off the wire (as opposed to one found later by
// [Classify], which works on an already-decoded [Frame]).
var ErrMalformedFrame = errors.New("epoxy: malformed frame")

// ProtocolErrorCode enumerates the reasons a peer can be told (or can
// tell us) that something went wrong at the protocol level, as opposed
// to an application-level error carried inside a response payload.
// Numeric assignments are part of the wire contract and must not
// change.
type ProtocolErrorCode int32

const (
	CodeOK                    ProtocolErrorCode = 0
	CodeInternalError         ProtocolErrorCode = 1
	CodeConnectionRejected    ProtocolErrorCode = 2
	CodeProtocolViolated      ProtocolErrorCode = 3
	CodeConversationIDUnknown ProtocolErrorCode = 4
	CodeMalformedData         ProtocolErrorCode = 5
)

func (c ProtocolErrorCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInternalError:
		return "INTERNAL_ERROR"
	case CodeConnectionRejected:
		return "CONNECTION_REJECTED"
	case CodeProtocolViolated:
		return "PROTOCOL_VIOLATED"
	case CodeConversationIDUnknown:
		return "CONVERSATION_ID_UNKNOWN"
	case CodeMalformedData:
		return "MALFORMED_DATA"
	default:
		return fmt.Sprintf("ProtocolErrorCode(%d)", int32(c))
	}
}

// ErrorRecord is the polymorphic error record: a code, a message, and
// an optional nested error (or a list of them, for the aggregate
// case). The core never interprets or synthesizes user-domain errors
// beyond this shape: it only builds [NewTransportError] and
// [NewInternalServerError] values at a few well-defined points.
type ErrorRecord struct {
	Code    int32         `json:"code"`
	Message string        `json:"message"`
	Inner   *ErrorRecord  `json:"inner,omitempty"`
	Inners  []ErrorRecord `json:"inners,omitempty"` // AggregateError.
}

func (e *ErrorRecord) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("epoxy: error %d: %s", e.Code, e.Message)
}

// transportErrorCode is the conventional code used for connection-level
// failures that were never reported by the peer as a protocol error,
// e.g. an abrupt socket close while a request was outstanding.
const transportErrorCode = -1

// NewTransportError builds the synthetic error record completed onto
// any pending request when the connection is torn down before a real
// response arrives.
func NewTransportError(message string) *ErrorRecord {
	return &ErrorRecord{Code: transportErrorCode, Message: message}
}

// internalServerErrorCode is the conventional code for dispatch panics
// and other unexpected failures inside the service host.
const internalServerErrorCode = -2

// NewInternalServerError builds the error record a request receives
// when the service host's dispatch fails unexpectedly.
func NewInternalServerError(message string) *ErrorRecord {
	return &ErrorRecord{Code: internalServerErrorCode, Message: message}
}

// ProtocolError is returned by [Connection.Start] when the handshake
// was rejected or the peer reported a protocol error during it, and is the payload
// carried by a ProtocolError framelet.
type ProtocolError struct {
	Code    ProtocolErrorCode
	Details *ErrorRecord
}

func (e *ProtocolError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("epoxy: protocol error %s: %s", e.Code, e.Details.Message)
	}
	return fmt.Sprintf("epoxy: protocol error %s", e.Code)
}

// ErrNotConnected is returned by [Connection.RequestResponse] and
// [Connection.FireEvent] when called outside the Connected state.
var ErrNotConnected = errors.New("epoxy: connection is not in the Connected state")

// ErrConversationIDExhausted marks the fatal condition in which a
// connection's monotonic conversation-id counter would wrap past the
// signed-positive range.
var ErrConversationIDExhausted = errors.New("epoxy: conversation id space exhausted")
