package epoxy

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// PayloadType identifies whether a headers framelet belongs to a
// request, a response, or a fire-and-forget event.
type PayloadType uint8

const (
	PayloadRequest PayloadType = iota
	PayloadResponse
	PayloadEvent
)

func (t PayloadType) String() string {
	switch t {
	case PayloadRequest:
		return "Request"
	case PayloadResponse:
		return "Response"
	case PayloadEvent:
		return "Event"
	default:
		return fmt.Sprintf("PayloadType(%d)", uint8(t))
	}
}

// Headers is the decoded form of an EpoxyHeaders framelet.
// ErrorCode == 0 (OK) means the accompanying payload is a user
// message; any other value means it is an [ErrorRecord].
type Headers struct {
	ConversationID uint64
	PayloadType    PayloadType
	MethodName     string // Empty for responses.
	ErrorCode      int32
}

// encodeHeaders produces the wire body of an EpoxyHeaders framelet:
// conversation_id (u64 LE), payload_type (u8), method_name
// (u16-length-prefixed UTF-8), error_code (i32 LE).
func encodeHeaders(h Headers) []byte {
	method := []byte(h.MethodName)
	buf := make([]byte, 8+1+2+len(method)+4)

	binary.LittleEndian.PutUint64(buf[0:8], h.ConversationID)
	buf[8] = byte(h.PayloadType)
	binary.LittleEndian.PutUint16(buf[9:11], uint16(len(method)))
	copy(buf[11:11+len(method)], method)
	binary.LittleEndian.PutUint32(buf[11+len(method):], uint32(h.ErrorCode))

	return buf
}

func decodeHeaders(data []byte) (Headers, error) {
	if len(data) < 8+1+2 {
		return Headers{}, fmt.Errorf("%w: EpoxyHeaders too short (%d bytes)", ErrMalformedFrame, len(data))
	}

	h := Headers{
		ConversationID: binary.LittleEndian.Uint64(data[0:8]),
		PayloadType:    PayloadType(data[8]),
	}

	methodLen := int(binary.LittleEndian.Uint16(data[9:11]))
	offset := 11 + methodLen
	if len(data) < offset+4 {
		return Headers{}, fmt.Errorf("%w: EpoxyHeaders truncated method name or error code", ErrMalformedFrame)
	}
	h.MethodName = string(data[11:offset])
	h.ErrorCode = int32(binary.LittleEndian.Uint32(data[offset : offset+4])) //nolint:gosec // bounds checked above

	return h, nil
}

// encodeProtocolError produces the wire body of a ProtocolError
// framelet: error_code (i32 LE) followed by an optional JSON-encoded
// [ErrorRecord].
func encodeProtocolError(pe ProtocolError) ([]byte, error) {
	var details []byte
	if pe.Details != nil {
		var err error
		details, err = json.Marshal(pe.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode protocol error details: %w", err)
		}
	}

	buf := make([]byte, 4+len(details))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pe.Code))
	copy(buf[4:], details)
	return buf, nil
}

func decodeProtocolError(data []byte) (ProtocolError, error) {
	if len(data) < 4 {
		return ProtocolError{}, fmt.Errorf("%w: ProtocolError too short", ErrMalformedFrame)
	}

	pe := ProtocolError{Code: ProtocolErrorCode(int32(binary.LittleEndian.Uint32(data[0:4])))} //nolint:gosec

	if len(data) > 4 {
		var rec ErrorRecord
		if err := json.Unmarshal(data[4:], &rec); err == nil {
			pe.Details = &rec
		}
	}

	return pe, nil
}

// decodeErrorPayload best-effort parses a response/request payload as
// an [ErrorRecord], for when the accompanying headers carry a non-OK
// error_code. A parse failure never aborts delivery:
// the consumer sees a best-effort error describing the decode failure.
func decodeErrorPayload(data []byte) *ErrorRecord {
	var rec ErrorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return &ErrorRecord{Code: int32(CodeMalformedData), Message: fmt.Sprintf("failed to decode error payload: %v", err)}
	}
	return &rec
}

func encodeErrorPayload(rec *ErrorRecord) []byte {
	b, err := json.Marshal(rec)
	if err != nil {
		// rec is our own well-formed type; this should never happen.
		return []byte(`{"code":-2,"message":"failed to encode error record"}`)
	}
	return b
}
