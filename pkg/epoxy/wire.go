package epoxy

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameletType is the 16-bit wire tag that identifies the shape of a
// [Framelet]'s payload. Values are fixed by the protocol and must match
// across peers.
type FrameletType uint16

// Framelet type tag values. These are opaque
// small integers; the only contract is that they are distinguishable
// and stable.
const (
	FrameletHeaders       FrameletType = 0x454D // EpoxyHeaders
	FrameletLayerData     FrameletType = 0x4C59 // LayerData
	FrameletPayloadData   FrameletType = 0x5044 // PayloadData
	FrameletConfig        FrameletType = 0x434F // EpoxyConfig
	FrameletProtocolError FrameletType = 0x4550 // ProtocolError
)

func (t FrameletType) String() string {
	switch t {
	case FrameletHeaders:
		return "EpoxyHeaders"
	case FrameletLayerData:
		return "LayerData"
	case FrameletPayloadData:
		return "PayloadData"
	case FrameletConfig:
		return "EpoxyConfig"
	case FrameletProtocolError:
		return "ProtocolError"
	default:
		return fmt.Sprintf("0x%04X", uint16(t))
	}
}

// maxFrameletPayload bounds the length field of a single framelet, to
// prevent a corrupt or hostile peer from forcing an unbounded
// allocation while decoding.
const maxFrameletPayload = 32 << 20 // 32 MiB

// maxFramelets bounds the framelet count, for the same reason.
const maxFramelets = 64

// Framelet is a typed, length-prefixed opaque byte blob. Frames are
// ordered sequences of framelets.
type Framelet struct {
	Type FrameletType
	Data []byte
}

// Frame is an ordered sequence of [Framelet]s, encoded on the wire as
// little-endian throughout: a u16
// framelet count followed by that many (u16 tag, u32 length, body)
// triples. There is no overall frame length; the count governs
// termination.
type Frame struct {
	Framelets []Framelet
}

// ErrFrameTooLarge is a protocol violation: a framelet declared a
// length beyond [maxFrameletPayload], or a frame declared a framelet
// count beyond [maxFramelets].
var ErrFrameTooLarge = errors.New("epoxy: frame exceeds implementation limits")

// encodeFrame writes f to w as a single contiguous byte sequence. It
// does not flush; callers that need the bytes to actually reach the
// peer are responsible for flushing the underlying writer, inside the
// same write-lock critical section that called encodeFrame (see
// [socket.writeFrame]).
func encodeFrame(w io.Writer, f Frame) error {
	if len(f.Framelets) > maxFramelets {
		return fmt.Errorf("%w: %d framelets", ErrFrameTooLarge, len(f.Framelets))
	}

	var hdr [8]byte
	binary.LittleEndian.PutUint16(hdr[:2], uint16(len(f.Framelets)))
	if _, err := w.Write(hdr[:2]); err != nil {
		return fmt.Errorf("failed to write frame framelet count: %w", err)
	}

	for _, fl := range f.Framelets {
		if len(fl.Data) > maxFrameletPayload {
			return fmt.Errorf("%w: framelet %s is %d bytes", ErrFrameTooLarge, fl.Type, len(fl.Data))
		}

		binary.LittleEndian.PutUint16(hdr[:2], uint16(fl.Type))
		binary.LittleEndian.PutUint32(hdr[2:6], uint32(len(fl.Data)))
		if _, err := w.Write(hdr[:6]); err != nil {
			return fmt.Errorf("failed to write framelet header for %s: %w", fl.Type, err)
		}

		if len(fl.Data) > 0 {
			if _, err := w.Write(fl.Data); err != nil {
				return fmt.Errorf("failed to write framelet body for %s: %w", fl.Type, err)
			}
		}
	}

	return nil
}

// readFrame reads one frame from r, blocking until it is complete, the
// peer hangs up, or the underlying stream is closed out from under it
// (the latter is how [socket.shutdown] interrupts an in-flight read).
//
// A short read on the framelet count while no bytes have been received
// yet is reported as [io.EOF], which callers treat as a peer hang-up,
// not a protocol violation. Any other short read (a partial count, a
// partial framelet header, or a partial framelet body) is a protocol
// violation, since it means the peer started a frame and abandoned it
// mid-stream.
func readFrame(r *bufio.Reader) (Frame, error) {
	var hdr [8]byte

	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("%w: short read on frame framelet count: %w", ErrMalformedFrame, err)
	}
	count := binary.LittleEndian.Uint16(hdr[:2])
	if count > maxFramelets {
		return Frame{}, fmt.Errorf("%w: %d framelets", ErrFrameTooLarge, count)
	}

	f := Frame{Framelets: make([]Framelet, 0, count)}
	for i := uint16(0); i < count; i++ {
		if _, err := io.ReadFull(r, hdr[:6]); err != nil {
			return Frame{}, fmt.Errorf("%w: short read on framelet header: %w", ErrMalformedFrame, err)
		}
		typ := FrameletType(binary.LittleEndian.Uint16(hdr[:2]))
		length := binary.LittleEndian.Uint32(hdr[2:6])
		if length > maxFrameletPayload {
			return Frame{}, fmt.Errorf("%w: framelet %s declares %d bytes", ErrFrameTooLarge, typ, length)
		}

		var data []byte
		if length > 0 {
			data = make([]byte, length)
			if _, err := io.ReadFull(r, data); err != nil {
				return Frame{}, fmt.Errorf("%w: short read on framelet %s body: %w", ErrMalformedFrame, typ, err)
			}
		}

		f.Framelets = append(f.Framelets, Framelet{Type: typ, Data: data})
	}

	return f, nil
}
