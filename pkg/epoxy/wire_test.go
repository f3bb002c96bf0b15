package epoxy

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "empty_frame",
			frame: Frame{},
		},
		{
			name:  "single_config_framelet",
			frame: Frame{Framelets: []Framelet{{Type: FrameletConfig}}},
		},
		{
			name: "headers_and_payload",
			frame: Frame{Framelets: []Framelet{
				{Type: FrameletHeaders, Data: encodeHeaders(Headers{ConversationID: 1, PayloadType: PayloadRequest, MethodName: "Echo"})},
				{Type: FrameletPayloadData, Data: []byte("hi")},
			}},
		},
		{
			name: "headers_layer_and_payload",
			frame: Frame{Framelets: []Framelet{
				{Type: FrameletHeaders, Data: encodeHeaders(Headers{ConversationID: 2, PayloadType: PayloadResponse})},
				{Type: FrameletLayerData, Data: []byte("layer")},
				{Type: FrameletPayloadData, Data: []byte("body")},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := encodeFrame(&buf, tt.frame); err != nil {
				t.Fatalf("encodeFrame() error = %v", err)
			}

			got, err := readFrame(bufio.NewReader(&buf))
			if err != nil {
				t.Fatalf("readFrame() error = %v", err)
			}

			if len(got.Framelets) == 0 && len(tt.frame.Framelets) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.frame) {
				t.Errorf("round trip = %+v, want %+v", got, tt.frame)
			}
		})
	}
}

func TestReadFrameEmptyStreamIsEOF(t *testing.T) {
	_, err := readFrame(bufio.NewReader(bytes.NewReader(nil)))
	if !errors.Is(err, io.EOF) {
		t.Errorf("readFrame() error = %v, want io.EOF", err)
	}
}

func TestReadFramePartialHeaderIsMalformed(t *testing.T) {
	// A framelet count that promises one framelet, but the stream ends
	// before the framelet header is complete.
	raw := []byte{0x01, 0x00, 0x4D, 0x45}
	_, err := readFrame(bufio.NewReader(bytes.NewReader(raw)))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("readFrame() error = %v, want ErrMalformedFrame", err)
	}
}

func TestReadFrameOversizeFrameletIsRejected(t *testing.T) {
	var hdr [8]byte
	hdr[0], hdr[1] = 0x01, 0x00 // 1 framelet
	buf := bytes.NewBuffer(hdr[:2])
	buf.Write([]byte{0x4D, 0x45})             // framelet type
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // absurd length

	_, err := readFrame(bufio.NewReader(buf))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("readFrame() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrameTooManyFrameletsIsRejected(t *testing.T) {
	var hdr [2]byte
	hdr[0], hdr[1] = 0xFF, 0xFF // 65535 framelets declared
	_, err := readFrame(bufio.NewReader(bytes.NewReader(hdr[:])))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("readFrame() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestEncodeFrameRejectsTooManyFramelets(t *testing.T) {
	f := Frame{Framelets: make([]Framelet, maxFramelets+1)}
	var buf bytes.Buffer
	if err := encodeFrame(&buf, f); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("encodeFrame() error = %v, want ErrFrameTooLarge", err)
	}
}
