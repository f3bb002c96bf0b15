package epoxy

// Disposition is the classifier's verdict on a decoded [Frame].
type Disposition int

const (
	ProcessConfig Disposition = iota
	DeliverRequest
	DeliverResponse
	DeliverEvent
	SendProtocolErrorDisposition
	HandleProtocolErrorDisposition
	HangUp
)

func (d Disposition) String() string {
	switch d {
	case ProcessConfig:
		return "ProcessConfig"
	case DeliverRequest:
		return "DeliverRequest"
	case DeliverResponse:
		return "DeliverResponse"
	case DeliverEvent:
		return "DeliverEvent"
	case SendProtocolErrorDisposition:
		return "SendProtocolError"
	case HandleProtocolErrorDisposition:
		return "HandleProtocolError"
	case HangUp:
		return "HangUp"
	default:
		return "Unknown"
	}
}

// Classified is the classifier's full output: a [Disposition] plus
// whatever it managed to extract from the frame along the way.
type Classified struct {
	Disposition Disposition

	Headers    Headers
	Payload    []byte
	LayerData  []byte
	HasLayer   bool
	ProtoError ProtocolError

	// SendCode is set when Disposition == SendProtocolErrorDisposition:
	// the code the engine should report back to the peer before hanging up.
	SendCode ProtocolErrorCode
}

// Classify is a pure function over a decoded [Frame]: it never performs
// I/O and never mutates state. It validates the well-formedness of the
// framelet sequence against the accepted shapes and returns a
// [Disposition] plus the extracted headers/payload/layer slices.
func Classify(f Frame) Classified {
	if len(f.Framelets) == 0 {
		return Classified{Disposition: SendProtocolErrorDisposition, SendCode: CodeMalformedData}
	}

	// Single-framelet shapes: [EpoxyConfig] or [ProtocolError].
	if len(f.Framelets) == 1 {
		switch f.Framelets[0].Type {
		case FrameletConfig:
			return Classified{Disposition: ProcessConfig}
		case FrameletProtocolError:
			pe, err := decodeProtocolError(f.Framelets[0].Data)
			if err != nil || pe.Code == CodeOK {
				return Classified{Disposition: HangUp}
			}
			return Classified{Disposition: HandleProtocolErrorDisposition, ProtoError: pe}
		}
	}

	return classifyMessage(f)
}

// classifyMessage handles the [EpoxyHeaders, PayloadData] and
// [EpoxyHeaders, LayerData, PayloadData] shapes.
func classifyMessage(f Frame) Classified {
	if f.Framelets[0].Type != FrameletHeaders {
		return Classified{Disposition: SendProtocolErrorDisposition, SendCode: CodeMalformedData}
	}

	var headersSeen, layerSeen, payloadSeen bool
	var headers Headers
	var layer, payload []byte

	for _, fl := range f.Framelets {
		switch fl.Type {
		case FrameletHeaders:
			if headersSeen {
				return Classified{Disposition: SendProtocolErrorDisposition, SendCode: CodeMalformedData}
			}
			headersSeen = true
			h, err := decodeHeaders(fl.Data)
			if err != nil {
				return Classified{Disposition: SendProtocolErrorDisposition, SendCode: CodeMalformedData}
			}
			headers = h

		case FrameletLayerData:
			if layerSeen {
				return Classified{Disposition: SendProtocolErrorDisposition, SendCode: CodeMalformedData}
			}
			layerSeen = true
			layer = fl.Data

		case FrameletPayloadData:
			if payloadSeen {
				return Classified{Disposition: SendProtocolErrorDisposition, SendCode: CodeMalformedData}
			}
			payloadSeen = true
			payload = fl.Data

		default:
			return Classified{Disposition: SendProtocolErrorDisposition, SendCode: CodeMalformedData}
		}
	}

	if !payloadSeen {
		return Classified{Disposition: SendProtocolErrorDisposition, SendCode: CodeMalformedData}
	}

	result := Classified{Headers: headers, Payload: payload, LayerData: layer, HasLayer: layerSeen}

	switch headers.PayloadType {
	case PayloadRequest:
		result.Disposition = DeliverRequest
	case PayloadResponse:
		result.Disposition = DeliverResponse
	case PayloadEvent:
		result.Disposition = DeliverEvent
	default:
		return Classified{Disposition: SendProtocolErrorDisposition, SendCode: CodeMalformedData}
	}

	return result
}
