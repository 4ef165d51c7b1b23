// Package frames implements the AMQP 1.0 frame layer: the 8-byte frame
// header common to every frame type, and the performative/SASL frame bodies
// that ride inside it. See
// http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transport-v1.0-os.html#doc-idp30640
package frames

import (
	"fmt"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
)

const (
	// TypeAMQP marks a frame carrying an AMQP performative.
	TypeAMQP uint8 = 0x0
	// TypeSASL marks a frame carrying a SASL negotiation frame.
	TypeSASL uint8 = 0x1
)

// HeaderSize is the fixed size of the frame header (size, data offset,
// type, channel) that precedes every frame's extended header and body.
const HeaderSize = 8

// Header is the fixed 8-byte prefix common to every AMQP frame.
type Header struct {
	// Size is the total frame size in bytes, including this header.
	Size uint32
	// DataOffset is the 4-byte-word offset from the start of the frame to
	// the start of the frame body, accounting for any extended header.
	DataOffset uint8
	// FrameType is TypeAMQP or TypeSASL.
	FrameType uint8
	// Channel is the channel this frame belongs to (always 0 for SASL).
	Channel uint16
}

// Marshal encodes the header, patching Size from the caller-supplied value.
func (h Header) Marshal(wr *buffer.Buffer) {
	wr.AppendUint32(h.Size)
	wr.AppendByte(h.DataOffset)
	wr.AppendByte(h.FrameType)
	wr.AppendUint16(h.Channel)
}

// ParseHeader decodes the 8-byte frame header from the front of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("frames: buffer too short for frame header: %d bytes", len(buf))
	}
	r := buffer.New(buf)
	size, _ := r.ReadUint32()
	doff, _ := r.ReadByte()
	typ, _ := r.ReadByte()
	channel, _ := r.ReadUint16()
	if size < HeaderSize {
		return Header{}, fmt.Errorf("frames: invalid frame size %d", size)
	}
	if doff < 2 {
		return Header{}, fmt.Errorf("frames: invalid data offset %d", doff)
	}
	return Header{Size: size, DataOffset: doff, FrameType: typ, Channel: channel}, nil
}

// Frame is the decoded representation of one frame: its header plus a typed
// body (nil Body means an empty frame, used for keep-alives).
type Frame struct {
	Type    uint8
	Channel uint16
	Body    FrameBody

	// Done, if non-nil, is closed by the connection's writer if writing this
	// frame fails; on success it is left alone, and the owning session sends
	// the final delivery outcome on it when the peer's Disposition arrives.
	Done chan encoding.DeliveryState
}

// FrameBody adds type safety to the set of things that can ride inside a
// Frame — every performative and SASL frame implements it.
type FrameBody interface {
	isFrameBody()
	descriptor() encoding.TypeCode
}

// Write encodes fr as a complete frame (header + body) onto wr.
func Write(wr *buffer.Buffer, fr Frame) error {
	start := wr.Size()
	Header{DataOffset: 2, FrameType: fr.Type, Channel: fr.Channel}.Marshal(wr)

	if fr.Body != nil {
		if err := marshalBody(wr, fr.Body); err != nil {
			return err
		}
	}
	size := uint32(wr.Size() - start)
	wr.PatchUint32(start, size)
	return nil
}

func marshalBody(wr *buffer.Buffer, body FrameBody) error {
	m, ok := body.(interface{ Marshal(*buffer.Buffer) error })
	if !ok {
		return fmt.Errorf("frames: %T does not implement Marshal", body)
	}
	return m.Marshal(wr)
}

// ParseBody decodes a FrameBody from buf, which must hold exactly the
// performative/SASL-frame bytes following the frame header (and any
// extended header) — for a Transfer, this includes the trailing payload.
func ParseBody(buf []byte) (FrameBody, error) {
	r := buffer.New(buf)
	if r.Len() == 0 {
		return nil, nil
	}
	b, ok := r.Peek()
	if !ok || b != 0x00 {
		return nil, fmt.Errorf("frames: frame body does not start with a descriptor")
	}

	// Peek the descriptor code without consuming, so the specific type's
	// own Unmarshal can re-read it via the normal encoding.Unmarshaler path.
	code, err := encoding.PeekDescriptorCode(r)
	if err != nil {
		return nil, err
	}

	body, err := newBodyForCode(code)
	if err != nil {
		return nil, err
	}
	if err := body.(interface {
		Unmarshal(*buffer.Buffer) error
	}).Unmarshal(r); err != nil {
		return nil, err
	}
	return body, nil
}

func newBodyForCode(code encoding.TypeCode) (FrameBody, error) {
	switch code {
	case encoding.TypeCodeOpen:
		return &Open{}, nil
	case encoding.TypeCodeBegin:
		return &Begin{}, nil
	case encoding.TypeCodeAttach:
		return &Attach{}, nil
	case encoding.TypeCodeFlow:
		return &Flow{}, nil
	case encoding.TypeCodeTransfer:
		return &Transfer{}, nil
	case encoding.TypeCodeDisposition:
		return &Disposition{}, nil
	case encoding.TypeCodeDetach:
		return &Detach{}, nil
	case encoding.TypeCodeEnd:
		return &End{}, nil
	case encoding.TypeCodeClose:
		return &Close{}, nil
	case encoding.TypeCodeSASLMechanism:
		return &SASLMechanisms{}, nil
	case encoding.TypeCodeSASLInit:
		return &SASLInit{}, nil
	case encoding.TypeCodeSASLChallenge:
		return &SASLChallenge{}, nil
	case encoding.TypeCodeSASLResponse:
		return &SASLResponse{}, nil
	case encoding.TypeCodeSASLOutcome:
		return &SASLOutcome{}, nil
	default:
		return nil, fmt.Errorf("frames: unrecognized performative descriptor %#02x", code)
	}
}
