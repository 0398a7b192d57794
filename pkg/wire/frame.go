// Package wire encodes the frames exchanged with clients. The encoding is protobuf compatible
// with the client protocol: every frame is a Message with a tunnel id, a timestamp and exactly one
// payload. Payloads the server does not interpret travel as Opaque.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldTunnelID  protowire.Number = 1
	fieldTimestamp protowire.Number = 2

	fieldSessionControl protowire.Number = 10
	fieldRootSession    protowire.Number = 11
	fieldAccessPanel    protowire.Number = 13
	fieldCommutator     protowire.Number = 14
	fieldSystemClock    protowire.Number = 26
)

type Frame struct {
	TunnelID  uint32
	Timestamp uint64
	Body      Body
}

// Body is one of *SessionControl, *RootSession, *AccessPanel, *Commutator, *SystemClock or
// *Opaque.
type Body interface {
	field() protowire.Number
	appendTo(b []byte) []byte
}

func NewFrame(tunnelID uint32, body Body) *Frame {
	return &Frame{TunnelID: tunnelID, Body: body}
}

// Marshal appends the protobuf encoding of f to b.
func (f *Frame) Marshal(b []byte) []byte {
	if f.TunnelID != 0 {
		b = protowire.AppendTag(b, fieldTunnelID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.TunnelID))
	}
	if f.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, f.Timestamp)
	}
	if f.Body != nil {
		b = appendMessage(b, f.Body.field(), f.Body.appendTo(nil))
	}
	return b
}

func Unmarshal(b []byte) (*Frame, error) {
	f := &Frame{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldTunnelID:
			x, n, err := consumeVarint(typ, v)
			f.TunnelID = uint32(x)
			return n, err
		case fieldTimestamp:
			x, n, err := consumeVarint(typ, v)
			f.Timestamp = x
			return n, err
		}

		if typ != protowire.BytesType {
			return 0, fmt.Errorf("message field %d: %w", num, ErrWrongWireType)
		}
		payload, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}

		var body interface {
			Body
			unmarshal([]byte) error
		}
		switch num {
		case fieldSessionControl:
			body = &SessionControl{}
		case fieldRootSession:
			body = &RootSession{}
		case fieldAccessPanel:
			body = &AccessPanel{}
		case fieldCommutator:
			body = &Commutator{}
		case fieldSystemClock:
			body = &SystemClock{}
		default:
			body = &Opaque{Field: int32(num)}
		}
		if err := body.unmarshal(payload); err != nil {
			return 0, fmt.Errorf("message field %d: %w", num, err)
		}
		f.Body = body
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame{tunnel=%d ts=%d body=%T}", f.TunnelID, f.Timestamp, f.Body)
}

// Opaque is a payload the server forwards without decoding.
type Opaque struct {
	Field int32
	Data  []byte
}

func (o *Opaque) field() protowire.Number { return protowire.Number(o.Field) }

func (o *Opaque) appendTo(b []byte) []byte { return append(b, o.Data...) }

func (o *Opaque) unmarshal(b []byte) error {
	o.Data = append([]byte(nil), b...)
	return nil
}

func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, ErrWrongWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, ErrWrongWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func appendBool(b []byte, num protowire.Number) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(true))
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
