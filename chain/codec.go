package chain

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every request and response exchanged with the
// base node and wallet. Messages encode to protobuf wire format.
type Message interface {
	marshalWire(b []byte) []byte
	unmarshalWire(b []byte) error
}

func Marshal(m Message) []byte {
	return m.marshalWire(nil)
}

func Unmarshal(data []byte, m Message) error {
	return m.unmarshalWire(data)
}

// Codec is the gRPC codec for chain messages. It registers under the
// "proto" content subtype so servers see ordinary protobuf payloads.
type Codec struct{}

func (Codec) Name() string {
	return "proto"
}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("chain codec: cannot marshal %T", v)
	}
	return m.marshalWire(nil), nil
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("chain codec: cannot unmarshal into %T", v)
	}
	return m.unmarshalWire(data)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendUint(b, num, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendRepeatedBytes writes every element, empty ones included, so the
// element count survives a round trip.
func appendRepeatedBytes(b []byte, num protowire.Number, vs [][]byte) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}
	return b
}

func appendMessage(b []byte, num protowire.Number, m Message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.marshalWire(nil))
}

// fieldReader walks the fields of an encoded message. The first decoding
// error stops iteration and is kept in err.
type fieldReader struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func (r *fieldReader) next() bool {
	if r.err != nil || len(r.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return false
	}
	r.b = r.b[n:]
	r.num, r.typ = num, typ
	return true
}

func (r *fieldReader) expect(typ protowire.Type) bool {
	if r.typ != typ {
		r.err = fmt.Errorf("field %d: wire type %d, want %d", r.num, r.typ, typ)
		return false
	}
	return true
}

func (r *fieldReader) readUint() uint64 {
	if !r.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) readBool() bool {
	return r.readUint() != 0
}

func (r *fieldReader) readBytes() []byte {
	if !r.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return nil
	}
	r.b = r.b[n:]
	return append([]byte{}, v...)
}

func (r *fieldReader) readString() string {
	return string(r.readBytes())
}

func (r *fieldReader) readMessage(m Message) {
	data := r.readBytes()
	if r.err != nil {
		return
	}
	if err := m.unmarshalWire(data); err != nil {
		r.err = fmt.Errorf("field %d: %w", r.num, err)
	}
}

func (r *fieldReader) skip() {
	n := protowire.ConsumeFieldValue(r.num, r.typ, r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return
	}
	r.b = r.b[n:]
}
