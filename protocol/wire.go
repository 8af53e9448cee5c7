package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when a buffer is not a valid encoding of the target message.
var ErrMalformed = errors.New("malformed message")

// decoder walks the fields of a single protobuf-encoded message.
type decoder struct {
	b []byte
}

func newDecoder(b []byte) *decoder {
	return &decoder{b: b}
}

// next reads the next field tag. ok is false once the buffer is exhausted.
func (d *decoder) next() (num protowire.Number, typ protowire.Type, ok bool, err error) {
	if len(d.b) == 0 {
		return 0, 0, false, nil
	}
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		return 0, 0, false, malformed(protowire.ParseError(n))
	}
	d.b = d.b[n:]
	return num, typ, true, nil
}

func (d *decoder) bytes(typ protowire.Type) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, malformed(fmt.Errorf("wire type %d, want bytes", typ))
	}
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		return nil, malformed(protowire.ParseError(n))
	}
	d.b = d.b[n:]
	// Copy so decoded messages never alias the receive buffer.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (d *decoder) string(typ protowire.Type) (string, error) {
	v, err := d.bytes(typ)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (d *decoder) varint(typ protowire.Type) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, malformed(fmt.Errorf("wire type %d, want varint", typ))
	}
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	d.b = d.b[n:]
	return v, nil
}

// skip discards the value of an unknown field.
func (d *decoder) skip(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, d.b)
	if n < 0 {
		return malformed(protowire.ParseError(n))
	}
	d.b = d.b[n:]
	return nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStrings(b []byte, num protowire.Number, vs []string) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

// appendMessage writes an embedded message field, even when it encodes to zero bytes.
func appendMessage(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// decodeFields calls fn for every field in data. fn reports false for field
// numbers it does not know, which are then skipped.
func decodeFields(data []byte, fn func(d *decoder, num protowire.Number, typ protowire.Type) (bool, error)) error {
	d := newDecoder(data)
	for {
		num, typ, ok, err := d.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		known, err := fn(d, num, typ)
		if err != nil {
			return err
		}
		if !known {
			if err := d.skip(num, typ); err != nil {
				return err
			}
		}
	}
}
