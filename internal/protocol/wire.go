package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"solemnsky/server/internal/networked"
)

var (
	// ErrMalformed reports bytes that are not a well-formed message, including
	// enum values outside their range.
	ErrMalformed = errors.New("protocol: malformed packet")
	// ErrUnknownTag reports a field number the receiver does not know.
	ErrUnknownTag = errors.New("protocol: unknown field")
	// ErrStructure reports a packet that decoded but lacks what its kind
	// requires.
	ErrStructure = errors.New("protocol: invalid packet structure")
)

// encoder appends protobuf wire-format fields. The plain writers omit zero
// values; the put* writers always emit, for fields with presence.
type encoder struct {
	buf []byte
}

func (e *encoder) putUint(num protowire.Number, v uint64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) uint(num protowire.Number, v uint64) {
	if v != 0 {
		e.putUint(num, v)
	}
}

func (e *encoder) putSint(num protowire.Number, v int64) {
	e.putUint(num, protowire.EncodeZigZag(v))
}

func (e *encoder) sint(num protowire.Number, v int64) {
	if v != 0 {
		e.putSint(num, v)
	}
}

func (e *encoder) duration(num protowire.Number, d time.Duration) { e.sint(num, int64(d)) }

func (e *encoder) putDuration(num protowire.Number, d time.Duration) { e.putSint(num, int64(d)) }

func (e *encoder) putBool(num protowire.Number, v bool) {
	e.putUint(num, protowire.EncodeBool(v))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.putBool(num, v)
	}
}

func (e *encoder) putDouble(num protowire.Number, v float64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed64Type)
	e.buf = protowire.AppendFixed64(e.buf, math.Float64bits(v))
}

func (e *encoder) double(num protowire.Number, v float64) {
	if v != 0 {
		e.putDouble(num, v)
	}
}

func (e *encoder) putString(num protowire.Number, s string) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, s)
}

func (e *encoder) string(num protowire.Number, s string) {
	if s != "" {
		e.putString(num, s)
	}
}

func (e *encoder) pid(num protowire.Number, pid networked.PID) { e.putUint(num, uint64(pid)) }

// message emits a nested message, even an empty one, so its presence is
// visible to the decoder.
func (e *encoder) message(num protowire.Number, fn func(*encoder)) {
	var inner encoder
	fn(&inner)
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, inner.buf)
}

// entries emits one nested {1: pid, 2: value} message per map entry, in PID
// order so equal maps encode to equal bytes.
func entries[V any](e *encoder, num protowire.Number, m map[networked.PID]V, value func(*encoder, V)) {
	for _, pid := range networked.SortedPIDs(m) {
		v := m[pid]
		e.message(num, func(inner *encoder) {
			inner.pid(1, pid)
			value(inner, v)
		})
	}
}

// field is one decoded wire field.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

// eachField walks the fields of a message.
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			return fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) wrongType() error {
	return fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, f.num, f.typ)
}

func (f field) unknown() error {
	return fmt.Errorf("%w: %d", ErrUnknownTag, f.num)
}

func (f field) uint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, f.wrongType()
	}
	return f.v, nil
}

func (f field) uint32() (uint32, error) {
	v, err := f.uint()
	if err == nil && v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: field %d overflows uint32", ErrMalformed, f.num)
	}
	return uint32(v), err
}

func (f field) uint8() (uint8, error) {
	v, err := f.uint()
	if err == nil && v > math.MaxUint8 {
		return 0, fmt.Errorf("%w: field %d overflows uint8", ErrMalformed, f.num)
	}
	return uint8(v), err
}

func (f field) pid() (networked.PID, error) {
	v, err := f.uint32()
	return networked.PID(v), err
}

func (f field) sint() (int64, error) {
	v, err := f.uint()
	return protowire.DecodeZigZag(v), err
}

func (f field) duration() (time.Duration, error) {
	v, err := f.sint()
	return time.Duration(v), err
}

func (f field) bool() (bool, error) {
	v, err := f.uint()
	return protowire.DecodeBool(v), err
}

func (f field) double() (float64, error) {
	if f.typ != protowire.Fixed64Type {
		return 0, f.wrongType()
	}
	return math.Float64frombits(f.v), nil
}

func (f field) string() (string, error) {
	if f.typ != protowire.BytesType {
		return "", f.wrongType()
	}
	if !utf8.Valid(f.b) {
		return "", fmt.Errorf("%w: field %d is not utf-8", ErrMalformed, f.num)
	}
	return string(f.b), nil
}

func (f field) message() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, f.wrongType()
	}
	return f.b, nil
}

// decodeInto decodes the nested message of f with decode.
func decodeInto[T any](f field, decode func([]byte) (T, error)) (T, error) {
	b, err := f.message()
	if err != nil {
		var zero T
		return zero, err
	}
	return decode(b)
}

// decodeOptional is decodeInto for pointer fields.
func decodeOptional[T any](f field, decode func([]byte) (T, error)) (*T, error) {
	v, err := decodeInto(f, decode)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// decodeEntry decodes one {1: pid, 2: value} map entry. present reports
// whether the value field was there.
func decodeEntry[V any](f field, decode func([]byte) (V, error)) (pid networked.PID, value V, present bool, err error) {
	b, err := f.message()
	if err != nil {
		return 0, value, false, err
	}
	err = eachField(b, func(inner field) error {
		var err error
		switch inner.num {
		case 1:
			pid, err = inner.pid()
		case 2:
			value, err = decodeInto(inner, decode)
			present = true
		default:
			return inner.unknown()
		}
		return err
	})
	return pid, value, present, err
}

// decodeMapEntry adds the entry in f to *m, allocating the map on first use.
func decodeMapEntry[V any](f field, m *map[networked.PID]V, decode func([]byte) (V, error)) error {
	pid, value, _, err := decodeEntry(f, decode)
	if err != nil {
		return err
	}
	if *m == nil {
		*m = make(map[networked.PID]V)
	}
	(*m)[pid] = value
	return nil
}
