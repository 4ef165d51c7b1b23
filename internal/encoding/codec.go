package encoding

import (
	"errors"
	"math"
	"time"
	"unicode/utf8"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

var errTooLong = errors.New("encoding: value too long to encode")

// Marshaler is implemented by any described or composite type that knows how
// to encode itself onto the wire.
type Marshaler interface {
	Marshal(wr *buffer.Buffer) error
}

// Unmarshaler is implemented by any described or composite type that knows
// how to decode itself from the wire.
type Unmarshaler interface {
	Unmarshal(r *buffer.Buffer) error
}

// Marshal encodes i, a primitive Go value, a Symbol/Annotations/etc helper
// type, or a Marshaler, onto wr using the smallest applicable wire form.
func Marshal(wr *buffer.Buffer, i interface{}) error {
	switch t := i.(type) {
	case nil:
		wr.AppendByte(byte(TypeCodeNull))
	case bool:
		if t {
			wr.AppendByte(byte(TypeCodeBoolTrue))
		} else {
			wr.AppendByte(byte(TypeCodeBoolFalse))
		}
	case *bool:
		return Marshal(wr, *t)
	case uint:
		writeUint64(wr, uint64(t))
	case *uint:
		writeUint64(wr, uint64(*t))
	case uint64:
		writeUint64(wr, t)
	case *uint64:
		writeUint64(wr, *t)
	case uint32:
		writeUint32(wr, t)
	case *uint32:
		writeUint32(wr, *t)
	case uint16:
		wr.AppendByte(byte(TypeCodeUshort))
		wr.AppendUint16(t)
	case *uint16:
		return Marshal(wr, *t)
	case uint8:
		wr.AppendByte(byte(TypeCodeUbyte))
		wr.AppendByte(t)
	case *uint8:
		return Marshal(wr, *t)
	case int:
		writeInt64(wr, int64(t))
	case *int:
		writeInt64(wr, int64(*t))
	case int8:
		wr.AppendByte(byte(TypeCodeByte))
		wr.AppendByte(uint8(t))
	case *int8:
		return Marshal(wr, *t)
	case int16:
		wr.AppendByte(byte(TypeCodeShort))
		wr.AppendUint16(uint16(t))
	case *int16:
		return Marshal(wr, *t)
	case int32:
		writeInt32(wr, t)
	case *int32:
		writeInt32(wr, *t)
	case int64:
		writeInt64(wr, t)
	case *int64:
		writeInt64(wr, *t)
	case float32:
		wr.AppendByte(byte(TypeCodeFloat))
		wr.AppendUint32(math.Float32bits(t))
	case *float32:
		return Marshal(wr, *t)
	case float64:
		wr.AppendByte(byte(TypeCodeDouble))
		wr.AppendUint64(math.Float64bits(t))
	case *float64:
		return Marshal(wr, *t)
	case string:
		return WriteString(wr, t)
	case *string:
		return WriteString(wr, *t)
	case []byte:
		return WriteBinary(wr, t)
	case *[]byte:
		return WriteBinary(wr, *t)
	case time.Time:
		writeTimestamp(wr, t)
	case *time.Time:
		writeTimestamp(wr, *t)
	case Marshaler:
		return t.Marshal(wr)
	case map[interface{}]interface{}:
		return writeAnyMap(wr, t)
	case *map[interface{}]interface{}:
		return writeAnyMap(wr, *t)
	case map[string]interface{}:
		return writeStringMap(wr, t)
	case *map[string]interface{}:
		return writeStringMap(wr, *t)
	case map[Symbol]interface{}:
		return writeSymbolMap(wr, t)
	case *map[Symbol]interface{}:
		return writeSymbolMap(wr, *t)
	default:
		return marshalReflect(wr, i)
	}
	return nil
}

func writeInt32(wr *buffer.Buffer, n int32) {
	if n >= -128 && n < 128 {
		wr.AppendByte(byte(TypeCodeSmallint))
		wr.AppendByte(byte(n))
		return
	}
	wr.AppendByte(byte(TypeCodeInt))
	wr.AppendUint32(uint32(n))
}

func writeInt64(wr *buffer.Buffer, n int64) {
	if n >= -128 && n < 128 {
		wr.AppendByte(byte(TypeCodeSmalllong))
		wr.AppendByte(byte(n))
		return
	}
	wr.AppendByte(byte(TypeCodeLong))
	wr.AppendUint64(uint64(n))
}

func writeUint32(wr *buffer.Buffer, n uint32) {
	switch {
	case n == 0:
		wr.AppendByte(byte(TypeCodeUint0))
	case n < 256:
		wr.AppendByte(byte(TypeCodeSmallUint))
		wr.AppendByte(byte(n))
	default:
		wr.AppendByte(byte(TypeCodeUint))
		wr.AppendUint32(n)
	}
}

func writeUint64(wr *buffer.Buffer, n uint64) {
	switch {
	case n == 0:
		wr.AppendByte(byte(TypeCodeUlong0))
	case n < 256:
		wr.AppendByte(byte(TypeCodeSmallUlong))
		wr.AppendByte(byte(n))
	default:
		wr.AppendByte(byte(TypeCodeUlong))
		wr.AppendUint64(n)
	}
}

func writeTimestamp(wr *buffer.Buffer, t time.Time) {
	wr.AppendByte(byte(TypeCodeTimestamp))
	ms := t.UnixNano() / int64(time.Millisecond)
	wr.AppendUint64(uint64(ms))
}

// WriteDescriptor writes the 0x00 marker and a numeric descriptor code.
func WriteDescriptor(wr *buffer.Buffer, code TypeCode) {
	wr.AppendByte(0x0)
	wr.AppendByte(byte(TypeCodeSmallUlong))
	wr.AppendByte(byte(code))
}

// WriteString encodes a UTF-8 string using str8 or str32.
func WriteString(wr *buffer.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return errors.New("encoding: not a valid UTF-8 string")
	}
	l := len(s)
	switch {
	case l < 256:
		wr.AppendByte(byte(TypeCodeStr8))
		wr.AppendByte(byte(l))
	case uint(l) <= math.MaxUint32:
		wr.AppendByte(byte(TypeCodeStr32))
		wr.AppendUint32(uint32(l))
	default:
		return errors.New("encoding: string too long")
	}
	wr.AppendString(s)
	return nil
}

// WriteBinary encodes b using vbin8 or vbin32.
func WriteBinary(wr *buffer.Buffer, b []byte) error {
	l := len(b)
	switch {
	case l < 256:
		wr.AppendByte(byte(TypeCodeVbin8))
		wr.AppendByte(byte(l))
	case uint(l) <= math.MaxUint32:
		wr.AppendByte(byte(TypeCodeVbin32))
		wr.AppendUint32(uint32(l))
	default:
		return errors.New("encoding: binary too long")
	}
	wr.Append(b)
	return nil
}

// sizeClass reports whether n fits the 8-bit size/count form used by
// composite, map, and array framing.
func sizeClass(n int) (small bool) {
	return n <= math.MaxUint8
}
