package encoding

import (
	"time"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

// writeArrayHeader writes the array8/array32 type code, size, count, and
// element type code; size is the number of bytes of encoded elements plus the
// count field (1 or 4 bytes) and the 1-byte element type code. The encoder
// always picks the smallest form that fits.
func writeArrayHeader(wr *buffer.Buffer, length, elementsSize int, elemCode TypeCode) {
	const (
		array8TLSize  = 2 // count(1) + element-code(1)
		array32TLSize = 5 // count(4) + element-code(1)
	)
	size := elementsSize
	if size+array8TLSize <= 255 && length <= 255 {
		wr.AppendByte(byte(TypeCodeArray8))
		wr.AppendByte(byte(size + array8TLSize))
		wr.AppendByte(byte(length))
		wr.AppendByte(byte(elemCode))
		return
	}
	wr.AppendByte(byte(TypeCodeArray32))
	wr.AppendUint32(uint32(size + array32TLSize))
	wr.AppendUint32(uint32(length))
	wr.AppendByte(byte(elemCode))
}

// marshalFixedArray encodes a homogeneous array whose elements all marshal to
// the same width (every numeric/bool/timestamp/UUID primitive).
func marshalFixedArray[T any](wr *buffer.Buffer, elemCode TypeCode, width int, items []T, writeElem func(*buffer.Buffer, T)) error {
	writeArrayHeader(wr, len(items), len(items)*width, elemCode)
	for _, it := range items {
		writeElem(wr, it)
	}
	return nil
}

// marshalTypedArray encodes a homogeneous array of variable-width elements
// (string/symbol/binary), where sizeOf(i) reports the encoded payload size
// (excluding the per-element 4-byte length prefix, which this function adds
// to the total it passes to writeArrayHeader and writes before each element).
func marshalTypedArray(wr *buffer.Buffer, elemCode TypeCode, n int, writeElem func(i int) error, sizeOf func(i int) int) error {
	// Pre-compute sizes: each element gets str32/vbin32/sym32-style 4-byte
	// length prefix inside the array (the element code is declared once).
	total := 0
	for i := 0; i < n; i++ {
		total += 4 + sizeOf(i)
	}
	writeArrayHeader(wr, n, total, elemCode)
	for i := 0; i < n; i++ {
		wr.AppendUint32(uint32(sizeOf(i)))
		if err := writeElem(i); err != nil {
			return err
		}
	}
	return nil
}

func marshalReflect(wr *buffer.Buffer, i interface{}) error {
	switch t := i.(type) {
	case []int8:
		return marshalFixedArray(wr, TypeCodeByte, 1, t, func(w *buffer.Buffer, v int8) { w.AppendByte(uint8(v)) })
	case []uint16:
		return marshalFixedArray(wr, TypeCodeUshort, 2, t, func(w *buffer.Buffer, v uint16) { w.AppendUint16(v) })
	case []int16:
		return marshalFixedArray(wr, TypeCodeShort, 2, t, func(w *buffer.Buffer, v int16) { w.AppendUint16(uint16(v)) })
	case []uint32:
		return marshalFixedArray(wr, TypeCodeUint, 4, t, func(w *buffer.Buffer, v uint32) { w.AppendUint32(v) })
	case []int32:
		return marshalFixedArray(wr, TypeCodeInt, 4, t, func(w *buffer.Buffer, v int32) { w.AppendUint32(uint32(v)) })
	case []uint64:
		return marshalFixedArray(wr, TypeCodeUlong, 8, t, func(w *buffer.Buffer, v uint64) { w.AppendUint64(v) })
	case []int64:
		return marshalFixedArray(wr, TypeCodeLong, 8, t, func(w *buffer.Buffer, v int64) { w.AppendUint64(uint64(v)) })
	case []float32:
		return marshalFixedArray(wr, TypeCodeFloat, 4, t, func(w *buffer.Buffer, v float32) { Marshal(w, v) })
	case []float64:
		return marshalFixedArray(wr, TypeCodeDouble, 8, t, func(w *buffer.Buffer, v float64) { Marshal(w, v) })
	case []bool:
		return marshalFixedArray(wr, TypeCodeBool, 1, t, func(w *buffer.Buffer, v bool) {
			if v {
				w.AppendByte(1)
			} else {
				w.AppendByte(0)
			}
		})
	case []time.Time:
		return marshalFixedArray(wr, TypeCodeTimestamp, 8, t, func(w *buffer.Buffer, v time.Time) {
			w.AppendUint64(uint64(v.UnixNano() / int64(time.Millisecond)))
		})
	case []UUID:
		return marshalFixedArray(wr, TypeCodeUUID, 16, t, func(w *buffer.Buffer, v UUID) { w.Append(v[:]) })
	case []string:
		return marshalTypedArray(wr, TypeCodeStr32, len(t), func(i int) error { wr.AppendString(t[i]); return nil }, func(i int) int { return len(t[i]) })
	case []Symbol:
		return MultiSymbol(t).Marshal(wr)
	case [][]byte:
		return marshalTypedArray(wr, TypeCodeVbin32, len(t), func(i int) error { wr.Append(t[i]); return nil }, func(i int) int { return len(t[i]) })
	case []interface{}:
		return List(t).Marshal(wr)
	default:
		return marshalDescribedOrError(wr, i)
	}
}
