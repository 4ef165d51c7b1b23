package encoding

import (
	"fmt"
	"math"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

// List is a generic ordered AMQP list of heterogeneous values.
type List []interface{}

// Marshal encodes the list as list0, list8, or list32, whichever is smallest.
func (l List) Marshal(wr *buffer.Buffer) error {
	return writeListBody(wr, len(l), func(scratch *buffer.Buffer, i int) error { return Marshal(scratch, l[i]) })
}

// writeListBody writes a list0/list8/list32 header followed by count
// elements produced by writeElem(scratch, i), which must write element i into
// scratch. Elements are encoded into a scratch buffer first so the final
// body size is known before the header's width is chosen, mirroring
// writeArrayHeader's array8/array32 choice in arrays.go.
func writeListBody(wr *buffer.Buffer, count int, writeElem func(scratch *buffer.Buffer, i int) error) error {
	if count == 0 {
		wr.AppendByte(byte(TypeCodeList0))
		return nil
	}

	scratch := buffer.New(nil)
	for i := 0; i < count; i++ {
		if err := writeElem(scratch, i); err != nil {
			return err
		}
	}
	body := scratch.Bytes()

	const (
		list8TLSize  = 1 // count(1)
		list32TLSize = 4 // count(4)
	)
	if len(body)+list8TLSize <= 255 && count <= 255 {
		wr.AppendByte(byte(TypeCodeList8))
		wr.AppendByte(byte(len(body) + list8TLSize))
		wr.AppendByte(byte(count))
		wr.Append(body)
		return nil
	}
	wr.AppendByte(byte(TypeCodeList32))
	wr.AppendUint32(uint32(len(body) + list32TLSize))
	wr.AppendUint32(uint32(count))
	wr.Append(body)
	return nil
}

func writeAnyMap(wr *buffer.Buffer, m map[interface{}]interface{}) error {
	return writeMapBody(wr, len(m), func(_ *buffer.Buffer, emit func(k, v interface{}) error) error {
		for k, v := range m {
			if err := emit(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeStringMap(wr *buffer.Buffer, m map[string]interface{}) error {
	return writeMapBody(wr, len(m), func(_ *buffer.Buffer, emit func(k, v interface{}) error) error {
		for k, v := range m {
			if err := emit(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeSymbolMap(wr *buffer.Buffer, m map[Symbol]interface{}) error {
	return writeMapBody(wr, len(m), func(_ *buffer.Buffer, emit func(k, v interface{}) error) error {
		for k, v := range m {
			if err := emit(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeMapBody writes a map8/map32 header followed by count*2 key/value
// entries produced by iterate, which must call emit(key, value) exactly
// count times. Like writeListBody, entries are encoded into a scratch buffer
// first so the encoder can pick map8 over map32 whenever the body fits.
func writeMapBody(wr *buffer.Buffer, count int, iterate func(scratch *buffer.Buffer, emit func(k, v interface{}) error) error) error {
	scratch := buffer.New(nil)
	pairs := 0
	err := iterate(scratch, func(k, v interface{}) error {
		if err := Marshal(scratch, k); err != nil {
			return err
		}
		if err := Marshal(scratch, v); err != nil {
			return err
		}
		pairs += 2
		return nil
	})
	if err != nil {
		return err
	}
	if uint(pairs) > math.MaxUint32-4 {
		return errMapTooLarge
	}
	body := scratch.Bytes()

	const (
		map8TLSize  = 1 // count(1)
		map32TLSize = 4 // count(4)
	)
	if len(body)+map8TLSize <= 255 && pairs <= 255 {
		wr.AppendByte(byte(TypeCodeMap8))
		wr.AppendByte(byte(len(body) + map8TLSize))
		wr.AppendByte(byte(pairs))
		wr.Append(body)
		return nil
	}
	wr.AppendByte(byte(TypeCodeMap32))
	wr.AppendUint32(uint32(len(body) + map32TLSize))
	wr.AppendUint32(uint32(pairs))
	wr.Append(body)
	return nil
}

var errMapTooLarge = fmt.Errorf("encoding: map contains too many elements")
