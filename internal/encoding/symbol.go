package encoding

import (
	"math"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

// Symbol is a UTF-8-like ASCII string used as a symbolic constant or a map
// key throughout the protocol (e.g. capability names, annotation keys).
type Symbol string

// Marshal encodes the symbol using sym8 or sym32.
func (s Symbol) Marshal(wr *buffer.Buffer) error {
	l := len(s)
	switch {
	case l < 256:
		wr.AppendByte(byte(TypeCodeSym8))
		wr.AppendByte(byte(l))
	case uint(l) <= math.MaxUint32:
		wr.AppendByte(byte(TypeCodeSym32))
		wr.AppendUint32(uint32(l))
	default:
		return errTooLong
	}
	wr.AppendString(string(s))
	return nil
}

// MultiSymbol is one-or-more Symbols. Marshal always encodes it as an AMQP
// array of symbols, even when there is exactly one; decoding also accepts a
// bare symbol, per the "multiple" field convention.
type MultiSymbol []Symbol

// Marshal encodes the symbols as a sym array.
func (ms MultiSymbol) Marshal(wr *buffer.Buffer) error {
	return marshalTypedArray(wr, TypeCodeSym32, len(ms), func(i int) error {
		wr.AppendString(string(ms[i]))
		return nil
	}, func(i int) int { return len(ms[i]) })
}
