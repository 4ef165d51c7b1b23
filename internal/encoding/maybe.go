package encoding

import "github.com/amqp-proto/go-amqp10/internal/buffer"

// Maybe distinguishes an explicitly-null field from a present-but-zero-value
// one, which plain field omission (the rest of this package's omit-on-zero
// convention) can't express — needed for fields like message-id where null
// and "" are meaningfully different on the wire.
type Maybe[T any] struct {
	Value T
	Ok    bool
}

// Just wraps a present value.
func Just[T any](v T) Maybe[T] {
	return Maybe[T]{Value: v, Ok: true}
}

// Nothing returns an explicitly-absent value.
func Nothing[T any]() Maybe[T] {
	return Maybe[T]{}
}

// Marshal encodes the wrapped value, or an explicit null if absent.
func (m Maybe[T]) Marshal(wr *buffer.Buffer) error {
	if !m.Ok {
		wr.AppendByte(byte(TypeCodeNull))
		return nil
	}
	return Marshal(wr, m.Value)
}

// Unmarshal decodes into the wrapped value, recording whether a null was
// seen instead.
func (m *Maybe[T]) Unmarshal(r *buffer.Buffer) error {
	b, ok := r.Peek()
	if !ok {
		return errEOF
	}
	if TypeCode(b) == TypeCodeNull {
		r.ReadByte()
		m.Ok = false
		var zero T
		m.Value = zero
		return nil
	}
	if err := Unmarshal(r, &m.Value); err != nil {
		return err
	}
	m.Ok = true
	return nil
}
