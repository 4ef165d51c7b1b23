package encoding

import "github.com/amqp-proto/go-amqp10/internal/buffer"

// LazyValue holds the raw encoded bytes of a value whose decoding is
// deferred until a caller actually needs it. Message does not use it: its
// sections, application-properties included, are decoded eagerly by
// Message.Unmarshal.
type LazyValue struct {
	raw []byte
}

// Unmarshal captures the encoded bytes of the next value at r's cursor. It
// decodes the value once into an interface{} scratch value only to find where
// it ends, then keeps a copy of exactly the bytes consumed. The bytes are
// later available via Unwrap.
func (l *LazyValue) Unmarshal(r *buffer.Buffer) error {
	start := r.Bytes()
	var v interface{}
	if err := Unmarshal(r, &v); err != nil {
		return err
	}
	consumed := len(start) - r.Len()
	l.raw = append([]byte(nil), start[:consumed]...)
	return nil
}

// Marshal writes the previously-captured raw bytes back out unchanged.
func (l *LazyValue) Marshal(wr *buffer.Buffer) error {
	wr.Append(l.raw)
	return nil
}

// Unwrap decodes the captured bytes into v, exactly as a direct Unmarshal
// call would have at capture time.
func (l *LazyValue) Unwrap(v interface{}) error {
	if l.raw == nil {
		return Unmarshal(buffer.New(nil), v)
	}
	return Unmarshal(buffer.New(l.raw), v)
}

// Bytes returns the raw encoded form captured by Unmarshal.
func (l *LazyValue) Bytes() []byte {
	return l.raw
}
