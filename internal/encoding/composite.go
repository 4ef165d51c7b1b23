package encoding

import (
	"fmt"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

// Field pairs a composite field's value with whether it (and every
// field after it) may be omitted from the trailing-null-trimmed list body.
type Field struct {
	Value interface{}
	Omit  bool
}

// MarshalComposite writes a described list: 0x00, the numeric descriptor,
// then a list0/list8/list32 holding fields in order (smallest width that
// fits), trimmed of any trailing run of omitted fields (the standard
// wire-size optimization for optional trailing performative/type fields).
func MarshalComposite(wr *buffer.Buffer, code TypeCode, fields []Field) error {
	WriteDescriptor(wr, code)

	lastSetIdx := -1
	for i, f := range fields {
		if !f.Omit {
			lastSetIdx = i
		}
	}

	return writeListBody(wr, lastSetIdx+1, func(scratch *buffer.Buffer, i int) error {
		f := fields[i]
		if f.Omit {
			scratch.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return Marshal(scratch, f.Value)
	})
}

// UnField is a pointer destination for one composite field, paired
// with an optional handle for fields that need custom null-handling instead
// of simply decoding via Unmarshal.
type UnField struct {
	Field   interface{}
	Handler func(r *buffer.Buffer) error
	// OnNull runs instead of decoding when the field is explicitly null or
	// absent (the list ran out before reaching this index) — used to fill in
	// a spec-defined default or reject a field the spec marks mandatory.
	OnNull func() error
}

// UnmarshalComposite reads a described list previously written by
// MarshalComposite into fields, in order. It's tolerant of both missing
// trailing fields (the common case, since senders omit optional trailing
// fields) and explicit null placeholders for un-set fields in the middle of
// the list.
func UnmarshalComposite(r *buffer.Buffer, wantCode TypeCode, fields ...UnField) error {
	desc, err := readDescriptor(r)
	if err != nil {
		return err
	}
	if desc.Code != wantCode {
		return fmt.Errorf("encoding: invalid composite descriptor %#02x, want %#02x", desc.Code, wantCode)
	}

	code, err := readCode(r)
	if err != nil {
		return err
	}

	var count int
	switch code {
	case TypeCodeList0:
		count = 0
	case TypeCodeList8:
		if _, ok := r.ReadByte(); !ok { // size
			return errEOF
		}
		n, ok := r.ReadByte()
		if !ok {
			return errEOF
		}
		count = int(n)
	case TypeCodeList32:
		if _, ok := r.ReadUint32(); !ok { // size
			return errEOF
		}
		n, ok := r.ReadUint32()
		if !ok {
			return errEOF
		}
		count = int(n)
	default:
		return fmt.Errorf("encoding: invalid format code %#02x for composite body", code)
	}

	if count > len(fields) {
		return fmt.Errorf("encoding: composite %#02x has %d fields, only %d known", wantCode, count, len(fields))
	}

	for i := 0; i < count; i++ {
		isNull, err := peekIsNull(r)
		if err != nil {
			return err
		}
		f := fields[i]
		if isNull {
			r.ReadByte()
			if f.OnNull != nil {
				if err := f.OnNull(); err != nil {
					return err
				}
			}
			continue
		}
		if f.Handler != nil {
			if err := f.Handler(r); err != nil {
				return err
			}
			continue
		}
		if err := Unmarshal(r, f.Field); err != nil {
			return err
		}
	}
	// Fields beyond count were omitted entirely (the common case for
	// optional trailing fields); still run OnNull so required-with-default
	// semantics apply uniformly regardless of whether the sender sent an
	// explicit null or simply stopped early.
	for i := count; i < len(fields); i++ {
		if f := fields[i]; f.OnNull != nil {
			if err := f.OnNull(); err != nil {
				return err
			}
		}
	}
	return nil
}

func peekIsNull(r *buffer.Buffer) (bool, error) {
	b, ok := r.Peek()
	if !ok {
		return false, errEOF
	}
	return TypeCode(b) == TypeCodeNull, nil
}
