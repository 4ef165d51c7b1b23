package encoding

import (
	"fmt"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

// Descriptor identifies a described type: either a numeric code or a
// symbolic name. Exactly one of Code/Name is meaningful. Code keeps only the
// low 8 bits of a numeric descriptor (the id within the AMQP domain); the
// domain bits of the 64-bit code are not kept.
type Descriptor struct {
	Code TypeCode
	Name Symbol
}

// Described is a generic described type: 0x00, a descriptor, then an inner
// value. It's used to carry values whose structure this module doesn't know
// ahead of time (custom filters, unrecognized outcomes, application-defined
// sections) without losing information.
type Described struct {
	Descriptor Descriptor
	Value      interface{}
}

// Marshal encodes the descriptor then the inner value.
func (d Described) Marshal(wr *buffer.Buffer) error {
	wr.AppendByte(0x0)
	if d.Descriptor.Name != "" {
		if err := d.Descriptor.Name.Marshal(wr); err != nil {
			return err
		}
	} else {
		wr.AppendByte(byte(TypeCodeSmallUlong))
		wr.AppendByte(byte(d.Descriptor.Code))
	}
	return Marshal(wr, d.Value)
}

// Unmarshal decodes a described type into Descriptor/Value without
// interpreting the inner value any further than Unmarshal(any) would.
func (d *Described) Unmarshal(r *buffer.Buffer) error {
	desc, err := readDescriptor(r)
	if err != nil {
		return err
	}
	d.Descriptor = desc
	var v interface{}
	if err := Unmarshal(r, &v); err != nil {
		return err
	}
	d.Value = v
	return nil
}

// readDescriptor consumes the 0x00 marker and the descriptor (numeric or
// symbolic) that follows it. Call sites that already consumed the 0x00
// marker themselves should call readDescriptorBody instead.
func readDescriptor(r *buffer.Buffer) (Descriptor, error) {
	b, ok := r.ReadByte()
	if !ok {
		return Descriptor{}, errEOF
	}
	if b != 0x0 {
		return Descriptor{}, fmt.Errorf("encoding: expected descriptor constructor 0x00, got %#02x", b)
	}
	return readDescriptorBody(r)
}

// ReadDescriptor consumes the 0x00 marker and descriptor at r's current
// position and returns it. Used by callers (e.g. message section decoding)
// that already peeked the descriptor code and now want to consume it.
func ReadDescriptor(r *buffer.Buffer) (Descriptor, error) {
	return readDescriptor(r)
}

// PeekDescriptorCode returns the numeric descriptor code of the described
// value at r's current position without consuming any bytes. Used where the
// concrete type to decode into (e.g. Target vs Coordinator, or which
// DeliveryState variant) depends on the descriptor.
func PeekDescriptorCode(r *buffer.Buffer) (TypeCode, error) {
	save := *r
	desc, err := readDescriptor(r)
	*r = save
	if err != nil {
		return 0, err
	}
	return desc.Code, nil
}

func readDescriptorBody(r *buffer.Buffer) (Descriptor, error) {
	code, ok := r.Peek()
	if !ok {
		return Descriptor{}, errEOF
	}
	switch TypeCode(code) {
	case TypeCodeSym8, TypeCodeSym32:
		var s Symbol
		if err := Unmarshal(r, &s); err != nil {
			return Descriptor{}, err
		}
		return Descriptor{Name: s}, nil
	default:
		var u uint64
		if err := Unmarshal(r, &u); err != nil {
			return Descriptor{}, err
		}
		return Descriptor{Code: TypeCode(u & 0xff)}, nil
	}
}

// Annotations is a map with any primitive key (typically a Symbol or a
// int64 reserved code) used by delivery-annotations and message-annotations.
type Annotations map[interface{}]interface{}

// Marshal encodes the annotations map, normalizing string keys to Symbol.
func (a Annotations) Marshal(wr *buffer.Buffer) error {
	return writeMapBody(wr, len(a), func(_ *buffer.Buffer, emit func(k, v interface{}) error) error {
		for k, v := range a {
			var key interface{} = k
			switch kk := k.(type) {
			case string:
				key = Symbol(kk)
			}
			if err := emit(key, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Filter is the source/target filter-set: symbol keys to described values.
type Filter map[Symbol]*Described

// Marshal encodes the filter set as a map.
func (f Filter) Marshal(wr *buffer.Buffer) error {
	return writeMapBody(wr, len(f), func(_ *buffer.Buffer, emit func(k, v interface{}) error) error {
		for k, v := range f {
			if err := emit(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func marshalDescribedOrError(wr *buffer.Buffer, i interface{}) error {
	switch t := i.(type) {
	case Described:
		return t.Marshal(wr)
	case *Described:
		return t.Marshal(wr)
	case Annotations:
		return t.Marshal(wr)
	case *Annotations:
		return t.Marshal(wr)
	case Filter:
		return t.Marshal(wr)
	case *Filter:
		return t.Marshal(wr)
	case map[Symbol]*Described:
		return Filter(t).Marshal(wr)
	default:
		return fmt.Errorf("encoding: marshal not implemented for %T", i)
	}
}
