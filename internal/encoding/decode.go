package encoding

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

var errEOF = errors.New("encoding: unexpected end of data")

// Unmarshal decodes one AMQP-encoded value from r into i, which must be a
// pointer (or, for described/composite types, implement Unmarshaler).
// null (0x40) and "no bytes present" are handled identically by callers that
// skip absent optional fields; Unmarshal itself always expects a value to be
// present at r's cursor.
func Unmarshal(r *buffer.Buffer, i interface{}) error {
	switch t := i.(type) {
	case Unmarshaler:
		return t.Unmarshal(r)
	case *interface{}:
		v, err := decodeAny(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *bool:
		v, err := decodeBool(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *uint8:
		v, err := decodeUint(r)
		if err != nil {
			return err
		}
		*t = uint8(v)
		return nil
	case *uint16:
		v, err := decodeUint(r)
		if err != nil {
			return err
		}
		*t = uint16(v)
		return nil
	case *uint32:
		v, err := decodeUint(r)
		if err != nil {
			return err
		}
		*t = uint32(v)
		return nil
	case *uint64:
		v, err := decodeUint(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *uint:
		v, err := decodeUint(r)
		if err != nil {
			return err
		}
		*t = uint(v)
		return nil
	case *int8:
		v, err := decodeInt(r)
		if err != nil {
			return err
		}
		*t = int8(v)
		return nil
	case *int16:
		v, err := decodeInt(r)
		if err != nil {
			return err
		}
		*t = int16(v)
		return nil
	case *int32:
		v, err := decodeInt(r)
		if err != nil {
			return err
		}
		*t = int32(v)
		return nil
	case *int64:
		v, err := decodeInt(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *int:
		v, err := decodeInt(r)
		if err != nil {
			return err
		}
		*t = int(v)
		return nil
	case *float32:
		v, err := decodeFloat(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *float64:
		v, err := decodeDouble(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *string:
		v, err := decodeString(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *Symbol:
		v, err := decodeString(r)
		if err != nil {
			return err
		}
		*t = Symbol(v)
		return nil
	case *[]byte:
		v, err := decodeBinary(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *time.Time:
		v, err := decodeTimestamp(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *UUID:
		v, err := decodeUUID(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *map[string]interface{}:
		return decodeMapInto(r, func(k, v interface{}) error {
			ks, ok := k.(string)
			if !ok {
				if sym, ok := k.(Symbol); ok {
					ks = string(sym)
				} else {
					return fmt.Errorf("encoding: map key %v is not a string", k)
				}
			}
			if *t == nil {
				*t = map[string]interface{}{}
			}
			(*t)[ks] = v
			return nil
		})
	case *map[Symbol]interface{}:
		return decodeMapInto(r, func(k, v interface{}) error {
			var ks Symbol
			switch kk := k.(type) {
			case Symbol:
				ks = kk
			case string:
				ks = Symbol(kk)
			default:
				return fmt.Errorf("encoding: map key %v is not a symbol", k)
			}
			if *t == nil {
				*t = map[Symbol]interface{}{}
			}
			(*t)[ks] = v
			return nil
		})
	case *map[interface{}]interface{}:
		return decodeMapInto(r, func(k, v interface{}) error {
			if *t == nil {
				*t = map[interface{}]interface{}{}
			}
			(*t)[k] = v
			return nil
		})
	case *Annotations:
		return decodeMapInto(r, func(k, v interface{}) error {
			if *t == nil {
				*t = Annotations{}
			}
			(*t)[k] = v
			return nil
		})
	case *MultiSymbol:
		return decodeSymbolArray(r, t)
	default:
		// pointer to an optional pointer field (e.g. **uint32): allocate
		// the inner value, decode into it, then store it
		if rv := reflect.ValueOf(i); rv.Kind() == reflect.Ptr && rv.Elem().Kind() == reflect.Ptr {
			nv := reflect.New(rv.Elem().Type().Elem())
			if err := Unmarshal(r, nv.Interface()); err != nil {
				return err
			}
			rv.Elem().Set(nv)
			return nil
		}
		return fmt.Errorf("encoding: unmarshal not implemented for %T", i)
	}
}

func decodeSymbolArray(r *buffer.Buffer, out *MultiSymbol) error {
	v, err := decodeAny(r)
	if err != nil {
		return err
	}
	switch vv := v.(type) {
	case nil:
		*out = nil
	case Symbol:
		*out = MultiSymbol{vv}
	case []Symbol:
		*out = MultiSymbol(vv)
	case []interface{}:
		ms := make(MultiSymbol, len(vv))
		for i, e := range vv {
			s, ok := e.(Symbol)
			if !ok {
				return fmt.Errorf("encoding: expected symbol array element, got %T", e)
			}
			ms[i] = s
		}
		*out = ms
	default:
		return fmt.Errorf("encoding: cannot decode %T into MultiSymbol", v)
	}
	return nil
}
