package encoding

import "github.com/amqp-proto/go-amqp10/internal/buffer"

// DeliveryState is the outcome (or in-progress disposition) of a transfer,
// carried in disposition frames and as the terminal field of a transfer.
type DeliveryState interface {
	Marshaler
	deliveryState()
}

// StateReceived records how much of a multi-transfer delivery has been
// received so far, used to resume an interrupted transfer.
type StateReceived struct {
	SectionNumber uint32
	SectionOffset uint64
}

func (*StateReceived) deliveryState() {}

func (s *StateReceived) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateReceived, []Field{
		{Value: s.SectionNumber},
		{Value: s.SectionOffset},
	})
}

func (s *StateReceived) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateReceived,
		UnField{Field: &s.SectionNumber},
		UnField{Field: &s.SectionOffset},
	)
}

// StateAccepted indicates the delivery was accepted by the receiver.
type StateAccepted struct{}

func (*StateAccepted) deliveryState() {}

func (s *StateAccepted) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateAccepted, nil)
}

func (s *StateAccepted) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateAccepted)
}

// StateRejected indicates the delivery was rejected, optionally carrying an
// error describing why.
type StateRejected struct {
	Error *Error
}

func (*StateRejected) deliveryState() {}

func (s *StateRejected) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateRejected, []Field{
		{Value: s.Error, Omit: s.Error == nil},
	})
}

func (s *StateRejected) Unmarshal(r *buffer.Buffer) error {
	s.Error = new(Error)
	return UnmarshalComposite(r, TypeCodeStateRejected,
		UnField{Field: s.Error},
	)
}

// StateReleased indicates the delivery was returned to the node's queue for
// redelivery without being examined.
type StateReleased struct{}

func (*StateReleased) deliveryState() {}

func (s *StateReleased) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateReleased, nil)
}

func (s *StateReleased) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateReleased)
}

// StateModified indicates the delivery was examined and should be modified
// before redelivery (or failed outright).
type StateModified struct {
	DeliveryFailed    bool
	UndeliverableHere bool
	MessageAnnotations Annotations
}

func (*StateModified) deliveryState() {}

func (s *StateModified) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateModified, []Field{
		{Value: s.DeliveryFailed, Omit: !s.DeliveryFailed},
		{Value: s.UndeliverableHere, Omit: !s.UndeliverableHere},
		{Value: s.MessageAnnotations, Omit: s.MessageAnnotations == nil},
	})
}

func (s *StateModified) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateModified,
		UnField{Field: &s.DeliveryFailed},
		UnField{Field: &s.UndeliverableHere},
		UnField{Field: &s.MessageAnnotations},
	)
}

// StateDeclared carries the transaction ID assigned by the transaction
// coordinator in response to a Declare.
type StateDeclared struct {
	TxnID []byte
}

func (*StateDeclared) deliveryState() {}

func (s *StateDeclared) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateDeclared, []Field{
		{Value: s.TxnID},
	})
}

func (s *StateDeclared) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeStateDeclared,
		UnField{Field: &s.TxnID},
	)
}

// TransactionalState wraps an inner outcome with the transaction it's
// scoped to, used by transfers and dispositions inside a transaction.
type TransactionalState struct {
	TxnID   []byte
	Outcome DeliveryState
}

func (*TransactionalState) deliveryState() {}

func (s *TransactionalState) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeTransactionalState, []Field{
		{Value: s.TxnID},
		{Value: s.Outcome, Omit: s.Outcome == nil},
	})
}

func (s *TransactionalState) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeTransactionalState,
		UnField{Field: &s.TxnID},
		UnField{Handler: func(r *buffer.Buffer) error {
			v, err := decodeAny(r)
			if err != nil {
				return err
			}
			if d, ok := v.(Described); ok {
				s.Outcome = describedToDeliveryState(d)
			}
			return nil
		}},
	)
}

// UnmarshalDeliveryState decodes a delivery-state composite (any of the
// StateX variants) without knowing its concrete type ahead of time, used for
// the transfer and disposition performatives' State field.
func UnmarshalDeliveryState(r *buffer.Buffer) (DeliveryState, error) {
	v, err := decodeAny(r)
	if err != nil {
		return nil, err
	}
	d, ok := v.(Described)
	if !ok {
		return nil, nil
	}
	return describedToDeliveryState(d), nil
}

// describedToDeliveryState re-interprets a generically-decoded Described
// value as one of the known DeliveryState variants, used where a field's
// static type can't be known ahead of decoding (e.g. TransactionalState's
// inner Outcome, or a disposition's State).
func describedToDeliveryState(d Described) DeliveryState {
	switch d.Descriptor.Code {
	case TypeCodeStateAccepted:
		return &StateAccepted{}
	case TypeCodeStateReleased:
		return &StateReleased{}
	case TypeCodeStateRejected:
		s := &StateRejected{}
		if m, ok := asFieldList(d.Value); ok && len(m) > 0 {
			// the error arrives as a generic Described list; its info map
			// is not carried over
			if ed, ok := m[0].(Described); ok {
				if f, ok := asFieldList(ed.Value); ok && len(f) > 0 {
					e := &Error{}
					if c, ok := f[0].(Symbol); ok {
						e.Condition = ErrCond(c)
					}
					if len(f) > 1 {
						e.Description, _ = f[1].(string)
					}
					s.Error = e
				}
			}
		}
		return s
	case TypeCodeStateModified:
		return &StateModified{}
	case TypeCodeStateReceived:
		return &StateReceived{}
	case TypeCodeStateDeclared:
		s := &StateDeclared{}
		if m, ok := asFieldList(d.Value); ok && len(m) > 0 {
			s.TxnID, _ = m[0].([]byte)
		}
		return s
	default:
		return nil
	}
}

func asFieldList(v interface{}) ([]interface{}, bool) {
	l, ok := v.([]interface{})
	return l, ok
}
