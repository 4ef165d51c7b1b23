package encoding

import "github.com/amqp-proto/go-amqp10/internal/buffer"

// Declare is sent by a transaction controller to request a new
// transaction from a coordinator.
//
// http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transactions-v1.0-os.html#type-declare
type Declare struct {
	// GlobalID identifies the transaction across multiple coordinators;
	// left nil for a coordinator-local transaction.
	GlobalID interface{}
}

func (d *Declare) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeDeclare, []Field{
		{Value: d.GlobalID, Omit: d.GlobalID == nil},
	})
}

func (d *Declare) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeDeclare,
		UnField{Field: &d.GlobalID},
	)
}

// Discharge is sent by a transaction controller to end a transaction,
// either committing (Fail == false) or rolling back (Fail == true) the
// work performed under it.
//
// http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transactions-v1.0-os.html#type-discharge
type Discharge struct {
	TxnID []byte
	Fail  bool
}

func (d *Discharge) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeDischarge, []Field{
		{Value: d.TxnID},
		{Value: d.Fail, Omit: !d.Fail},
	})
}

func (d *Discharge) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeDischarge,
		UnField{Field: &d.TxnID},
		UnField{Field: &d.Fail},
	)
}

// DescribedToTxnRequest re-interprets a generically-decoded Described value
// as a *Declare or *Discharge, for a coordinator resource reading the body
// of an incoming transactional Transfer. Returns nil, false if d is neither.
func DescribedToTxnRequest(d Described) (interface{}, bool) {
	switch d.Descriptor.Code {
	case TypeCodeDeclare:
		decl := &Declare{}
		if m, ok := asFieldList(d.Value); ok && len(m) > 0 {
			decl.GlobalID = m[0]
		}
		return decl, true
	case TypeCodeDischarge:
		disc := &Discharge{}
		if m, ok := asFieldList(d.Value); ok {
			if len(m) > 0 {
				if b, ok := m[0].([]byte); ok {
					disc.TxnID = b
				}
			}
			if len(m) > 1 {
				if f, ok := m[1].(bool); ok {
					disc.Fail = f
				}
			}
		}
		return disc, true
	default:
		return nil, false
	}
}
