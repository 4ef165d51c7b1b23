package amqp

import (
	"fmt"
	"time"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
)

// Message is a reassembled AMQP message: the payload carried by one or more
// Transfer frames sharing a delivery, decoded into its constituent sections.
//
// Not all sections are always present. Header, DeliveryAnnotations,
// MessageAnnotations, Properties, ApplicationProperties and Footer are all
// optional; exactly one of Data, Value or Sequence may carry the body.
type Message struct {
	// DeliveryTag identifies this delivery within its link. If left nil on
	// Send, a monotonically increasing tag is assigned automatically; on a
	// received Message this is whatever tag the sender chose.
	DeliveryTag []byte

	// SendSettled marks this message to be sent pre-settled when the
	// link's sender settlement mode is Mixed; ignored in Settled/Unsettled
	// modes, where the link's own mode always wins.
	SendSettled bool

	// receive-side bookkeeping set by Receiver.muxReceive, not wire sections:

	deliveryID uint32 // per-session delivery id, set when this message is received
	settled    bool   // whether this message was received pre-settled

	// receiver is the link this message arrived on; required to dispatch
	// Accept/Reject/Release/Modify back to the right session.
	receiver *Receiver

	// txnID identifies the in-progress transaction this message should be
	// settled under (set by Receiver.muxReceive when an acquire is active).
	txnID []byte

	Header                *MessageHeader
	DeliveryAnnotations   Annotations
	MessageAnnotations    Annotations
	Properties            *MessageProperties
	ApplicationProperties map[string]interface{}
	Data                  [][]byte
	Sequence              [][]interface{}
	Value                 interface{}
	Footer                Annotations

	// Format is the underlying message-format code carried on the Transfer
	// frame; 0 is the only format currently defined by the AMQP spec.
	Format uint32
}

// NewMessage creates a Message with Data set to the provided binary
// payloads (one Data section per slice).
func NewMessage(data ...[]byte) *Message {
	return &Message{Data: data}
}

// Annotations is the map type shared by delivery-annotations, message-
// annotations and footer sections; keys are typically Symbols but any type
// is technically legal per the AMQP map encoding.
type Annotations = encoding.Annotations

// MessageHeader carries delivery-related metadata: durability, priority,
// TTL and the retransmission flag/count.
type MessageHeader struct {
	Durable       bool
	Priority      uint8
	TTL           time.Duration
	FirstAcquirer bool
	DeliveryCount uint32
}

func (h *MessageHeader) marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageHeader, []encoding.Field{
		{Value: h.Durable, Omit: !h.Durable},
		{Value: h.Priority, Omit: h.Priority == 4},
		{Value: milliseconds(h.TTL), Omit: h.TTL == 0},
		{Value: h.FirstAcquirer, Omit: !h.FirstAcquirer},
		{Value: h.DeliveryCount, Omit: h.DeliveryCount == 0},
	})
}

func (h *MessageHeader) unmarshal(r *buffer.Buffer) error {
	h.Priority = 4 // spec default
	var ttl milliseconds
	err := encoding.UnmarshalComposite(r, encoding.TypeCodeMessageHeader,
		encoding.UnField{Field: &h.Durable},
		encoding.UnField{Field: &h.Priority},
		encoding.UnField{Field: &ttl},
		encoding.UnField{Field: &h.FirstAcquirer},
		encoding.UnField{Field: &h.DeliveryCount},
	)
	h.TTL = time.Duration(ttl)
	return err
}

// milliseconds is a time.Duration encoded on the wire as a uint32 of
// milliseconds, matching the performative layer's wrapper of the same name.
type milliseconds time.Duration

func (m milliseconds) Marshal(wr *buffer.Buffer) error {
	return encoding.Marshal(wr, uint32(m/milliseconds(time.Millisecond)))
}

func (m *milliseconds) Unmarshal(r *buffer.Buffer) error {
	var v uint32
	if err := encoding.Unmarshal(r, &v); err != nil {
		return err
	}
	*m = milliseconds(v) * milliseconds(time.Millisecond)
	return nil
}

// MessageProperties carries the immutable, application-set identification
// and routing properties of a message.
type MessageProperties struct {
	MessageID          interface{} // ulong, uuid, binary or string
	UserID             []byte
	To                 string
	Subject            string
	ReplyTo            string
	CorrelationID      interface{} // ulong, uuid, binary or string
	ContentType        encoding.Symbol
	ContentEncoding    encoding.Symbol
	AbsoluteExpiryTime time.Time
	CreationTime       time.Time
	GroupID            string
	GroupSequence      uint32
	ReplyToGroupID     string
}

func (p *MessageProperties) marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageProperties, []encoding.Field{
		{Value: p.MessageID, Omit: p.MessageID == nil},
		{Value: p.UserID, Omit: len(p.UserID) == 0},
		{Value: p.To, Omit: p.To == ""},
		{Value: p.Subject, Omit: p.Subject == ""},
		{Value: p.ReplyTo, Omit: p.ReplyTo == ""},
		{Value: p.CorrelationID, Omit: p.CorrelationID == nil},
		{Value: p.ContentType, Omit: p.ContentType == ""},
		{Value: p.ContentEncoding, Omit: p.ContentEncoding == ""},
		{Value: p.AbsoluteExpiryTime, Omit: p.AbsoluteExpiryTime.IsZero()},
		{Value: p.CreationTime, Omit: p.CreationTime.IsZero()},
		{Value: p.GroupID, Omit: p.GroupID == ""},
		{Value: p.GroupSequence, Omit: p.GroupSequence == 0},
		{Value: p.ReplyToGroupID, Omit: p.ReplyToGroupID == ""},
	})
}

func (p *MessageProperties) unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeMessageProperties,
		encoding.UnField{Field: &p.MessageID},
		encoding.UnField{Field: &p.UserID},
		encoding.UnField{Field: &p.To},
		encoding.UnField{Field: &p.Subject},
		encoding.UnField{Field: &p.ReplyTo},
		encoding.UnField{Field: &p.CorrelationID},
		encoding.UnField{Field: &p.ContentType},
		encoding.UnField{Field: &p.ContentEncoding},
		encoding.UnField{Field: &p.AbsoluteExpiryTime},
		encoding.UnField{Field: &p.CreationTime},
		encoding.UnField{Field: &p.GroupID},
		encoding.UnField{Field: &p.GroupSequence},
		encoding.UnField{Field: &p.ReplyToGroupID},
	)
}

// Marshal encodes m's sections, in wire order, into wr.
func (m *Message) Marshal(wr *buffer.Buffer) error {
	if m.Header != nil {
		if err := m.Header.marshal(wr); err != nil {
			return err
		}
	}
	if len(m.DeliveryAnnotations) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeDeliveryAnnotations)
		if err := encoding.Marshal(wr, m.DeliveryAnnotations); err != nil {
			return err
		}
	}
	if len(m.MessageAnnotations) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeMessageAnnotations)
		if err := encoding.Marshal(wr, m.MessageAnnotations); err != nil {
			return err
		}
	}
	if m.Properties != nil {
		if err := m.Properties.marshal(wr); err != nil {
			return err
		}
	}
	if len(m.ApplicationProperties) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeApplicationProperties)
		if err := encoding.Marshal(wr, m.ApplicationProperties); err != nil {
			return err
		}
	}

	switch {
	case len(m.Data) > 0:
		for _, d := range m.Data {
			encoding.WriteDescriptor(wr, encoding.TypeCodeApplicationData)
			if err := encoding.Marshal(wr, d); err != nil {
				return err
			}
		}
	case len(m.Sequence) > 0:
		for _, s := range m.Sequence {
			encoding.WriteDescriptor(wr, encoding.TypeCodeAMQPSequence)
			if err := encoding.Marshal(wr, encoding.List(s)); err != nil {
				return err
			}
		}
	case m.Value != nil:
		encoding.WriteDescriptor(wr, encoding.TypeCodeAMQPValue)
		if err := encoding.Marshal(wr, m.Value); err != nil {
			return err
		}
	}

	if len(m.Footer) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeFooter)
		if err := encoding.Marshal(wr, m.Footer); err != nil {
			return err
		}
	}

	return nil
}

// Unmarshal decodes m's sections from the reassembled payload of one or
// more Transfer frames sharing a delivery.
func (m *Message) Unmarshal(r *buffer.Buffer) error {
	for r.Len() > 0 {
		code, err := encoding.PeekDescriptorCode(r)
		if err != nil {
			return err
		}

		switch code {
		case encoding.TypeCodeMessageHeader:
			m.Header = new(MessageHeader)
			if err := m.Header.unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeDeliveryAnnotations:
			if err := readAnnotationsSection(r, &m.DeliveryAnnotations); err != nil {
				return err
			}
		case encoding.TypeCodeMessageAnnotations:
			if err := readAnnotationsSection(r, &m.MessageAnnotations); err != nil {
				return err
			}
		case encoding.TypeCodeMessageProperties:
			m.Properties = new(MessageProperties)
			if err := m.Properties.unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeApplicationProperties:
			if _, err := encoding.ReadDescriptor(r); err != nil {
				return err
			}
			if err := encoding.Unmarshal(r, &m.ApplicationProperties); err != nil {
				return err
			}
		case encoding.TypeCodeApplicationData:
			if _, err := encoding.ReadDescriptor(r); err != nil {
				return err
			}
			var data []byte
			if err := encoding.Unmarshal(r, &data); err != nil {
				return err
			}
			m.Data = append(m.Data, data)
		case encoding.TypeCodeAMQPSequence:
			if _, err := encoding.ReadDescriptor(r); err != nil {
				return err
			}
			var v interface{}
			if err := encoding.Unmarshal(r, &v); err != nil {
				return err
			}
			seq, _ := v.([]interface{})
			m.Sequence = append(m.Sequence, seq)
		case encoding.TypeCodeAMQPValue:
			if _, err := encoding.ReadDescriptor(r); err != nil {
				return err
			}
			if err := encoding.Unmarshal(r, &m.Value); err != nil {
				return err
			}
		case encoding.TypeCodeFooter:
			if err := readAnnotationsSection(r, &m.Footer); err != nil {
				return err
			}
		default:
			return fmt.Errorf("amqp: unrecognized message section descriptor %#02x", code)
		}
	}
	return nil
}

func readAnnotationsSection(r *buffer.Buffer, dst *Annotations) error {
	if _, err := encoding.ReadDescriptor(r); err != nil {
		return err
	}
	return encoding.Unmarshal(r, dst)
}
