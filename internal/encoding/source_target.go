package encoding

import "github.com/amqp-proto/go-amqp10/internal/buffer"

// Source describes the terminus a link draws messages from.
type Source struct {
	Address      string
	Durable      Durability
	ExpiryPolicy ExpiryPolicy
	Timeout      uint32
	Dynamic      bool
	DynamicNodeProperties map[Symbol]interface{}
	DistributionMode Symbol
	Filter           Filter
	DefaultOutcome   DeliveryState
	Outcomes         MultiSymbol
	Capabilities     MultiSymbol
}

// Marshal encodes the source as a described list.
func (s *Source) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeSource, []Field{
		{Value: s.Address, Omit: s.Address == ""},
		{Value: s.Durable, Omit: s.Durable == DurabilityNone},
		{Value: s.ExpiryPolicy, Omit: s.ExpiryPolicy == "" || s.ExpiryPolicy == ExpirySessionEnd},
		{Value: s.Timeout, Omit: s.Timeout == 0},
		{Value: s.Dynamic, Omit: !s.Dynamic},
		{Value: s.DynamicNodeProperties, Omit: len(s.DynamicNodeProperties) == 0},
		{Value: s.DistributionMode, Omit: s.DistributionMode == ""},
		{Value: s.Filter, Omit: len(s.Filter) == 0},
		{Value: s.DefaultOutcome, Omit: s.DefaultOutcome == nil},
		{Value: s.Outcomes, Omit: len(s.Outcomes) == 0},
		{Value: s.Capabilities, Omit: len(s.Capabilities) == 0},
	})
}

// Unmarshal decodes the source from a described list.
func (s *Source) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeSource,
		UnField{Field: &s.Address},
		UnField{Field: &s.Durable},
		UnField{Field: &s.ExpiryPolicy},
		UnField{Field: &s.Timeout},
		UnField{Field: &s.Dynamic},
		UnField{Field: &s.DynamicNodeProperties},
		UnField{Field: &s.DistributionMode},
		UnField{Field: &s.Filter},
		UnField{Handler: func(r *buffer.Buffer) error {
			v, err := decodeAny(r)
			if err != nil {
				return err
			}
			if d, ok := v.(Described); ok {
				s.DefaultOutcome = describedToDeliveryState(d)
			}
			return nil
		}},
		UnField{Field: &s.Outcomes},
		UnField{Field: &s.Capabilities},
	)
}

// Target describes the terminus a link delivers messages to.
type Target struct {
	Address      string
	Durable      Durability
	ExpiryPolicy ExpiryPolicy
	Timeout      uint32
	Dynamic      bool
	DynamicNodeProperties map[Symbol]interface{}
	Capabilities MultiSymbol
}

// Marshal encodes the target as a described list.
func (t *Target) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeTarget, []Field{
		{Value: t.Address, Omit: t.Address == ""},
		{Value: t.Durable, Omit: t.Durable == DurabilityNone},
		{Value: t.ExpiryPolicy, Omit: t.ExpiryPolicy == "" || t.ExpiryPolicy == ExpirySessionEnd},
		{Value: t.Timeout, Omit: t.Timeout == 0},
		{Value: t.Dynamic, Omit: !t.Dynamic},
		{Value: t.DynamicNodeProperties, Omit: len(t.DynamicNodeProperties) == 0},
		{Value: t.Capabilities, Omit: len(t.Capabilities) == 0},
	})
}

// Unmarshal decodes the target from a described list.
func (t *Target) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeTarget,
		UnField{Field: &t.Address},
		UnField{Field: &t.Durable},
		UnField{Field: &t.ExpiryPolicy},
		UnField{Field: &t.Timeout},
		UnField{Field: &t.Dynamic},
		UnField{Field: &t.DynamicNodeProperties},
		UnField{Field: &t.Capabilities},
	)
}

// Coordinator is the target variant that marks a link as attaching to a
// transaction coordinator rather than an ordinary message node.
type Coordinator struct {
	Capabilities MultiSymbol
}

// Marshal encodes the coordinator as a described list.
func (c *Coordinator) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeCoordinator, []Field{
		{Value: c.Capabilities, Omit: len(c.Capabilities) == 0},
	})
}

// Unmarshal decodes the coordinator from a described list.
func (c *Coordinator) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeCoordinator,
		UnField{Field: &c.Capabilities},
	)
}
