package encoding

import "github.com/amqp-proto/go-amqp10/internal/buffer"

// Durability indicates which aspects of a node survive restarts of the
// containing container.
type Durability uint32

const (
	DurabilityNone          Durability = 0
	DurabilityConfiguration Durability = 1
	DurabilityUnsettledState Durability = 2
)

// Marshal encodes the durability level as a uint.
func (d Durability) Marshal(wr *buffer.Buffer) error {
	return Marshal(wr, uint32(d))
}

// Unmarshal decodes the durability level from a uint.
func (d *Durability) Unmarshal(r *buffer.Buffer) error {
	v, err := decodeUint(r)
	if err != nil {
		return err
	}
	*d = Durability(v)
	return nil
}

// ExpiryPolicy governs when a node's lifetime-scoped state is discarded.
type ExpiryPolicy Symbol

const (
	ExpiryLinkDetach    ExpiryPolicy = "link-detach"
	ExpirySessionEnd    ExpiryPolicy = "session-end"
	ExpiryConnectionClose ExpiryPolicy = "connection-close"
	ExpiryNever         ExpiryPolicy = "never"
)

// Marshal encodes the expiry policy as a symbol.
func (e ExpiryPolicy) Marshal(wr *buffer.Buffer) error {
	return Symbol(e).Marshal(wr)
}

// Unmarshal decodes the expiry policy from a symbol.
func (e *ExpiryPolicy) Unmarshal(r *buffer.Buffer) error {
	var s Symbol
	if err := Unmarshal(r, &s); err != nil {
		return err
	}
	*e = ExpiryPolicy(s)
	return nil
}

// LifetimePolicy governs the lifetime of a dynamically-created node.
type LifetimePolicy uint8

const (
	LifetimePolicyDeleteOnClose LifetimePolicy = iota
	LifetimePolicyDeleteOnNoLinks
	LifetimePolicyDeleteOnNoMessages
	LifetimePolicyDeleteOnNoLinksOrMessages
)

var lifetimePolicyCodes = [...]TypeCode{
	TypeCodeDeleteOnClose,
	TypeCodeDeleteOnNoLinks,
	TypeCodeDeleteOnNoMessages,
	TypeCodeDeleteOnNoLinksOrMessages,
}

// Marshal encodes the lifetime policy as an empty described list keyed by
// its descriptor code.
func (p LifetimePolicy) Marshal(wr *buffer.Buffer) error {
	WriteDescriptor(wr, lifetimePolicyCodes[p])
	return List(nil).Marshal(wr)
}
