package frames

import (
	"errors"
	"time"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
)

// milliseconds adapts a time.Duration to the AMQP "milliseconds" encoding
// (a plain uint, counted in milliseconds) used by idle-time-out.
type milliseconds time.Duration

func (m milliseconds) Marshal(wr *buffer.Buffer) error {
	return encoding.Marshal(wr, uint32(time.Duration(m)/time.Millisecond))
}

func (m *milliseconds) Unmarshal(r *buffer.Buffer) error {
	var v uint32
	if err := encoding.Unmarshal(r, &v); err != nil {
		return err
	}
	*m = milliseconds(time.Duration(v) * time.Millisecond)
	return nil
}

// Open is the connection negotiation performative, the first frame sent on
// channel 0 by both peers after the protocol header exchange.
type Open struct {
	ContainerID         string // required
	Hostname            string
	MaxFrameSize        uint32
	ChannelMax          uint16
	IdleTimeout         time.Duration
	OutgoingLocales     encoding.MultiSymbol
	IncomingLocales     encoding.MultiSymbol
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          map[encoding.Symbol]interface{}
}

func (*Open) isFrameBody()                      {}
func (*Open) descriptor() encoding.TypeCode      { return encoding.TypeCodeOpen }

func (o *Open) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeOpen, []encoding.Field{
		{Value: &o.ContainerID},
		{Value: &o.Hostname, Omit: o.Hostname == ""},
		{Value: &o.MaxFrameSize, Omit: o.MaxFrameSize == 4294967295},
		{Value: &o.ChannelMax, Omit: o.ChannelMax == 65535},
		{Value: (*milliseconds)(&o.IdleTimeout), Omit: o.IdleTimeout == 0},
		{Value: &o.OutgoingLocales, Omit: len(o.OutgoingLocales) == 0},
		{Value: &o.IncomingLocales, Omit: len(o.IncomingLocales) == 0},
		{Value: &o.OfferedCapabilities, Omit: len(o.OfferedCapabilities) == 0},
		{Value: &o.DesiredCapabilities, Omit: len(o.DesiredCapabilities) == 0},
		{Value: o.Properties, Omit: len(o.Properties) == 0},
	})
}

func (o *Open) Unmarshal(r *buffer.Buffer) error {
	o.MaxFrameSize = 4294967295
	o.ChannelMax = 65535
	return encoding.UnmarshalComposite(r, encoding.TypeCodeOpen,
		encoding.UnField{Field: &o.ContainerID, OnNull: func() error { return errors.New("frames: Open.ContainerID is required") }},
		encoding.UnField{Field: &o.Hostname},
		encoding.UnField{Field: &o.MaxFrameSize},
		encoding.UnField{Field: &o.ChannelMax},
		encoding.UnField{Field: (*milliseconds)(&o.IdleTimeout)},
		encoding.UnField{Field: &o.OutgoingLocales},
		encoding.UnField{Field: &o.IncomingLocales},
		encoding.UnField{Field: &o.OfferedCapabilities},
		encoding.UnField{Field: &o.DesiredCapabilities},
		encoding.UnField{Field: &o.Properties},
	)
}

// Begin establishes a session on a channel.
type Begin struct {
	RemoteChannel       *uint16
	NextOutgoingID      uint32
	IncomingWindow      uint32
	OutgoingWindow      uint32
	HandleMax           uint32
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          map[encoding.Symbol]interface{}
}

func (*Begin) isFrameBody()                 {}
func (*Begin) descriptor() encoding.TypeCode { return encoding.TypeCodeBegin }

func (b *Begin) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeBegin, []encoding.Field{
		{Value: b.RemoteChannel, Omit: b.RemoteChannel == nil},
		{Value: &b.NextOutgoingID},
		{Value: &b.IncomingWindow},
		{Value: &b.OutgoingWindow},
		{Value: &b.HandleMax, Omit: b.HandleMax == 4294967295},
		{Value: &b.OfferedCapabilities, Omit: len(b.OfferedCapabilities) == 0},
		{Value: &b.DesiredCapabilities, Omit: len(b.DesiredCapabilities) == 0},
		{Value: b.Properties, Omit: len(b.Properties) == 0},
	})
}

func (b *Begin) Unmarshal(r *buffer.Buffer) error {
	b.HandleMax = 4294967295
	return encoding.UnmarshalComposite(r, encoding.TypeCodeBegin,
		encoding.UnField{Field: &b.RemoteChannel},
		encoding.UnField{Field: &b.NextOutgoingID, OnNull: func() error { return errors.New("frames: Begin.NextOutgoingID is required") }},
		encoding.UnField{Field: &b.IncomingWindow, OnNull: func() error { return errors.New("frames: Begin.IncomingWindow is required") }},
		encoding.UnField{Field: &b.OutgoingWindow, OnNull: func() error { return errors.New("frames: Begin.OutgoingWindow is required") }},
		encoding.UnField{Field: &b.HandleMax},
		encoding.UnField{Field: &b.OfferedCapabilities},
		encoding.UnField{Field: &b.DesiredCapabilities},
		encoding.UnField{Field: &b.Properties},
	)
}

// Attach establishes (or resumes) a link on a session.
type Attach struct {
	Name                  string
	Handle                uint32
	Role                  encoding.Role
	SenderSettleMode      *encoding.SenderSettleMode
	ReceiverSettleMode    *encoding.ReceiverSettleMode
	Source                *encoding.Source
	Target                *encoding.Target
	Coordinator           *encoding.Coordinator
	Unsettled             map[interface{}]interface{}
	IncompleteUnsettled   bool
	InitialDeliveryCount  uint32
	MaxMessageSize        uint64
	OfferedCapabilities   encoding.MultiSymbol
	DesiredCapabilities   encoding.MultiSymbol
	Properties            map[encoding.Symbol]interface{}
}

func (*Attach) isFrameBody()                 {}
func (*Attach) descriptor() encoding.TypeCode { return encoding.TypeCodeAttach }

// target returns whatever occupies the target position on the wire: an
// ordinary Target, or a Coordinator when this link attaches to a
// transaction coordinator.
func (a *Attach) target() interface{} {
	if a.Coordinator != nil {
		return a.Coordinator
	}
	if a.Target != nil {
		return a.Target
	}
	return nil
}

func (a *Attach) Marshal(wr *buffer.Buffer) error {
	tgt := a.target()
	return encoding.MarshalComposite(wr, encoding.TypeCodeAttach, []encoding.Field{
		{Value: &a.Name},
		{Value: &a.Handle},
		{Value: &a.Role},
		{Value: a.SenderSettleMode, Omit: a.SenderSettleMode == nil},
		{Value: a.ReceiverSettleMode, Omit: a.ReceiverSettleMode == nil},
		{Value: a.Source, Omit: a.Source == nil},
		{Value: tgt, Omit: tgt == nil},
		{Value: a.Unsettled, Omit: len(a.Unsettled) == 0},
		{Value: &a.IncompleteUnsettled, Omit: !a.IncompleteUnsettled},
		{Value: &a.InitialDeliveryCount, Omit: a.Role == encoding.RoleReceiver},
		{Value: &a.MaxMessageSize, Omit: a.MaxMessageSize == 0},
		{Value: &a.OfferedCapabilities, Omit: len(a.OfferedCapabilities) == 0},
		{Value: &a.DesiredCapabilities, Omit: len(a.DesiredCapabilities) == 0},
		{Value: a.Properties, Omit: len(a.Properties) == 0},
	})
}

func (a *Attach) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeAttach,
		encoding.UnField{Field: &a.Name, OnNull: func() error { return errors.New("frames: Attach.Name is required") }},
		encoding.UnField{Field: &a.Handle, OnNull: func() error { return errors.New("frames: Attach.Handle is required") }},
		encoding.UnField{Field: &a.Role, OnNull: func() error { return errors.New("frames: Attach.Role is required") }},
		encoding.UnField{Field: &a.SenderSettleMode},
		encoding.UnField{Field: &a.ReceiverSettleMode},
		encoding.UnField{Field: &a.Source},
		encoding.UnField{Handler: func(r *buffer.Buffer) error { return a.unmarshalTarget(r) }},
		encoding.UnField{Field: &a.Unsettled},
		encoding.UnField{Field: &a.IncompleteUnsettled},
		encoding.UnField{Field: &a.InitialDeliveryCount},
		encoding.UnField{Field: &a.MaxMessageSize},
		encoding.UnField{Field: &a.OfferedCapabilities},
		encoding.UnField{Field: &a.DesiredCapabilities},
		encoding.UnField{Field: &a.Properties},
	)
}

func (a *Attach) unmarshalTarget(r *buffer.Buffer) error {
	desc, err := encoding.PeekDescriptorCode(r)
	if err != nil {
		return err
	}
	switch desc {
	case encoding.TypeCodeCoordinator:
		a.Coordinator = &encoding.Coordinator{}
		return a.Coordinator.Unmarshal(r)
	default:
		a.Target = &encoding.Target{}
		return a.Target.Unmarshal(r)
	}
}

// Flow carries session and link flow-control state.
type Flow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[encoding.Symbol]interface{}
}

func (*Flow) isFrameBody()                 {}
func (*Flow) descriptor() encoding.TypeCode { return encoding.TypeCodeFlow }

func (f *Flow) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeFlow, []encoding.Field{
		{Value: f.NextIncomingID, Omit: f.NextIncomingID == nil},
		{Value: &f.IncomingWindow},
		{Value: &f.NextOutgoingID},
		{Value: &f.OutgoingWindow},
		{Value: f.Handle, Omit: f.Handle == nil},
		{Value: f.DeliveryCount, Omit: f.DeliveryCount == nil},
		{Value: f.LinkCredit, Omit: f.LinkCredit == nil},
		{Value: f.Available, Omit: f.Available == nil},
		{Value: &f.Drain, Omit: !f.Drain},
		{Value: &f.Echo, Omit: !f.Echo},
		{Value: f.Properties, Omit: len(f.Properties) == 0},
	})
}

func (f *Flow) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeFlow,
		encoding.UnField{Field: &f.NextIncomingID},
		encoding.UnField{Field: &f.IncomingWindow, OnNull: func() error { return errors.New("frames: Flow.IncomingWindow is required") }},
		encoding.UnField{Field: &f.NextOutgoingID, OnNull: func() error { return errors.New("frames: Flow.NextOutgoingID is required") }},
		encoding.UnField{Field: &f.OutgoingWindow, OnNull: func() error { return errors.New("frames: Flow.OutgoingWindow is required") }},
		encoding.UnField{Field: &f.Handle},
		encoding.UnField{Field: &f.DeliveryCount},
		encoding.UnField{Field: &f.LinkCredit},
		encoding.UnField{Field: &f.Available},
		encoding.UnField{Field: &f.Drain},
		encoding.UnField{Field: &f.Echo},
		encoding.UnField{Field: &f.Properties},
	)
}

// Transfer carries (all or part of) one message delivery.
type Transfer struct {
	Handle             uint32
	DeliveryID         *uint32
	DeliveryTag        []byte
	MessageFormat      *uint32
	Settled            bool
	More               bool
	ReceiverSettleMode *encoding.ReceiverSettleMode
	State              encoding.DeliveryState
	Resume             bool
	Aborted            bool
	Batchable          bool
	Payload            []byte

	// Done, if non-nil, is signaled with the delivery's eventual state once
	// this transfer (and, for unsettled sends, its disposition) completes.
	Done chan encoding.DeliveryState
}

func (*Transfer) isFrameBody()                 {}
func (*Transfer) descriptor() encoding.TypeCode { return encoding.TypeCodeTransfer }

func (t *Transfer) Marshal(wr *buffer.Buffer) error {
	err := encoding.MarshalComposite(wr, encoding.TypeCodeTransfer, []encoding.Field{
		{Value: &t.Handle},
		{Value: t.DeliveryID, Omit: t.DeliveryID == nil},
		{Value: &t.DeliveryTag, Omit: len(t.DeliveryTag) == 0},
		{Value: t.MessageFormat, Omit: t.MessageFormat == nil},
		{Value: &t.Settled, Omit: !t.Settled},
		{Value: &t.More, Omit: !t.More},
		{Value: t.ReceiverSettleMode, Omit: t.ReceiverSettleMode == nil},
		{Value: t.State, Omit: t.State == nil},
		{Value: &t.Resume, Omit: !t.Resume},
		{Value: &t.Aborted, Omit: !t.Aborted},
		{Value: &t.Batchable, Omit: !t.Batchable},
	})
	if err != nil {
		return err
	}
	wr.Append(t.Payload)
	return nil
}

func (t *Transfer) Unmarshal(r *buffer.Buffer) error {
	err := encoding.UnmarshalComposite(r, encoding.TypeCodeTransfer,
		encoding.UnField{Field: &t.Handle, OnNull: func() error { return errors.New("frames: Transfer.Handle is required") }},
		encoding.UnField{Field: &t.DeliveryID},
		encoding.UnField{Field: &t.DeliveryTag},
		encoding.UnField{Field: &t.MessageFormat},
		encoding.UnField{Field: &t.Settled},
		encoding.UnField{Field: &t.More},
		encoding.UnField{Field: &t.ReceiverSettleMode},
		encoding.UnField{Handler: func(r *buffer.Buffer) error { return t.unmarshalState(r) }},
		encoding.UnField{Field: &t.Resume},
		encoding.UnField{Field: &t.Aborted},
		encoding.UnField{Field: &t.Batchable},
	)
	if err != nil {
		return err
	}
	t.Payload = append([]byte(nil), r.Bytes()...)
	return nil
}

func (t *Transfer) unmarshalState(r *buffer.Buffer) error {
	ds, err := encoding.UnmarshalDeliveryState(r)
	if err != nil {
		return err
	}
	t.State = ds
	return nil
}

// Disposition communicates the outcome of one or more deliveries.
type Disposition struct {
	Role      encoding.Role
	First     uint32
	Last      *uint32
	Settled   bool
	State     encoding.DeliveryState
	Batchable bool
}

func (*Disposition) isFrameBody()                 {}
func (*Disposition) descriptor() encoding.TypeCode { return encoding.TypeCodeDisposition }

func (d *Disposition) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDisposition, []encoding.Field{
		{Value: &d.Role},
		{Value: &d.First},
		{Value: d.Last, Omit: d.Last == nil},
		{Value: &d.Settled, Omit: !d.Settled},
		{Value: d.State, Omit: d.State == nil},
		{Value: &d.Batchable, Omit: !d.Batchable},
	})
}

func (d *Disposition) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDisposition,
		encoding.UnField{Field: &d.Role, OnNull: func() error { return errors.New("frames: Disposition.Role is required") }},
		encoding.UnField{Field: &d.First, OnNull: func() error { return errors.New("frames: Disposition.First is required") }},
		encoding.UnField{Field: &d.Last},
		encoding.UnField{Field: &d.Settled},
		encoding.UnField{Handler: func(r *buffer.Buffer) error {
			ds, err := encoding.UnmarshalDeliveryState(r)
			if err != nil {
				return err
			}
			d.State = ds
			return nil
		}},
		encoding.UnField{Field: &d.Batchable},
	)
}

// Detach removes a link from its session, optionally permanently.
type Detach struct {
	Handle uint32
	Closed bool
	Error  *encoding.Error
}

func (*Detach) isFrameBody()                 {}
func (*Detach) descriptor() encoding.TypeCode { return encoding.TypeCodeDetach }

func (d *Detach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDetach, []encoding.Field{
		{Value: &d.Handle},
		{Value: &d.Closed, Omit: !d.Closed},
		{Value: d.Error, Omit: d.Error == nil},
	})
}

func (d *Detach) Unmarshal(r *buffer.Buffer) error {
	d.Error = &encoding.Error{}
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDetach,
		encoding.UnField{Field: &d.Handle, OnNull: func() error { return errors.New("frames: Detach.Handle is required") }},
		encoding.UnField{Field: &d.Closed},
		encoding.UnField{Field: d.Error, OnNull: func() error { d.Error = nil; return nil }},
	)
}

// End terminates a session.
type End struct {
	Error *encoding.Error
}

func (*End) isFrameBody()                 {}
func (*End) descriptor() encoding.TypeCode { return encoding.TypeCodeEnd }

func (e *End) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeEnd, []encoding.Field{
		{Value: e.Error, Omit: e.Error == nil},
	})
}

func (e *End) Unmarshal(r *buffer.Buffer) error {
	e.Error = &encoding.Error{}
	return encoding.UnmarshalComposite(r, encoding.TypeCodeEnd,
		encoding.UnField{Field: e.Error, OnNull: func() error { e.Error = nil; return nil }},
	)
}

// Close terminates a connection.
type Close struct {
	Error *encoding.Error
}

func (*Close) isFrameBody()                 {}
func (*Close) descriptor() encoding.TypeCode { return encoding.TypeCodeClose }

func (c *Close) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeClose, []encoding.Field{
		{Value: c.Error, Omit: c.Error == nil},
	})
}

func (c *Close) Unmarshal(r *buffer.Buffer) error {
	c.Error = &encoding.Error{}
	return encoding.UnmarshalComposite(r, encoding.TypeCodeClose,
		encoding.UnField{Field: c.Error, OnNull: func() error { c.Error = nil; return nil }},
	)
}
