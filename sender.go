package amqp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
	"github.com/amqp-proto/go-amqp10/internal/debug"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
)

// needsDeliveryID marks a Transfer's DeliveryID as "not yet assigned" so the
// session mux fills in the next-outgoing-id when it forwards the frame; only
// the first Transfer of a delivery carries a DeliveryID at all.
var needsDeliveryID uint32

// Sender sends messages on a single AMQP link.
type Sender struct {
	l         link
	transfers chan frames.Transfer // sender uses this to queue transfer frames to its mux

	// closeOnDispositionError controls whether a Rejected disposition from
	// the peer, received while in ModeFirst (or no RSM requested), detaches
	// the link. Some brokers prefer the link stay open across throttling
	// rejections so a batch of concurrent sends isn't all torn down by one.
	closeOnDispositionError bool

	mu              sync.Mutex // protects buf and nextDeliveryTag
	buf             buffer.Buffer
	nextDeliveryTag uint64
}

// LinkName is the name of the link used for this Sender.
func (s *Sender) LinkName() string {
	return s.l.key.name
}

// MaxMessageSize is the maximum size of a single message, as negotiated
// during attach; 0 means no limit.
func (s *Sender) MaxMessageSize() uint64 {
	return s.l.maxMessageSize
}

// Address returns the link's target address.
func (s *Sender) Address() string {
	if s.l.target == nil {
		return ""
	}
	return s.l.target.Address
}

// SenderOptions contains the optional settings for attaching a Sender.
type SenderOptions struct {
	Capabilities                []string
	Durability                  encoding.Durability
	DynamicAddress              bool
	ExpiryPolicy                encoding.ExpiryPolicy
	ExpiryTimeout               uint32
	IgnoreDispositionErrors     bool
	Name                        string
	Properties                  map[string]interface{}
	RequestedReceiverSettleMode *encoding.ReceiverSettleMode
	SettlementMode              *encoding.SenderSettleMode
	SourceAddress               string
	TargetCapabilities          []string
	TargetDurability            encoding.Durability
	TargetExpiryPolicy          encoding.ExpiryPolicy
	TargetExpiryTimeout         uint32
}

// SendOptions contains any optional values for the Sender.Send method.
type SendOptions struct {
	// Settled forces this delivery to be sent pre-settled regardless of the
	// message's own SendSettled flag, when the link's sender settlement
	// mode is Mixed.
	Settled bool

	// Txn scopes this delivery to an in-progress transaction (spec's "post"
	// operation): the Transfer carries a TransactionalState instead of
	// settling normally, and remains unsettled until Txn commits or rolls
	// back with the coordinator.
	Txn *Transaction
}

// newSender creates a new sending link and readies it for attach; the
// caller still must call attach to exchange the Attach performative.
func newSender(target string, session *Session, opts *SenderOptions) (*Sender, error) {
	l := newLink(session, encoding.RoleSender)
	s := &Sender{
		l:                       l,
		closeOnDispositionError: true,
	}
	s.l.target = &encoding.Target{Address: target}
	s.l.source = new(encoding.Source)

	if opts == nil {
		return s, nil
	}

	for _, v := range opts.Capabilities {
		s.l.source.Capabilities = append(s.l.source.Capabilities, encoding.Symbol(v))
	}
	if opts.Durability > encoding.DurabilityUnsettledState {
		return nil, fmt.Errorf("amqp: invalid Durability %d", opts.Durability)
	}
	s.l.source.Durable = opts.Durability
	if opts.DynamicAddress {
		s.l.target.Address = ""
		s.l.dynamicAddr = true
	}
	if opts.ExpiryPolicy != "" {
		s.l.source.ExpiryPolicy = opts.ExpiryPolicy
	}
	s.l.source.Timeout = opts.ExpiryTimeout
	s.closeOnDispositionError = !opts.IgnoreDispositionErrors
	if opts.Name != "" {
		s.l.key.name = opts.Name
	}
	if opts.Properties != nil {
		s.l.properties = make(map[encoding.Symbol]interface{})
		for k, v := range opts.Properties {
			if k == "" {
				return nil, errors.New("amqp: link property key must not be empty")
			}
			s.l.properties[encoding.Symbol(k)] = v
		}
	}
	if opts.RequestedReceiverSettleMode != nil {
		if rsm := *opts.RequestedReceiverSettleMode; rsm > encoding.ModeSecond {
			return nil, fmt.Errorf("amqp: invalid RequestedReceiverSettleMode %d", rsm)
		}
		s.l.receiverSettleMode = opts.RequestedReceiverSettleMode
	}
	if opts.SettlementMode != nil {
		if ssm := *opts.SettlementMode; ssm > encoding.ModeMixed {
			return nil, fmt.Errorf("amqp: invalid SettlementMode %d", ssm)
		}
		s.l.senderSettleMode = opts.SettlementMode
	}
	s.l.source.Address = opts.SourceAddress
	for _, v := range opts.TargetCapabilities {
		s.l.target.Capabilities = append(s.l.target.Capabilities, encoding.Symbol(v))
	}
	if opts.TargetDurability != encoding.DurabilityNone {
		s.l.target.Durable = opts.TargetDurability
	}
	if opts.TargetExpiryPolicy != "" {
		s.l.target.ExpiryPolicy = opts.TargetExpiryPolicy
	}
	if opts.TargetExpiryTimeout != 0 {
		s.l.target.Timeout = opts.TargetExpiryTimeout
	}
	return s, nil
}

func (s *Sender) attach(ctx context.Context) error {
	if err := s.l.attach(ctx, func(at *frames.Attach) {
		at.Role = encoding.RoleSender
		if at.Target == nil {
			at.Target = new(encoding.Target)
		}
		at.Target.Dynamic = s.l.dynamicAddr
	}, func(at *frames.Attach) {
		if s.l.target == nil {
			s.l.target = new(encoding.Target)
		}
		if s.l.dynamicAddr && at.Target != nil {
			s.l.target.Address = at.Target.Address
		}
	}); err != nil {
		return err
	}

	s.transfers = make(chan frames.Transfer)

	go s.mux()

	return nil
}

// Send sends a Message, blocking until it's handed to the session, ctx
// completes, or an error occurs. If the link's sender settlement mode calls
// for a disposition, Send also waits for that disposition before returning.
func (s *Sender) Send(ctx context.Context, msg *Message, opts *SendOptions) error {
	select {
	case <-s.l.Detached:
		return s.l.detachError
	default:
	}

	done, err := s.send(ctx, msg, opts)
	if err != nil {
		return err
	}
	if done == nil {
		// pre-settled; nothing further to wait for
		return nil
	}

	select {
	case state := <-done:
		if rej, ok := state.(*encoding.StateRejected); ok {
			if s.detachOnRejectDisp() {
				go s.l.muxClose(context.Background(), rej.Error, nil, nil)
				return &DetachError{RemoteError: rej.Error}
			}
			return rej.Error
		}
		return nil
	case <-s.l.Detached:
		return s.l.detachError
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send is split out from Send so the mutex covering buf/nextDeliveryTag is
// released before Send starts waiting on the delivery's disposition.
func (s *Sender) send(ctx context.Context, msg *Message, opts *SendOptions) (chan encoding.DeliveryState, error) {
	const (
		maxDeliveryTagLength   = 32
		maxTransferFrameHeader = 66
	)
	if len(msg.DeliveryTag) > maxDeliveryTagLength {
		return nil, fmt.Errorf("amqp: delivery tag is over the allowed %d bytes, len: %d", maxDeliveryTagLength, len(msg.DeliveryTag))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	if err := msg.Marshal(&s.buf); err != nil {
		return nil, err
	}

	if s.l.maxMessageSize != 0 && uint64(s.buf.Len()) > s.l.maxMessageSize {
		return nil, fmt.Errorf("amqp: encoded message size exceeds max of %d", s.l.maxMessageSize)
	}

	maxFrameSize := s.l.session.conn.peerMaxFrameSize
	if maxFrameSize == 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	maxPayloadSize := int64(maxFrameSize) - maxTransferFrameHeader

	sndSettleMode := s.l.senderSettleMode
	settleOverride := opts != nil && opts.Settled
	senderSettled := sndSettleMode != nil && (*sndSettleMode == encoding.ModeSettled ||
		(*sndSettleMode == encoding.ModeMixed && (msg.SendSettled || settleOverride)))

	var txnState encoding.DeliveryState
	if opts != nil && opts.Txn != nil {
		// a transactional post is not settled directly; the coordinator
		// settles it on commit/rollback.
		senderSettled = false
		txnState = &encoding.TransactionalState{TxnID: opts.Txn.id}
	}

	deliveryTag := msg.DeliveryTag
	if len(deliveryTag) == 0 {
		deliveryTag = make([]byte, 8)
		binary.BigEndian.PutUint64(deliveryTag, s.nextDeliveryTag)
		s.nextDeliveryTag++
	}

	format := msg.Format
	fr := frames.Transfer{
		Handle:        s.l.handle,
		DeliveryID:    &needsDeliveryID,
		DeliveryTag:   deliveryTag,
		MessageFormat: &format,
		More:          s.buf.Len() > 0,
		State:         txnState,
	}

	for {
		buf, _ := s.buf.Next(maxPayloadSize)
		fr.Payload = append([]byte(nil), buf...)
		fr.More = s.buf.Len() > 0
		if !fr.More {
			fr.Settled = senderSettled
			if !senderSettled {
				fr.Done = make(chan encoding.DeliveryState, 1)
			}
		}

		select {
		case s.transfers <- fr:
		case <-s.l.Detached:
			return nil, s.l.detachError
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// fields only carried on the first transfer of a delivery
		fr.DeliveryID = nil
		fr.DeliveryTag = nil
		fr.MessageFormat = nil

		if !fr.More {
			break
		}
	}

	return fr.Done, nil
}

// Close closes the Sender and its underlying link.
func (s *Sender) Close(ctx context.Context) error {
	return s.l.closeLink(ctx)
}

func (s *Sender) mux() {
	defer s.l.muxClose(context.Background(), nil, nil, nil)

	// dispositions the peer's muxHandleFrame produced that still need
	// forwarding to the session, in FIFO order
	outgoingDisp := make(chan *frames.Disposition, 1)
	var outgoingDisps []*frames.Disposition

Loop:
	for {
		var outgoingTransfers chan frames.Transfer
		if s.l.availableCredit > 0 {
			outgoingTransfers = s.transfers
		}

		if len(outgoingDisps) > 0 && len(outgoingDisp) == 0 {
			outgoingDisp <- outgoingDisps[0]
			outgoingDisps = outgoingDisps[1:]
		}

		handleFrame := func(fr frames.FrameBody) error {
			disp, err := s.muxHandleFrame(fr)
			if err != nil {
				s.l.setDetachError(err)
				return err
			}
			if disp != nil {
				outgoingDisps = append(outgoingDisps, disp)
			}
			return nil
		}

		select {
		case dr := <-outgoingDisp:
			for {
				select {
				case s.l.session.tx <- dr:
					continue Loop
				case q := <-s.l.rxQ.Wait():
					fr := *q.Dequeue()
					s.l.rxQ.Release(q)
					if err := handleFrame(fr); err != nil {
						return
					}
				case <-s.l.close:
					continue Loop
				case <-s.l.session.done:
					continue Loop
				}
			}

		case q := <-s.l.rxQ.Wait():
			fr := *q.Dequeue()
			s.l.rxQ.Release(q)
			if err := handleFrame(fr); err != nil {
				return
			}

		case tr := <-outgoingTransfers:
			for {
				select {
				case s.l.session.txTransfer <- &tr:
					if !tr.More {
						s.l.deliveryCount++
						s.l.availableCredit--
						debug.Log(3, "TX (Sender): link: %s, available credit: %d", s.l.key.name, s.l.availableCredit)
					}
					continue Loop
				case q := <-s.l.rxQ.Wait():
					fr := *q.Dequeue()
					s.l.rxQ.Release(q)
					if err := handleFrame(fr); err != nil {
						return
					}
				case <-s.l.close:
					continue Loop
				case <-s.l.session.done:
					continue Loop
				}
			}

		case <-s.l.close:
			return
		case <-s.l.session.done:
			s.l.setDetachError(s.l.session.doneErr)
			return
		}
	}
}

// muxHandleFrame processes fr, returning a disposition to send back when the
// peer's settlement mode requires an acknowledgment.
func (s *Sender) muxHandleFrame(fr frames.FrameBody) (*frames.Disposition, error) {
	debug.Log(2, "RX (Sender): %v", fr)
	switch fr := fr.(type) {
	case *frames.Flow:
		linkCredit := *fr.LinkCredit - s.l.deliveryCount
		if fr.DeliveryCount != nil {
			linkCredit += *fr.DeliveryCount
		}
		s.l.availableCredit = linkCredit

		if !fr.Echo {
			return nil, nil
		}

		deliveryCount := s.l.deliveryCount
		resp := &frames.Flow{
			Handle:        &s.l.handle,
			DeliveryCount: &deliveryCount,
			LinkCredit:    &linkCredit,
		}
		return nil, s.l.session.txFrame(resp, nil)

	case *frames.Disposition:
		if rej, ok := fr.State.(*encoding.StateRejected); ok && s.detachOnRejectDisp() {
			return nil, &DetachError{RemoteError: rej.Error}
		}
		if fr.Settled {
			return nil, nil
		}
		return &frames.Disposition{
			Role:    encoding.RoleSender,
			First:   fr.First,
			Last:    fr.Last,
			Settled: true,
		}, nil

	default:
		return nil, s.l.muxHandleFrame(fr)
	}
}

func (s *Sender) detachOnRejectDisp() bool {
	return s.closeOnDispositionError &&
		(s.l.receiverSettleMode == nil || *s.l.receiverSettleMode == encoding.ModeFirst)
}
