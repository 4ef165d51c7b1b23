package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
	"github.com/amqp-proto/go-amqp10/internal/debug"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
)

// defaultLinkCredit is the initial credit issued on attach when the
// application hasn't enabled manual credit management.
const defaultLinkCredit = 1

// ReceiverOptions contains the optional settings for attaching a Receiver.
type ReceiverOptions struct {
	Capabilities                []string
	Credit                      int32
	Durability                  encoding.Durability
	DynamicAddress              bool
	ExpiryPolicy                encoding.ExpiryPolicy
	ExpiryTimeout               uint32
	ManualCredits               bool
	MaxMessageSize              uint64
	Name                        string
	Properties                  map[string]interface{}
	RequestedSenderSettleMode   *encoding.SenderSettleMode
	SettlementMode              *encoding.ReceiverSettleMode
	SourceCapabilities          []string
	SourceDurability            encoding.Durability
	SourceExpiryPolicy          encoding.ExpiryPolicy
	SourceExpiryTimeout         uint32
	TargetAddress               string
}

// Receiver receives messages on a single AMQP link.
type Receiver struct {
	l link

	autoSendFlow  bool
	creditor      *manualCreditor
	receivedCount uint32 // messages handed to the application by muxReceive

	unsettledMu sync.Mutex
	unsettled   map[string]struct{} // deliveryTag -> pending application disposition (RSM=Second)

	flowSignalOnce sync.Once
	flowSignalCh   chan struct{} // woken by IssueCredit/DrainCredit to re-run manualCreditor.FlowBits

	// in-progress multi-transfer reassembly state; only ever touched by mux
	msgBuf     buffer.Buffer
	msg        Message
	more       bool
	msgDelivID uint32
	msgTag     []byte
}

// newReceiver creates a new receiving link and readies it for attach.
func newReceiver(source string, session *Session, opts *ReceiverOptions) (*Receiver, error) {
	l := newLink(session, encoding.RoleReceiver)
	r := &Receiver{
		l:            l,
		autoSendFlow: true,
		unsettled:    make(map[string]struct{}),
	}
	r.l.source = &encoding.Source{Address: source}
	r.l.target = nil
	r.l.linkCredit = defaultLinkCredit

	if opts == nil {
		return r, nil
	}

	if opts.Credit > 0 {
		r.l.linkCredit = uint32(opts.Credit)
	}
	for _, v := range opts.Capabilities {
		r.l.source.Capabilities = append(r.l.source.Capabilities, encoding.Symbol(v))
	}
	if opts.Durability > encoding.DurabilityUnsettledState {
		return nil, fmt.Errorf("amqp: invalid Durability %d", opts.Durability)
	}
	r.l.source.Durable = opts.Durability
	if opts.DynamicAddress {
		r.l.source.Address = ""
		r.l.dynamicAddr = true
	}
	if opts.ExpiryPolicy != "" {
		r.l.source.ExpiryPolicy = opts.ExpiryPolicy
	}
	r.l.source.Timeout = opts.ExpiryTimeout
	if opts.ManualCredits {
		r.autoSendFlow = false
		r.creditor = &manualCreditor{}
	}
	r.l.maxMessageSize = opts.MaxMessageSize
	if opts.Name != "" {
		r.l.key.name = opts.Name
	}
	if opts.Properties != nil {
		r.l.properties = make(map[encoding.Symbol]interface{})
		for k, v := range opts.Properties {
			if k == "" {
				return nil, errors.New("amqp: link property key must not be empty")
			}
			r.l.properties[encoding.Symbol(k)] = v
		}
	}
	if opts.RequestedSenderSettleMode != nil {
		if ssm := *opts.RequestedSenderSettleMode; ssm > encoding.ModeMixed {
			return nil, fmt.Errorf("amqp: invalid RequestedSenderSettleMode %d", ssm)
		}
		r.l.senderSettleMode = opts.RequestedSenderSettleMode
	}
	if opts.SettlementMode != nil {
		if rsm := *opts.SettlementMode; rsm > encoding.ModeSecond {
			return nil, fmt.Errorf("amqp: invalid SettlementMode %d", rsm)
		}
		r.l.receiverSettleMode = opts.SettlementMode
	}
	for _, v := range opts.SourceCapabilities {
		r.l.source.Capabilities = append(r.l.source.Capabilities, encoding.Symbol(v))
	}
	if opts.TargetAddress != "" {
		r.l.target = &encoding.Target{Address: opts.TargetAddress}
	}
	return r, nil
}

func (r *Receiver) attach(ctx context.Context) error {
	if err := r.l.attach(ctx, func(at *frames.Attach) {
		at.Role = encoding.RoleReceiver
		if at.Source == nil {
			at.Source = new(encoding.Source)
		}
		at.Source.Dynamic = r.l.dynamicAddr
	}, func(at *frames.Attach) {
		if r.l.source == nil {
			r.l.source = new(encoding.Source)
		}
		if r.l.dynamicAddr && at.Source != nil {
			r.l.source.Address = at.Source.Address
		}
	}); err != nil {
		return err
	}

	go r.mux()

	// issue our initial credit now that the link is attached
	deliveryCount := r.l.deliveryCount
	linkCredit := r.l.linkCredit
	_ = r.l.session.txFrame(&frames.Flow{
		Handle:        &r.l.handle,
		DeliveryCount: &deliveryCount,
		LinkCredit:    &linkCredit,
		Properties:    r.l.flowProperties(),
	}, nil)

	return nil
}

// LinkName is the name of the link used for this Receiver.
func (r *Receiver) LinkName() string {
	return r.l.key.name
}

// Address returns the link's source address.
func (r *Receiver) Address() string {
	if r.l.source == nil {
		return ""
	}
	return r.l.source.Address
}

// Prefetched returns the next message, if one is already buffered, without
// blocking; it returns nil if nothing is available.
func (r *Receiver) Prefetched() *Message {
	select {
	case m := <-r.l.Messages:
		return &m
	default:
		return nil
	}
}

// Receive waits for the next message on the link. It's cancel-safe: if ctx
// is cancelled before a message arrives, no message is lost — it stays
// queued in the link's inbox for the next call.
func (r *Receiver) Receive(ctx context.Context) (*Message, error) {
	select {
	case m := <-r.l.Messages:
		return &m, nil
	case <-r.l.Detached:
		return nil, r.l.detachError
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IssueCredit adds credits to be requested at the next flow, for use when
// ManualCredits is enabled.
func (r *Receiver) IssueCredit(credit uint32) error {
	if r.creditor == nil {
		return errors.New("amqp: IssueCredit requires ManualCredits to be enabled")
	}
	if err := r.creditor.IssueCredit(credit, &r.l); err != nil {
		return err
	}
	r.signalFlow()
	return nil
}

// DrainCredit drains any outstanding credit and blocks until the peer
// acknowledges, for use when ManualCredits is enabled.
func (r *Receiver) DrainCredit(ctx context.Context) error {
	if r.creditor == nil {
		return errors.New("amqp: DrainCredit requires ManualCredits to be enabled")
	}
	r.signalFlow()
	return r.creditor.Drain(ctx, &r.l)
}

// AcquireCredit raises credit under the scope of txn (spec's "acquire"
// operation): deliveries received against this credit carry txn in their
// Message and settle through the coordinator when txn commits or rolls
// back, rather than being retired directly.
func (r *Receiver) AcquireCredit(ctx context.Context, txn *Transaction, credit uint32) error {
	if r.creditor == nil {
		return errors.New("amqp: AcquireCredit requires ManualCredits to be enabled")
	}
	r.l.txnID = txn.id
	txn.trackAcquired(r)
	return r.IssueCredit(credit)
}

// releaseAcquired clears an active acquire, called by the owning
// Transaction on commit/rollback.
func (r *Receiver) releaseAcquired() {
	r.l.txnID = nil
}

// signalFlow wakes the mux to recompute and send a Flow frame from the
// manualCreditor's pending state.
func (r *Receiver) signalFlow() {
	select {
	case r.flowSignal() <- struct{}{}:
	default:
	}
}

// flowSignal lazily creates the signalling channel; kept as a method so the
// zero-value Receiver (as constructed in tests) doesn't need to pre-wire it.
func (r *Receiver) flowSignal() chan struct{} {
	r.flowSignalOnce.Do(func() {
		r.flowSignalCh = make(chan struct{}, 1)
	})
	return r.flowSignalCh
}

// AcceptMessage notifies the sender that msg has been accepted.
func (r *Receiver) AcceptMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, &encoding.StateAccepted{})
}

// RejectMessage notifies the sender that msg was rejected as invalid or unusable,
// optionally carrying an error describing why.
func (r *Receiver) RejectMessage(ctx context.Context, msg *Message, e *Error) error {
	return r.settle(ctx, msg, &encoding.StateRejected{Error: e})
}

// ReleaseMessage notifies the sender that msg is being returned for redelivery
// without having been examined.
func (r *Receiver) ReleaseMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, &encoding.StateReleased{})
}

// ModifyMessage notifies the sender that msg should be redelivered (or dropped),
// optionally annotated and/or marked as undeliverable here.
func (r *Receiver) ModifyMessage(ctx context.Context, msg *Message, deliveryFailed, undeliverableHere bool, annotations Annotations) error {
	return r.settle(ctx, msg, &encoding.StateModified{
		DeliveryFailed:     deliveryFailed,
		UndeliverableHere:  undeliverableHere,
		MessageAnnotations: annotations,
	})
}

func (r *Receiver) settle(ctx context.Context, msg *Message, state encoding.DeliveryState) error {
	if r.l.receiverSettleMode != nil && *r.l.receiverSettleMode == encoding.ModeFirst {
		// already implicitly settled on receipt; nothing to send
		return nil
	}

	tag := string(msg.DeliveryTag)
	r.unsettledMu.Lock()
	_, pending := r.unsettled[tag]
	r.unsettledMu.Unlock()
	if !pending {
		return nil
	}

	if txn := msg.txnID; len(txn) > 0 {
		debug.Log(3, "RX (Receiver): retiring delivery under transaction %x", txn)
		state = &encoding.TransactionalState{TxnID: txn, Outcome: state}
	}

	did := msg.deliveryID
	disp := &frames.Disposition{
		Role:    encoding.RoleReceiver,
		First:   did,
		Last:    &did,
		Settled: true,
		State:   state,
	}

	select {
	case r.l.session.tx <- disp:
	case <-r.l.Detached:
		return r.l.detachError
	case <-ctx.Done():
		return ctx.Err()
	}

	r.unsettledMu.Lock()
	delete(r.unsettled, tag)
	r.unsettledMu.Unlock()

	return nil
}

// Close closes the Receiver and its underlying link.
func (r *Receiver) Close(ctx context.Context) error {
	return r.l.closeLink(ctx)
}

func (r *Receiver) mux() {
	defer r.l.muxClose(context.Background(), nil, nil, nil)

	for {
		select {
		case q := <-r.l.rxQ.Wait():
			fr := *q.Dequeue()
			r.l.rxQ.Release(q)
			if err := r.muxHandleFrame(fr); err != nil {
				r.l.setDetachError(err)
				return
			}

		case <-r.flowSignal():
			if r.creditor == nil {
				continue
			}
			drain, credits := r.creditor.FlowBits()
			r.l.linkCredit += credits
			deliveryCount := r.l.deliveryCount
			linkCredit := r.l.linkCredit
			_ = r.l.session.txFrame(&frames.Flow{
				Handle:        &r.l.handle,
				DeliveryCount: &deliveryCount,
				LinkCredit:    &linkCredit,
				Drain:         drain,
				Properties:    r.l.flowProperties(),
			}, nil)

		case <-r.l.close:
			return
		case <-r.l.session.done:
			r.l.setDetachError(r.l.session.doneErr)
			return
		}
	}
}

func (r *Receiver) muxHandleFrame(fr frames.FrameBody) error {
	debug.Log(2, "RX (Receiver): %v", fr)
	switch fr := fr.(type) {
	case *frames.Transfer:
		return r.muxReceive(*fr)

	case *frames.Flow:
		if r.creditor != nil {
			// any flow from the peer while a drain is outstanding signals
			// that our outstanding credit has been consumed or returned
			r.creditor.EndDrain()
		}
		if fr.Echo {
			deliveryCount := r.l.deliveryCount
			linkCredit := r.l.linkCredit
			return r.l.session.txFrame(&frames.Flow{
				Handle:        &r.l.handle,
				DeliveryCount: &deliveryCount,
				LinkCredit:    &linkCredit,
				Properties:    r.l.flowProperties(),
			}, nil)
		}
		return nil

	default:
		return r.l.muxHandleFrame(fr)
	}
}

// muxReceive reassembles one or more Transfer frames into a Message and, once
// complete, hands it to the application via l.Messages.
func (r *Receiver) muxReceive(fr frames.Transfer) error {
	if !r.more {
		r.msgBuf.Reset()
		r.msg = Message{}
		r.msgTag = fr.DeliveryTag
		if fr.DeliveryID != nil {
			r.msgDelivID = *fr.DeliveryID
		}
	}

	r.msgBuf.Append(fr.Payload)
	r.more = fr.More

	if fr.More {
		return nil
	}

	if err := r.msg.Unmarshal(&r.msgBuf); err != nil {
		return fmt.Errorf("amqp: failed to unmarshal message: %w", err)
	}

	r.msg.DeliveryTag = r.msgTag
	r.msg.deliveryID = r.msgDelivID
	r.msg.settled = fr.Settled
	r.msg.receiver = r
	r.msg.txnID = r.l.txnID

	r.l.deliveryCount++
	if r.l.linkCredit > 0 {
		r.l.linkCredit--
	}

	if !fr.Settled && (r.l.receiverSettleMode == nil || *r.l.receiverSettleMode != encoding.ModeFirst) {
		r.unsettledMu.Lock()
		r.unsettled[string(r.msgTag)] = struct{}{}
		r.unsettledMu.Unlock()
	}

	select {
	case r.l.Messages <- r.msg:
	case <-r.l.close:
		return nil
	}

	r.receivedCount++
	if r.autoSendFlow && r.l.linkCredit == 0 {
		r.l.linkCredit = defaultLinkCredit
		deliveryCount := r.l.deliveryCount
		linkCredit := r.l.linkCredit
		return r.l.session.txFrame(&frames.Flow{
			Handle:        &r.l.handle,
			DeliveryCount: &deliveryCount,
			LinkCredit:    &linkCredit,
			Properties:    r.l.flowProperties(),
		}, nil)
	}

	return nil
}
