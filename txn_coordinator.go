package amqp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/amqp-proto/go-amqp10/internal/debug"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
)

// CoordinatorOptions contains the optional settings for accepting a
// Coordinator link.
type CoordinatorOptions struct {
	// Capabilities is the list of extension capabilities advertised to the
	// controller.
	Capabilities []string

	// OnDischarge, if set, is invoked when a controller discharges a
	// transaction this coordinator declared, with fail set for a rollback.
	// Applying or rolling back whatever resource-specific work accumulated
	// under the transaction is the caller's responsibility; this type only
	// tracks which txn-ids are currently live.
	OnDischarge func(txnID []byte, fail bool) error
}

// Coordinator is the resource side of a transaction: a receiver link whose
// Target is a Coordinator composite rather than an ordinary node, accepting
// Declare/Discharge requests from a controller.
//
// http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transactions-v1.0-os.html#doc-idp48032
type Coordinator struct {
	receiver    *Receiver
	onDischarge func(txnID []byte, fail bool) error

	mu   sync.Mutex
	live map[string]struct{} // txn-id -> declared and not yet discharged
	next uint64
}

// NewCoordinator establishes a Coordinator on the session, accepting transaction
// Declare/Discharge requests from the peer's controller.
func (s *Session) NewCoordinator(ctx context.Context, opts *CoordinatorOptions) (*Coordinator, error) {
	l := newLink(s, encoding.RoleReceiver)
	rcv := &Receiver{
		l:            l,
		autoSendFlow: true,
		unsettled:    make(map[string]struct{}),
	}
	rcv.l.linkCredit = defaultLinkCredit

	c := &Coordinator{receiver: rcv, live: make(map[string]struct{})}

	coord := &encoding.Coordinator{}
	if opts != nil {
		c.onDischarge = opts.OnDischarge
		for _, v := range opts.Capabilities {
			coord.Capabilities = append(coord.Capabilities, encoding.Symbol(v))
		}
	}

	if err := rcv.l.attach(ctx, func(at *frames.Attach) {
		at.Role = encoding.RoleReceiver
		at.Target = nil
		at.Coordinator = coord
	}, func(*frames.Attach) {}); err != nil {
		return nil, err
	}

	go rcv.mux()

	deliveryCount := rcv.l.deliveryCount
	linkCredit := rcv.l.linkCredit
	_ = rcv.l.session.txFrame(&frames.Flow{
		Handle:        &rcv.l.handle,
		DeliveryCount: &deliveryCount,
		LinkCredit:    &linkCredit,
	}, nil)

	return c, nil
}

// Close closes the coordinator's underlying link.
func (c *Coordinator) Close(ctx context.Context) error {
	return c.receiver.Close(ctx)
}

// Serve processes Declare/Discharge requests until ctx is done or the link
// detaches. Call it from its own goroutine.
func (c *Coordinator) Serve(ctx context.Context) error {
	for {
		msg, err := c.receiver.Receive(ctx)
		if err != nil {
			return err
		}
		if err := c.handle(ctx, msg); err != nil {
			debug.Log(1, "Coordinator: %v", err)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, msg *Message) error {
	d, ok := msg.Value.(encoding.Described)
	if !ok {
		return c.receiver.RejectMessage(ctx, msg, &Error{Condition: ErrCondInvalidField, Description: "expected a Declare or Discharge body"})
	}

	req, ok := encoding.DescribedToTxnRequest(d)
	if !ok {
		return c.receiver.RejectMessage(ctx, msg, &Error{Condition: ErrCondInvalidField, Description: "unrecognized transaction command"})
	}

	switch req := req.(type) {
	case *encoding.Declare:
		id := c.newTxnID()
		c.mu.Lock()
		c.live[string(id)] = struct{}{}
		c.mu.Unlock()
		return c.receiver.settle(ctx, msg, &encoding.StateDeclared{TxnID: id})

	case *encoding.Discharge:
		c.mu.Lock()
		_, known := c.live[string(req.TxnID)]
		delete(c.live, string(req.TxnID))
		c.mu.Unlock()
		if !known {
			return c.receiver.RejectMessage(ctx, msg, &Error{Condition: ErrCondTransactionUnknownID, Description: fmt.Sprintf("unknown transaction id %x", req.TxnID)})
		}
		if c.onDischarge != nil {
			if err := c.onDischarge(req.TxnID, req.Fail); err != nil {
				return c.receiver.RejectMessage(ctx, msg, &Error{Condition: ErrCondTransactionRollback, Description: err.Error()})
			}
		}
		return c.receiver.AcceptMessage(ctx, msg)

	default:
		return c.receiver.RejectMessage(ctx, msg, &Error{Condition: ErrCondInvalidField, Description: "unrecognized transaction command"})
	}
}

func (c *Coordinator) newTxnID() []byte {
	n := atomic.AddUint64(&c.next, 1)
	id := make([]byte, 8)
	for i := range id {
		id[i] = byte(n >> (8 * (7 - i)))
	}
	return id
}
