package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
)

// TransactionControllerOptions contains the optional settings for configuring
// a TransactionController.
type TransactionControllerOptions struct {
	// Capabilities is the list of extension capabilities the controller
	// advertises to the coordinator.
	Capabilities []string
}

// TransactionController is the controller side of an AMQP transaction: a
// sending link attached to a transaction coordinator rather than an
// ordinary message node, used to declare and discharge transactions.
//
// http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transactions-v1.0-os.html#section-coordination
type TransactionController struct {
	sender *Sender
}

// NewTransactionController opens a link to the session's peer's transaction
// coordinator.
func (s *Session) NewTransactionController(ctx context.Context, opts *TransactionControllerOptions) (*TransactionController, error) {
	l := newLink(s, encoding.RoleSender)
	snd := &Sender{l: l, closeOnDispositionError: true}

	coord := &encoding.Coordinator{}
	if opts != nil {
		for _, c := range opts.Capabilities {
			coord.Capabilities = append(coord.Capabilities, encoding.Symbol(c))
		}
	}

	if err := snd.l.attach(ctx, func(at *frames.Attach) {
		at.Role = encoding.RoleSender
		at.Target = nil
		at.Coordinator = coord
	}, func(*frames.Attach) {}); err != nil {
		return nil, err
	}

	snd.transfers = make(chan frames.Transfer)
	go snd.mux()

	return &TransactionController{sender: snd}, nil
}

// DeclareOptions contains the optional parameters for Declare.
type DeclareOptions struct {
	// GlobalID, when set, identifies the transaction across more than one
	// coordinator; left nil for a coordinator-local transaction.
	GlobalID interface{}
}

// Declare asks the coordinator to start a new transaction.
func (tc *TransactionController) Declare(ctx context.Context, opts *DeclareOptions) (*Transaction, error) {
	decl := &encoding.Declare{}
	if opts != nil {
		decl.GlobalID = opts.GlobalID
	}

	done, err := tc.sender.send(ctx, &Message{Value: decl}, nil)
	if err != nil {
		return nil, err
	}
	if done == nil {
		return nil, fmt.Errorf("amqp: transaction declare must not be sent pre-settled")
	}

	select {
	case state := <-done:
		declared, ok := state.(*encoding.StateDeclared)
		if !ok {
			return nil, fmt.Errorf("amqp: invalid response declaring transaction (not StateDeclared, was %T)", state)
		}
		return &Transaction{controller: tc, id: declared.TxnID}, nil
	case <-tc.sender.l.Detached:
		return nil, tc.sender.l.detachError
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DischargeOptions contains the optional parameters for Discharge.
type DischargeOptions struct {
	// placeholder for future optional parameters
}

// discharge sends the Discharge command for txnID and waits for it to
// settle.
func (tc *TransactionController) discharge(ctx context.Context, txnID []byte, fail bool, _ *DischargeOptions) error {
	return tc.sender.Send(ctx, &Message{Value: &encoding.Discharge{TxnID: txnID, Fail: fail}}, nil)
}

// Close closes the controller's link to the coordinator.
func (tc *TransactionController) Close(ctx context.Context) error {
	return tc.sender.Close(ctx)
}

// Transaction is an in-progress transaction obtained from
// TransactionController.Declare. Messages posted with SendOptions.Txn set,
// and deliveries retired while acquired via Receiver.AcquireCredit, are
// scoped to it until Commit or Rollback discharges it with the coordinator.
type Transaction struct {
	controller *TransactionController
	id         []byte

	mu         sync.Mutex
	discharged bool
	acquired   []*Receiver
}

// ID returns the opaque transaction identifier assigned by the coordinator.
func (t *Transaction) ID() []byte {
	return t.id
}

// trackAcquired records a receiver whose credit is scoped to this
// transaction, so Commit/Rollback can release the acquire.
func (t *Transaction) trackAcquired(r *Receiver) {
	t.mu.Lock()
	t.acquired = append(t.acquired, r)
	t.mu.Unlock()
}

func (t *Transaction) releaseAcquired() {
	t.mu.Lock()
	acquired := t.acquired
	t.acquired = nil
	t.mu.Unlock()
	for _, r := range acquired {
		r.releaseAcquired()
	}
}

// Commit discharges the transaction with fail=false, asking the coordinator
// to apply the work scoped to it.
func (t *Transaction) Commit(ctx context.Context) error {
	return t.end(ctx, false)
}

// Rollback discharges the transaction with fail=true, asking the
// coordinator to discard the work scoped to it.
func (t *Transaction) Rollback(ctx context.Context) error {
	return t.end(ctx, true)
}

func (t *Transaction) end(ctx context.Context, fail bool) error {
	t.mu.Lock()
	if t.discharged {
		t.mu.Unlock()
		return nil
	}
	t.discharged = true
	t.mu.Unlock()

	t.releaseAcquired()
	return t.controller.discharge(ctx, t.id, fail, nil)
}

// Close implements the spec's "dropping a controller-side Transaction
// without explicit discharge triggers an implicit rollback" behavior: a
// best-effort, fire-and-forget Discharge{fail:true}, never blocking the
// caller. Calling Close after Commit/Rollback is a no-op.
func (t *Transaction) Close() {
	t.mu.Lock()
	if t.discharged {
		t.mu.Unlock()
		return
	}
	t.discharged = true
	t.mu.Unlock()

	t.releaseAcquired()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.controller.discharge(ctx, t.id, true, nil)
	}()
}
