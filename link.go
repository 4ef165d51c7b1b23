package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amqp-proto/go-amqp10/internal/debug"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
	"github.com/amqp-proto/go-amqp10/internal/queue"
	"github.com/amqp-proto/go-amqp10/internal/shared"
)

// linkKey uniquely identifies a link on a connection by name and direction.
//
// A link can be identified uniquely by the ordered tuple
//
//	(source-container-id, target-container-id, name)
//
// On a single connection the container ID pairs can be abbreviated to a
// boolean flag indicating the direction of the link.
type linkKey struct {
	name string
	role encoding.Role // local role: sender/receiver
}

// link contains the common state and methods for sending and receiving links.
type link struct {
	key          linkKey // name and direction
	handle       uint32  // our handle
	remoteHandle uint32  // remote's handle
	dynamicAddr  bool    // request a dynamic link address from the server

	// frames destined for this link are added to this queue by
	// Session.muxHandleFrame.
	rxQ *queue.Holder[frames.FrameBody]

	// used for gracefully closing a link
	close     chan struct{} // signals a link's mux to shut down; do not use this to check if a link has terminated, use Detached instead
	closeOnce *sync.Once    // protects close from being closed multiple times
	err       error         // error to return from Close; set before close is closed

	// Detached is closed once the link's mux has exited, whether from a
	// local Close or a detach frame sent by the peer. detachError holds the
	// terminal error for any operation still waiting on the link once it's
	// set; do not touch outside of link.go until Detached has closed.
	Detached        chan struct{}
	detachErrorOnce sync.Once
	detachError     error

	// Messages is the reassembled-message inbox for receiver links; manual
	// credit bookkeeping in manualCreditor.go sizes outstanding credit
	// against its capacity. Unused (nil) on sender links.
	Messages chan Message

	session    *Session                // parent session
	source     *encoding.Source        // used for Receiver links
	target     *encoding.Target        // used for Sender links
	properties map[encoding.Symbol]any // additional properties sent upon link attach

	// "The delivery-count is initialized by the sender when a link endpoint
	// is created, and is incremented whenever a message is sent. Only the
	// sender MAY independently modify this field. The receiver's value is
	// calculated based on the last known value from the sender and any
	// subsequent messages received on the link."
	deliveryCount uint32

	// The current maximum number of messages the receiver endpoint of the
	// link can handle. Only the receiver can independently set this value;
	// the sender sets it to the last known value seen from the receiver.
	linkCredit uint32

	// The number of messages awaiting credit at the sender endpoint. Only
	// the sender independently sets this value.
	availableCredit uint32

	senderSettleMode   *encoding.SenderSettleMode
	receiverSettleMode *encoding.ReceiverSettleMode
	maxMessageSize     uint64
	detachReceived     bool // set to true when the peer initiates link detach/close

	// txnID, if non-empty, is the transaction under which this link's
	// transfers/dispositions are scoped (§4.8 acquire). Installed as a link
	// property on the next outgoing Flow and cleared on commit/rollback.
	txnID []byte
}

// flowProperties returns the link-property map to attach to the next
// outgoing Flow, carrying txn-id while an acquire is active and nil
// otherwise.
func (l *link) flowProperties() map[encoding.Symbol]interface{} {
	if len(l.txnID) == 0 {
		return nil
	}
	return map[encoding.Symbol]interface{}{"txn-id": l.txnID}
}

func newLink(s *Session, r encoding.Role) link {
	l := link{
		key:       linkKey{shared.RandString(40), r},
		session:   s,
		close:     make(chan struct{}),
		closeOnce: &sync.Once{},
		Detached:  make(chan struct{}),
	}

	// set the segment size relative to the respective window
	var segmentSize int
	if r == encoding.RoleReceiver {
		segmentSize = int(s.incomingWindow)
	} else {
		segmentSize = int(s.outgoingWindow)
	}
	if segmentSize <= 0 {
		segmentSize = 1
	}

	l.rxQ = queue.NewHolder(queue.New[frames.FrameBody](segmentSize))

	if r == encoding.RoleReceiver {
		l.Messages = make(chan Message, segmentSize)
	}

	return l
}

// waitForFrame waits for an incoming frame to be queued. It returns the next
// frame from the queue, or an error — either from ctx or session.doneErr.
// Not meant for consumption outside of link.go.
func (l *link) waitForFrame(ctx context.Context) (frames.FrameBody, error) {
	var q *queue.Queue[frames.FrameBody]
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.session.done:
		return nil, l.session.doneErr
	case <-l.Detached:
		return nil, l.detachError
	case q = <-l.rxQ.Wait():
		// frame received
	}

	fr := q.Dequeue()
	l.rxQ.Release(q)

	return *fr, nil
}

// attach sends the Attach performative to establish the link with its parent
// session. Called automatically by the new*Link constructors.
func (l *link) attach(ctx context.Context, beforeAttach func(*frames.Attach), afterAttach func(*frames.Attach)) error {
	if err := l.session.allocateHandle(l); err != nil {
		return err
	}

	attach := &frames.Attach{
		Name:                 l.key.name,
		Handle:               l.handle,
		Role:                 l.key.role,
		ReceiverSettleMode:   l.receiverSettleMode,
		SenderSettleMode:     l.senderSettleMode,
		MaxMessageSize:       l.maxMessageSize,
		Source:               l.source,
		Target:               l.target,
		InitialDeliveryCount: l.deliveryCount,
		Properties:           l.properties,
	}

	// link-specific configuration of the attach frame
	beforeAttach(attach)

	_ = l.session.txFrame(attach, nil)

	// wait for response
	fr, err := l.waitForFrame(ctx)
	if isContextErr(err) {
		// attach was written to the network; assume it was received and
		// that ctx was just too short to wait for the ack.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			l.muxClose(ctx, nil, nil, nil)
		}()
		return ctx.Err()
	} else if err != nil {
		return err
	}

	resp, ok := fr.(*frames.Attach)
	if !ok {
		return fmt.Errorf("amqp: unexpected attach response: %#v", fr)
	}

	// If the remote encounters an error during attach it returns an Attach
	// with no Source or Target, then sends a Detach with an error.
	if resp.Source == nil && resp.Target == nil && resp.Coordinator == nil {
		fr, err := l.waitForFrame(ctx)
		if isContextErr(err) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				l.muxClose(ctx, nil, nil, nil)
			}()
			return ctx.Err()
		} else if err != nil {
			return err
		}

		detach, ok := fr.(*frames.Detach)
		if !ok {
			return fmt.Errorf("amqp: unexpected frame while waiting for detach: %#v", fr)
		}

		_ = l.session.txFrame(&frames.Detach{Handle: l.handle, Closed: true}, nil)

		if detach.Error == nil {
			return errors.New("amqp: received detach with no error specified")
		}
		return detach.Error
	}

	if l.maxMessageSize == 0 || resp.MaxMessageSize < l.maxMessageSize {
		l.maxMessageSize = resp.MaxMessageSize
	}

	// link-specific configuration post attach
	afterAttach(resp)

	if err := l.setSettleModes(resp); err != nil {
		l.muxClose(ctx, nil, nil, nil)
		return err
	}

	return nil
}

// setSettleModes reconciles the settlement modes from the peer's Attach
// response. If a mode was explicitly requested locally and the peer didn't
// honor it, that's an error.
func (l *link) setSettleModes(resp *frames.Attach) error {
	localRecvSettle := receiverSettleModeValue(l.receiverSettleMode)
	respRecvSettle := receiverSettleModeValue(resp.ReceiverSettleMode)
	if l.receiverSettleMode != nil && localRecvSettle != respRecvSettle {
		return fmt.Errorf("amqp: receiver settlement mode %q requested, received %q from server", localRecvSettle, respRecvSettle)
	}
	l.receiverSettleMode = &respRecvSettle

	localSendSettle := senderSettleModeValue(l.senderSettleMode)
	respSendSettle := senderSettleModeValue(resp.SenderSettleMode)
	if l.senderSettleMode != nil && localSendSettle != respSendSettle {
		return fmt.Errorf("amqp: sender settlement mode %q requested, received %q from server", localSendSettle, respSendSettle)
	}
	l.senderSettleMode = &respSendSettle

	return nil
}

func receiverSettleModeValue(m *encoding.ReceiverSettleMode) encoding.ReceiverSettleMode {
	if m == nil {
		return encoding.ModeFirst
	}
	return *m
}

func senderSettleModeValue(m *encoding.SenderSettleMode) encoding.SenderSettleMode {
	if m == nil {
		return encoding.ModeMixed
	}
	return *m
}

// muxHandleFrame processes fr, common to both sender and receiver links.
func (l *link) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.Detach:
		// don't currently support link detach and reattach
		if !fr.Closed {
			return fmt.Errorf("amqp: non-closing detach not supported: %+v", fr)
		}

		l.detachReceived = true

		return &DetachError{RemoteError: fr.Error}

	default:
		debug.Log(1, "RX (link): unexpected frame: %v", fr)
	}

	return nil
}

// setDetachError records the terminal error for the link exactly once and
// closes Detached, waking anything blocked in waitForFrame or manualCreditor.
func (l *link) setDetachError(err error) {
	l.detachErrorOnce.Do(func() {
		l.detachError = err
		close(l.Detached)
	})
}

// closeLink closes the link and blocks until its mux has exited or ctx
// expires.
func (l *link) closeLink(ctx context.Context) error {
	l.err = nil
	l.closeOnce.Do(func() { close(l.close) })

	select {
	case <-l.Detached:
		// mux exited
	case <-ctx.Done():
		return ctx.Err()
	}

	var detachErr *DetachError
	if errors.As(l.detachError, &detachErr) && detachErr.RemoteError == nil {
		// a DetachError with no remote error means the link was closed by the caller
		return nil
	}
	return l.detachError
}

// muxClose closes the link.
//   - err is the error sent to the peer if we're closing with an error
//   - deferred runs during the final phase of shutdown (may be nil)
//   - onRXTransfer handles incoming Transfer frames arriving during shutdown (may be nil)
func (l *link) muxClose(ctx context.Context, err *encoding.Error, deferred func(), onRXTransfer func(frames.Transfer)) {
	defer func() {
		// if ctx timed out or was cancelled we don't know for certain the
		// link was properly terminated; in that case it may be unsafe to
		// reuse the handle.
		if ctx.Err() == nil {
			l.session.deallocateHandle(l)
		}

		if deferred != nil {
			deferred()
		}

		l.setDetachError(&DetachError{})
	}()

	// "A peer closes a link by sending the detach frame with the handle for
	// the specified link, and the closed flag set to true. The partner will
	// destroy the corresponding link endpoint, and reply with its own
	// detach frame with the closed flag set to true."
	fr := &frames.Detach{
		Handle: l.handle,
		Closed: true,
		Error:  err,
	}

	select {
	case <-ctx.Done():
		return
	case l.session.tx <- fr:
		// frame sent to our session mux
	case <-l.session.done:
		l.setDetachError(l.session.doneErr)
		return
	}

	// if the peer initiated the close then we just sent the ack, so we're done
	if l.detachReceived {
		return
	}

	// wait for the ack
	for {
		fr, err := l.waitForFrame(ctx)
		if isContextErr(err) {
			return
		} else if err != nil {
			l.setDetachError(err)
			return
		}

		switch fr := fr.(type) {
		case *frames.Detach:
			if fr.Closed {
				return
			}
		case *frames.Transfer:
			if onRXTransfer != nil {
				onRXTransfer(*fr)
			}
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
