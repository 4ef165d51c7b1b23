package amqp

import (
	"context"
	"fmt"
	"sync"

	"github.com/amqp-proto/go-amqp10/internal/debug"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
	"github.com/amqp-proto/go-amqp10/internal/queue"
)

// defaultWindow is the session flow-control window advertised on Begin when
// the caller hasn't requested a specific size.
const defaultWindow = 5000

// SessionOptions contains the optional settings for starting a session.
type SessionOptions struct {
	IncomingWindow uint32
	OutgoingWindow uint32
	MaxLinks       uint32
}

// Session tracks state for an AMQP session: the four-integer flow-control
// window, the local/remote link handle tables, and delivery-id bookkeeping
// for the links it owns.
type Session struct {
	channel uint16
	conn    *Conn

	rxQ *queue.Holder[frames.FrameBody] // fed by conn's channel demux

	tx         chan frames.FrameBody // outgoing non-Transfer frames
	txTransfer chan *frames.Transfer // outgoing Transfer frames needing delivery-id assignment

	close     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneErr   error
	endRx     chan *frames.End // delivers the peer's End to the mux loop

	incomingWindow uint32
	outgoingWindow uint32

	// incomingWindowCapacity is the configured receive capacity (from
	// SessionOptions.IncomingWindow, or defaultWindow) that incomingWindow is
	// refilled to once it runs low. It is independent of outgoingWindow,
	// which governs how much we may send, not how much we can receive.
	incomingWindowCapacity uint32

	nextOutgoingID       uint32
	nextIncomingID       uint32
	remoteIncomingWindow uint32
	remoteOutgoingWindow uint32

	handleMax uint32

	linksMu       sync.Mutex
	linksByName   map[string]*link
	outputHandles map[uint32]*link // our own handle -> link
	inputHandles  map[uint32]*link // peer's handle -> link
	nextHandle    uint32

	// deliverySenders maps an outgoing delivery-id (assigned by this session
	// to a Transfer we sent) back to the Sender link that owns it, so an
	// inbound Disposition about that delivery can be routed without a handle.
	deliverySenders map[uint32]*link

	// deliveryDone maps an outgoing delivery-id to the Done channel the
	// sending goroutine is blocked on, for unsettled deliveries that need
	// their terminal DeliveryState handed back.
	deliveryDone map[uint32]chan encoding.DeliveryState
}

func newSession(c *Conn, channel uint16, opts *SessionOptions) *Session {
	s := &Session{
		channel:                channel,
		conn:                   c,
		tx:                     make(chan frames.FrameBody),
		txTransfer:             make(chan *frames.Transfer),
		close:                  make(chan struct{}),
		done:                   make(chan struct{}),
		endRx:                  make(chan *frames.End, 1),
		incomingWindow:         defaultWindow,
		outgoingWindow:         defaultWindow,
		incomingWindowCapacity: defaultWindow,
		handleMax:              4294967295,
		linksByName:            make(map[string]*link),
		outputHandles:          make(map[uint32]*link),
		inputHandles:           make(map[uint32]*link),
		deliverySenders:        make(map[uint32]*link),
		deliveryDone:           make(map[uint32]chan encoding.DeliveryState),
	}
	s.rxQ = queue.NewHolder(queue.New[frames.FrameBody](32))

	if opts != nil {
		if opts.IncomingWindow > 0 {
			s.incomingWindow = opts.IncomingWindow
			s.incomingWindowCapacity = opts.IncomingWindow
		}
		if opts.OutgoingWindow > 0 {
			s.outgoingWindow = opts.OutgoingWindow
		}
		if opts.MaxLinks > 0 {
			s.handleMax = opts.MaxLinks - 1
		}
	}

	return s
}

// begin sends the Begin performative and waits for the peer's Begin before
// starting the session's mux.
func (s *Session) begin(ctx context.Context) error {
	begin := &frames.Begin{
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
		HandleMax:      s.handleMax,
	}
	if err := s.conn.txFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.channel, Body: begin}); err != nil {
		return err
	}

	fr, err := s.waitForFrame(ctx)
	if err != nil {
		return err
	}
	resp, ok := fr.(*frames.Begin)
	if !ok {
		return fmt.Errorf("amqp: expected Begin, received %T", fr)
	}

	s.remoteIncomingWindow = resp.IncomingWindow
	s.remoteOutgoingWindow = resp.OutgoingWindow
	s.nextIncomingID = resp.NextOutgoingID
	if resp.HandleMax < s.handleMax {
		s.handleMax = resp.HandleMax
	}

	go s.mux()

	return nil
}

// waitForFrame is only safe to call before the mux starts, or from the mux
// goroutine itself (e.g. during the End handshake).
func (s *Session) waitForFrame(ctx context.Context) (frames.FrameBody, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case q := <-s.rxQ.Wait():
		fr := q.Dequeue()
		s.rxQ.Release(q)
		return *fr, nil
	}
}

// NewSender opens a new sending link on this session.
func (s *Session) NewSender(ctx context.Context, target string, opts *SenderOptions) (*Sender, error) {
	snd, err := newSender(target, s, opts)
	if err != nil {
		return nil, err
	}
	if err := snd.attach(ctx); err != nil {
		return nil, err
	}
	return snd, nil
}

// NewReceiver opens a new receiving link on this session.
func (s *Session) NewReceiver(ctx context.Context, source string, opts *ReceiverOptions) (*Receiver, error) {
	rcv, err := newReceiver(source, s, opts)
	if err != nil {
		return nil, err
	}
	if err := rcv.attach(ctx); err != nil {
		return nil, err
	}
	return rcv, nil
}

// Close ends the session, waiting for the peer's End or ctx to expire.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.close) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// allocateHandle assigns l the lowest unused output handle and registers it
// in the session's handle and name tables.
func (s *Session) allocateHandle(l *link) error {
	s.linksMu.Lock()
	defer s.linksMu.Unlock()

	if _, exists := s.linksByName[l.key.name]; exists {
		return fmt.Errorf("amqp: link name %q already in use on this session", l.key.name)
	}

	if uint32(len(s.outputHandles)) > s.handleMax {
		return fmt.Errorf("amqp: reached session handle-max (%d)", s.handleMax)
	}

	s.nextHandle = 0
	for {
		if _, in := s.outputHandles[s.nextHandle]; !in {
			break
		}
		s.nextHandle++
	}

	l.handle = s.nextHandle
	s.nextHandle++

	s.outputHandles[l.handle] = l
	s.linksByName[l.key.name] = l

	return nil
}

// deallocateHandle frees l's handle and removes it from the session's
// tracking tables.
func (s *Session) deallocateHandle(l *link) {
	s.linksMu.Lock()
	defer s.linksMu.Unlock()

	delete(s.outputHandles, l.handle)
	delete(s.inputHandles, l.remoteHandle)
	delete(s.linksByName, l.key.name)
}

// txFrame sends fr to the session's mux for forwarding to the connection. It
// blocks until accepted, the session ends, or... it never times out on its
// own; callers select on s.done/ctx themselves where that matters.
func (s *Session) txFrame(fr frames.FrameBody, done chan encoding.DeliveryState) error {
	if t, ok := fr.(*frames.Transfer); ok && done != nil {
		t.Done = done
	}
	select {
	case s.tx <- fr:
		return nil
	case <-s.done:
		return s.doneErr
	}
}

func (s *Session) mux() {
	defer s.shutdown()

	endSent := false

	for {
		var closeCh chan struct{}
		if !endSent {
			closeCh = s.close
		}

		select {
		case q := <-s.rxQ.Wait():
			fr := *q.Dequeue()
			s.rxQ.Release(q)
			if err := s.muxHandleFrame(fr); err != nil {
				s.doneErr = err
				return
			}

		case endFr := <-s.endRx:
			if !endSent {
				// peer-initiated End; ack it before tearing down
				_ = s.conn.txFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.channel, Body: &frames.End{}})
			}
			if endFr.Error != nil {
				s.doneErr = fmt.Errorf("amqp: session ended: %+v", endFr.Error)
			}
			return

		case fr := <-s.tx:
			if err := s.conn.txFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.channel, Body: fr}); err != nil {
				s.doneErr = err
				return
			}

		case tr := <-s.txTransfer:
			if tr.DeliveryID == &needsDeliveryID {
				id := s.nextOutgoingID
				tr.DeliveryID = &id
				s.nextOutgoingID++
				if s.remoteIncomingWindow > 0 {
					s.remoteIncomingWindow--
				}
				s.linksMu.Lock()
				if l, ok := s.outputHandles[tr.Handle]; ok {
					s.deliverySenders[id] = l
				}
				if tr.Done != nil {
					s.deliveryDone[id] = tr.Done
				}
				s.linksMu.Unlock()
			}
			if err := s.conn.txFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.channel, Body: tr, Done: tr.Done}); err != nil {
				s.doneErr = err
				return
			}

		case <-closeCh:
			endSent = true
			_ = s.conn.txFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.channel, Body: &frames.End{}})

		case <-s.conn.done:
			s.doneErr = s.conn.doneErr
			return
		}
	}
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() { close(s.close) })
	close(s.done)

	s.linksMu.Lock()
	links := make([]*link, 0, len(s.outputHandles))
	for _, l := range s.outputHandles {
		links = append(links, l)
	}
	s.linksMu.Unlock()

	for _, l := range links {
		l.setDetachError(s.doneErr)
	}
}

func (s *Session) muxHandleFrame(fr frames.FrameBody) error {
	debug.Log(2, "RX (Session): %v", fr)

	switch fr := fr.(type) {
	case *frames.Attach:
		s.linksMu.Lock()
		l, ok := s.linksByName[fr.Name]
		if ok {
			l.remoteHandle = fr.Handle
			s.inputHandles[fr.Handle] = l
		}
		s.linksMu.Unlock()
		if !ok {
			return fmt.Errorf("amqp: received Attach for unknown link %q", fr.Name)
		}
		l.rxQ.Enqueue(fr)
		return nil

	case *frames.Flow:
		if fr.NextIncomingID != nil {
			s.remoteOutgoingWindow = *fr.NextIncomingID + fr.IncomingWindow - s.nextOutgoingID
		} else {
			s.remoteOutgoingWindow = fr.IncomingWindow
		}
		s.remoteIncomingWindow = fr.OutgoingWindow

		if fr.Handle == nil {
			return nil
		}
		l := s.lookupInputHandle(*fr.Handle)
		if l == nil {
			return nil
		}
		l.rxQ.Enqueue(fr)
		return nil

	case *frames.Transfer:
		l := s.lookupInputHandle(fr.Handle)
		if l == nil {
			return fmt.Errorf("amqp: received Transfer for unattached handle %d", fr.Handle)
		}

		if s.incomingWindow == 0 {
			return fmt.Errorf("amqp: %s: incoming-window exhausted", ErrCondWindowViolation)
		}
		s.nextIncomingID++
		s.incomingWindow--

		l.rxQ.Enqueue(fr)

		if s.incomingWindow < s.incomingWindowCapacity/2 {
			s.incomingWindow = s.incomingWindowCapacity
			nextIncomingID := s.nextIncomingID
			_ = s.conn.txFrame(frames.Frame{Type: frames.TypeAMQP, Channel: s.channel, Body: &frames.Flow{
				NextIncomingID: &nextIncomingID,
				IncomingWindow: s.incomingWindow,
				NextOutgoingID: s.nextOutgoingID,
				OutgoingWindow: s.outgoingWindow,
			}})
		}
		return nil

	case *frames.Disposition:
		if fr.Role == encoding.RoleReceiver {
			s.linksMu.Lock()
			var target *link
			last := fr.First
			if fr.Last != nil {
				last = *fr.Last
			}
			for id := fr.First; id <= last; id++ {
				if l, ok := s.deliverySenders[id]; ok {
					target = l
					if fr.Settled {
						delete(s.deliverySenders, id)
					}
				}
				if done, ok := s.deliveryDone[id]; ok && fr.State != nil {
					select {
					case done <- fr.State:
					default:
					}
					delete(s.deliveryDone, id)
				}
			}
			s.linksMu.Unlock()
			if target != nil {
				target.rxQ.Enqueue(fr)
			}
			return nil
		}
		// Role == RoleSender: a peer-as-sender disposition about deliveries
		// we received; receiver links don't wait on it, so it's dropped once
		// decoded.
		return nil

	case *frames.Detach:
		l := s.lookupInputHandle(fr.Handle)
		if l == nil {
			return fmt.Errorf("amqp: received Detach for unattached handle %d", fr.Handle)
		}
		l.rxQ.Enqueue(fr)
		return nil

	case *frames.End:
		select {
		case s.endRx <- fr:
		default:
		}
		return nil

	default:
		debug.Log(1, "RX (Session): unexpected frame: %v", fr)
		return nil
	}
}

func (s *Session) lookupInputHandle(h uint32) *link {
	s.linksMu.Lock()
	defer s.linksMu.Unlock()
	return s.inputHandles[h]
}
