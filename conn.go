package amqp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
	"github.com/amqp-proto/go-amqp10/internal/debug"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
	"github.com/amqp-proto/go-amqp10/internal/shared"
)

// protocol header IDs, sent as the 5th byte of the 8-byte "AMQP" header.
const (
	protoIDAMQP byte = 0x0
	protoIDTLS  byte = 0x2
	protoIDSASL byte = 0x3
)

// defaultMaxFrameSize is advertised on Open when ConnOptions doesn't set one.
const defaultMaxFrameSize = 65536

// defaultChannelMax is advertised on Open when ConnOptions doesn't set one.
const defaultChannelMax = 65535

// ConnOptions contains the optional settings for establishing a Conn.
type ConnOptions struct {
	ContainerID string
	Hostname    string

	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  time.Duration
	Properties   map[string]interface{}

	// TLSConfig, if non-nil, is used to wrap the transport in TLS. Unless
	// SkipHeaderAfterTLS is set, the id=2 protocol header is exchanged
	// before the handshake and the AMQP (or, with SASLType set, SASL)
	// header is re-exchanged once the TLS session is established.
	TLSConfig *tls.Config

	// SkipHeaderAfterTLS selects the "alternative TLS establishment" mode:
	// the id=2 header exchange is skipped entirely and the AMQP/SASL
	// header is written directly into the already-secured stream. Used by
	// peers that multiplex AMQP onto a connection whose TLS-ness was
	// decided out of band.
	SkipHeaderAfterTLS bool

	// SASLType negotiates a SASL mechanism before the AMQP header
	// exchange. Nil means no SASL layer at all (the id=0 header is sent
	// first). See sasl.go for the available mechanisms.
	SASLType SASLType
}

// Conn is a single AMQP connection: the two-phase opening handshake, the
// per-channel session tables, and the reader/writer/mux goroutine triple
// that services every Session created on it.
type Conn struct {
	net net.Conn

	containerID string
	hostname    string
	maxFrameSize uint32
	channelMax   uint16
	idleTimeout  time.Duration
	properties   map[encoding.Symbol]interface{}
	saslType     SASLType
	tlsConfig    *tls.Config
	skipHeaderAfterTLS bool

	peerMaxFrameSize uint32
	peerChannelMax   uint16
	peerIdleTimeout  time.Duration

	txQueue chan frames.Frame // fed by session muxes and conn's own mux; drained by connWriter
	rxQueue chan frames.Frame // fed by connReader; drained by conn's mux

	newSessionReq chan *newSessionReq
	freeSessionCh chan *Session
	closeRx       chan *frames.Close

	close     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneErr   error

	readErr    error
	readDone   chan struct{}
	writerDone chan struct{}

	byLocalChannel  map[uint16]*Session
	byRemoteChannel map[uint16]*Session
	nextChannel     uint16

	// acceptSessions, when set by a Listener, lets the mux answer a Begin
	// the peer initiates on an unmapped channel instead of treating it as
	// a framing error; the resulting Session is handed to incomingSessions.
	acceptSessions   bool
	incomingSessions chan *Session
}

type newSessionReq struct {
	opts  *SessionOptions
	reply chan newSessionResult
}

type newSessionResult struct {
	session *Session
	err     error
}

// Dial connects to addr (a host:port pair) and performs the full AMQP
// handshake. Use New instead if you already have a net.Conn (or want to set
// up the transport, e.g. a WebSocket, yourself).
func Dial(ctx context.Context, addr string, opts *ConnOptions) (*Conn, error) {
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "amqp: dial %s", addr)
	}
	c, err := New(ctx, netConn, opts)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps netConn and performs the AMQP handshake (header exchange,
// optional TLS/SASL negotiation, Open exchange) before returning.
func New(ctx context.Context, netConn net.Conn, opts *ConnOptions) (*Conn, error) {
	c := &Conn{
		net:             netConn,
		containerID:     "go-amqp10-" + shared.RandString(8),
		maxFrameSize:    defaultMaxFrameSize,
		channelMax:      defaultChannelMax,
		txQueue:         make(chan frames.Frame),
		rxQueue:         make(chan frames.Frame),
		newSessionReq:   make(chan *newSessionReq),
		freeSessionCh:   make(chan *Session),
		closeRx:         make(chan *frames.Close, 1),
		close:           make(chan struct{}),
		done:            make(chan struct{}),
		readDone:        make(chan struct{}),
		writerDone:      make(chan struct{}),
		byLocalChannel:  make(map[uint16]*Session),
		byRemoteChannel: make(map[uint16]*Session),
	}

	if opts != nil {
		if opts.ContainerID != "" {
			c.containerID = opts.ContainerID
		}
		c.hostname = opts.Hostname
		if opts.MaxFrameSize >= 512 {
			c.maxFrameSize = opts.MaxFrameSize
		}
		if opts.ChannelMax > 0 {
			c.channelMax = opts.ChannelMax
		}
		c.idleTimeout = opts.IdleTimeout
		c.saslType = opts.SASLType
		c.tlsConfig = opts.TLSConfig
		c.skipHeaderAfterTLS = opts.SkipHeaderAfterTLS
		if opts.Properties != nil {
			c.properties = make(map[encoding.Symbol]interface{}, len(opts.Properties))
			for k, v := range opts.Properties {
				c.properties[encoding.Symbol(k)] = v
			}
		}
	}

	if err := c.start(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// start runs the handshake synchronously, then launches the steady-state
// reader/writer/mux goroutines.
func (c *Conn) start(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		c.net.SetDeadline(dl)
		defer c.net.SetDeadline(time.Time{})
	}

	if c.tlsConfig != nil && !c.skipHeaderAfterTLS {
		if err := c.exchangeProtoHeader(protoIDTLS); err != nil {
			return err
		}
	}
	if c.tlsConfig != nil {
		tlsConn := tls.Client(c.net, c.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return errors.Wrap(err, "amqp: TLS handshake")
		}
		c.net = tlsConn
	}

	if c.saslType != nil {
		if err := c.exchangeProtoHeader(protoIDSASL); err != nil {
			return err
		}
		if err := c.negotiateSASL(ctx); err != nil {
			return err
		}
	}

	if err := c.exchangeProtoHeader(protoIDAMQP); err != nil {
		return err
	}

	open := &frames.Open{
		ContainerID:  c.containerID,
		Hostname:     c.hostname,
		MaxFrameSize: c.maxFrameSize,
		ChannelMax:   c.channelMax,
		IdleTimeout:  c.idleTimeout,
		Properties:   c.properties,
	}
	if err := c.writeFrameSync(frames.Frame{Type: frames.TypeAMQP, Body: open}); err != nil {
		return errors.Wrap(err, "amqp: sending Open")
	}

	fr, err := c.readFrameSync()
	if err != nil {
		return errors.Wrap(err, "amqp: waiting for Open")
	}
	resp, ok := fr.Body.(*frames.Open)
	if !ok {
		return fmt.Errorf("amqp: expected Open, received %T", fr.Body)
	}

	c.peerMaxFrameSize = resp.MaxFrameSize
	if c.peerMaxFrameSize > c.maxFrameSize && c.maxFrameSize != 0 {
		c.peerMaxFrameSize = c.maxFrameSize
	}
	c.peerChannelMax = resp.ChannelMax
	c.peerIdleTimeout = resp.IdleTimeout

	go c.connReader()
	go c.connWriter()
	go c.mux()

	return nil
}

// exchangeProtoHeader writes the 8-byte protocol header with the given id
// and reads the peer's, failing on a major/minor/revision mismatch.
func (c *Conn) exchangeProtoHeader(id byte) error {
	hdr := []byte{'A', 'M', 'Q', 'P', id, 1, 0, 0}
	if _, err := c.net.Write(hdr); err != nil {
		return errors.Wrap(err, "amqp: writing protocol header")
	}

	peer, err := readExactly(c.net, 8)
	if err != nil {
		return errors.Wrap(err, "amqp: reading protocol header")
	}
	if peer[0] != 'A' || peer[1] != 'M' || peer[2] != 'Q' || peer[3] != 'P' {
		return fmt.Errorf("amqp: invalid protocol header %q", peer)
	}
	if peer[4] != id || peer[5] != 1 || peer[6] != 0 || peer[7] != 0 {
		return fmt.Errorf("amqp: protocol header mismatch: sent %v, received %v", hdr, peer)
	}
	return nil
}

func readExactly(r net.Conn, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := r.Read(buf[read:])
		if err != nil {
			return nil, err
		}
		read += m
	}
	return buf, nil
}

// readFrameSync reads and decodes exactly one frame directly off the net
// connection. Used during the handshake, before connReader is started, and
// by connReader itself afterward.
func (c *Conn) readFrameSync() (frames.Frame, error) {
	hdrBuf, err := readExactly(c.net, frames.HeaderSize)
	if err != nil {
		return frames.Frame{}, err
	}
	hdr, err := frames.ParseHeader(hdrBuf)
	if err != nil {
		return frames.Frame{}, err
	}

	bodySize := int(hdr.Size) - frames.HeaderSize
	if bodySize == 0 {
		return frames.Frame{Type: hdr.FrameType, Channel: hdr.Channel}, nil
	}

	// account for an extended header beyond the fixed 8 bytes
	extra := int(hdr.DataOffset)*4 - frames.HeaderSize
	if extra > 0 {
		if _, err := readExactly(c.net, extra); err != nil {
			return frames.Frame{}, err
		}
		bodySize -= extra
	}

	bodyBuf, err := readExactly(c.net, bodySize)
	if err != nil {
		return frames.Frame{}, err
	}
	body, err := frames.ParseBody(bodyBuf)
	if err != nil {
		return frames.Frame{}, err
	}
	return frames.Frame{Type: hdr.FrameType, Channel: hdr.Channel, Body: body}, nil
}

// writeFrameSync marshals and writes fr directly to the net connection.
// Used only during the handshake, before connWriter takes over.
func (c *Conn) writeFrameSync(fr frames.Frame) error {
	var buf buffer.Buffer
	if err := frames.Write(&buf, fr); err != nil {
		return err
	}
	_, err := c.net.Write(buf.Bytes())
	return err
}

// txFrame hands fr to connWriter, blocking until accepted or the connection
// is done. Called by Session.mux and by Conn's own mux.
func (c *Conn) txFrame(fr frames.Frame) error {
	select {
	case c.txQueue <- fr:
		return nil
	case <-c.done:
		return c.doneErr
	}
}

// NewSession opens a new session on this connection, allocating it a free
// channel number.
func (c *Conn) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	req := &newSessionReq{opts: opts, reply: make(chan newSessionResult, 1)}
	select {
	case c.newSessionReq <- req:
	case <-c.done:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var res newSessionResult
	select {
	case res = <-req.reply:
	case <-c.done:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	if err := res.session.begin(ctx); err != nil {
		return nil, err
	}
	return res.session, nil
}

// Close closes the connection, waiting for the peer's Close or ctx to
// expire. Subsequent calls are no-ops.
func (c *Conn) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.close) })
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connReader parses frames off the network and feeds them to the mux.
func (c *Conn) connReader() {
	defer close(c.readDone)
	for {
		if c.peerIdleTimeout > 0 {
			c.net.SetReadDeadline(time.Now().Add(2 * c.peerIdleTimeout))
		}
		fr, err := c.readFrameSync()
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case c.rxQueue <- fr:
		case <-c.done:
			return
		}
	}
}

// connWriter serializes writes to the network and emits empty (keep-alive)
// frames every half of the peer's advertised idle timeout.
func (c *Conn) connWriter() {
	defer close(c.writerDone)

	var heartbeat <-chan time.Time
	if c.peerIdleTimeout > 0 {
		ticker := time.NewTicker(c.peerIdleTimeout / 2)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	var buf buffer.Buffer
	for {
		select {
		case fr := <-c.txQueue:
			buf.Reset()
			err := frames.Write(&buf, fr)
			if err == nil {
				_, err = c.net.Write(buf.Bytes())
			}
			// fr.Done, when set, is resolved by the owning Session's
			// deliveryDone mechanism once the peer's Disposition arrives
			// (see session.go); a write error means no Disposition will
			// ever come, so that's the one outcome reported here.
			if fr.Done != nil && err != nil {
				close(fr.Done)
			}
			if err != nil {
				debug.Log(1, "TX (Conn): write error: %v", err)
				return
			}

		case <-heartbeat:
			buf.Reset()
			frames.Write(&buf, frames.Frame{Type: frames.TypeAMQP})
			if _, err := c.net.Write(buf.Bytes()); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Conn) mux() {
	defer c.shutdown()

	closeSent := false

	for {
		var closeCh chan struct{}
		if !closeSent {
			closeCh = c.close
		}

		select {
		case fr := <-c.rxQueue:
			if err := c.muxHandleFrame(fr); err != nil {
				c.doneErr = err
				return
			}

		case req := <-c.newSessionReq:
			ch, err := c.allocateChannel()
			if err != nil {
				req.reply <- newSessionResult{err: err}
				continue
			}
			s := newSession(c, ch, req.opts)
			c.byLocalChannel[ch] = s
			req.reply <- newSessionResult{session: s}

		case s := <-c.freeSessionCh:
			delete(c.byLocalChannel, s.channel)
			for rc, sess := range c.byRemoteChannel {
				if sess == s {
					delete(c.byRemoteChannel, rc)
					break
				}
			}

		case cf := <-c.closeRx:
			if !closeSent {
				_ = c.txFrame(frames.Frame{Type: frames.TypeAMQP, Body: &frames.Close{}})
			}
			if cf.Error != nil {
				c.doneErr = fmt.Errorf("amqp: connection closed: %+v", cf.Error)
			}
			return

		case <-closeCh:
			closeSent = true
			_ = c.txFrame(frames.Frame{Type: frames.TypeAMQP, Body: &frames.Close{}})

		case <-c.readDone:
			c.doneErr = c.readErr
			return
		}
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() { close(c.close) })
	if c.doneErr == nil {
		c.doneErr = ErrConnClosed
	}
	close(c.done)
	c.net.Close()
	<-c.readDone
	<-c.writerDone
}

func (c *Conn) muxHandleFrame(fr frames.Frame) error {
	if fr.Body == nil {
		return nil // keep-alive
	}

	if cl, ok := fr.Body.(*frames.Close); ok {
		select {
		case c.closeRx <- cl:
		default:
		}
		return nil
	}

	s, ok := c.byRemoteChannel[fr.Channel]
	if !ok {
		begin, isBegin := fr.Body.(*frames.Begin)
		if !isBegin {
			return fmt.Errorf("amqp: %s: frame on unmapped channel %d", ErrCondFramingError, fr.Channel)
		}
		if begin.RemoteChannel == nil {
			// unsolicited, peer-initiated Begin: only a Listener-side Conn
			// accepts these, allocating a local channel of its own.
			if !c.acceptSessions {
				return fmt.Errorf("amqp: %s: unsolicited Begin on channel %d", ErrCondFramingError, fr.Channel)
			}
			return c.acceptBegin(fr.Channel, begin)
		}
		pending, havePending := c.byLocalChannel[*begin.RemoteChannel]
		if !havePending {
			return fmt.Errorf("amqp: %s: Begin references unknown local channel %d", ErrCondFramingError, *begin.RemoteChannel)
		}
		c.byRemoteChannel[fr.Channel] = pending
		s = pending
	}

	s.rxQ.Enqueue(fr.Body)
	return nil
}

// acceptBegin answers a peer-initiated Begin received on remoteChannel: it
// allocates a local channel, builds the Session with the peer's advertised
// window already applied (mirroring what Session.begin does for the
// client-initiated case), replies with our own Begin, and hands the new
// Session to incomingSessions for AcceptSession to pick up.
func (c *Conn) acceptBegin(remoteChannel uint16, begin *frames.Begin) error {
	ch, err := c.allocateChannel()
	if err != nil {
		return err
	}

	s := newSession(c, ch, nil)
	s.remoteIncomingWindow = begin.IncomingWindow
	s.remoteOutgoingWindow = begin.OutgoingWindow
	s.nextIncomingID = begin.NextOutgoingID
	if begin.HandleMax < s.handleMax {
		s.handleMax = begin.HandleMax
	}

	c.byLocalChannel[ch] = s
	c.byRemoteChannel[remoteChannel] = s

	reply := &frames.Begin{
		RemoteChannel:  &remoteChannel,
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
		HandleMax:      s.handleMax,
	}
	if err := c.txFrame(frames.Frame{Type: frames.TypeAMQP, Channel: ch, Body: reply}); err != nil {
		return err
	}

	go s.mux()

	select {
	case c.incomingSessions <- s:
	default:
		debug.Log(1, "RX (Conn): incomingSessions full, dropping session on channel %d", ch)
		s.closeOnce.Do(func() { close(s.close) })
	}
	return nil
}

// AcceptSession waits for the next session the peer begins on a
// Listener-accepted Conn. Only valid on a Conn returned from Listener.Accept.
func (c *Conn) AcceptSession(ctx context.Context) (*Session, error) {
	select {
	case s, ok := <-c.incomingSessions:
		if !ok {
			return nil, ErrConnClosed
		}
		return s, nil
	case <-c.done:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// allocateChannel finds the lowest unused local channel number, honoring
// the negotiated channel-max. Channel numbers are reused once a session
// fully ends.
func (c *Conn) allocateChannel() (uint16, error) {
	max := c.channelMax
	if c.peerChannelMax < max {
		max = c.peerChannelMax
	}
	if uint32(len(c.byLocalChannel)) > uint32(max) {
		return 0, fmt.Errorf("amqp: %s: no free channels (max %d)", ErrCondResourceLimitExceeded, max)
	}
	c.nextChannel = 0
	for {
		if _, inUse := c.byLocalChannel[c.nextChannel]; !inUse {
			break
		}
		c.nextChannel++
	}
	ch := c.nextChannel
	c.nextChannel++
	return ch, nil
}
