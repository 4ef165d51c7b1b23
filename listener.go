package amqp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
	"github.com/amqp-proto/go-amqp10/internal/shared"
)

// ListenerOptions contains the optional settings for a Listener and the Conn
// it produces on each Accept.
type ListenerOptions struct {
	ContainerID string

	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  time.Duration
	Properties   map[string]interface{}

	// TLSConfig, if non-nil, is used to wrap each accepted transport in a
	// TLS server handshake.
	TLSConfig *tls.Config

	// SASLTypes, if non-empty, requires the client to complete a SASL
	// negotiation offering one of these mechanisms before Open/Begin. Nil
	// means no SASL layer: the client is expected to send the id=0 header
	// directly.
	SASLTypes []SASLServerType
}

// Listener accepts inbound AMQP connections, performing the server side of
// the header/TLS/SASL/Open handshake before handing each Conn to the caller.
type Listener struct {
	net  net.Listener
	opts *ListenerOptions
}

// Listen starts listening on network/address (as net.Listen) and returns a
// Listener ready to Accept inbound AMQP connections.
func Listen(network, address string, opts *ListenerOptions) (*Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "amqp: listen %s %s", network, address)
	}
	if opts == nil {
		opts = &ListenerOptions{}
	}
	return &Listener{net: ln, opts: opts}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.net.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.net.Close() }

// Accept blocks for the next inbound transport, performs the server-side
// handshake on it, and returns the resulting Conn. The caller then pulls
// peer-initiated sessions off it with Conn.AcceptSession.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	netConn, err := l.net.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "amqp: accept")
	}

	c, err := newIncomingConn(ctx, netConn, l.opts)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return c, nil
}

// newIncomingConn runs the server side of the handshake on an already
// accepted transport, the mirror image of New/start for the client role.
func newIncomingConn(ctx context.Context, netConn net.Conn, opts *ListenerOptions) (*Conn, error) {
	c := &Conn{
		net:              netConn,
		containerID:      "go-amqp10-" + shared.RandString(8),
		maxFrameSize:     defaultMaxFrameSize,
		channelMax:       defaultChannelMax,
		txQueue:          make(chan frames.Frame),
		rxQueue:          make(chan frames.Frame),
		newSessionReq:    make(chan *newSessionReq),
		freeSessionCh:    make(chan *Session),
		closeRx:          make(chan *frames.Close, 1),
		close:            make(chan struct{}),
		done:             make(chan struct{}),
		readDone:         make(chan struct{}),
		writerDone:       make(chan struct{}),
		byLocalChannel:   make(map[uint16]*Session),
		byRemoteChannel:  make(map[uint16]*Session),
		acceptSessions:   true,
		incomingSessions: make(chan *Session, 16),
	}

	if opts.ContainerID != "" {
		c.containerID = opts.ContainerID
	}
	if opts.MaxFrameSize >= 512 {
		c.maxFrameSize = opts.MaxFrameSize
	}
	if opts.ChannelMax > 0 {
		c.channelMax = opts.ChannelMax
	}
	c.idleTimeout = opts.IdleTimeout
	c.tlsConfig = opts.TLSConfig
	if opts.Properties != nil {
		c.properties = make(map[encoding.Symbol]interface{}, len(opts.Properties))
		for k, v := range opts.Properties {
			c.properties[encoding.Symbol(k)] = v
		}
	}

	if dl, ok := ctx.Deadline(); ok {
		c.net.SetDeadline(dl)
		defer c.net.SetDeadline(time.Time{})
	}

	if c.tlsConfig != nil {
		if err := c.exchangeProtoHeaderServer(protoIDTLS); err != nil {
			return nil, err
		}
		tlsConn := tls.Server(c.net, c.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, errors.Wrap(err, "amqp: TLS handshake")
		}
		c.net = tlsConn
	}

	if len(opts.SASLTypes) > 0 {
		if err := c.exchangeProtoHeaderServer(protoIDSASL); err != nil {
			return nil, err
		}
		if err := c.negotiateSASLServer(ctx, opts.SASLTypes); err != nil {
			return nil, err
		}
	}

	if err := c.exchangeProtoHeaderServer(protoIDAMQP); err != nil {
		return nil, err
	}

	fr, err := c.readFrameSync()
	if err != nil {
		return nil, errors.Wrap(err, "amqp: waiting for Open")
	}
	peerOpen, ok := fr.Body.(*frames.Open)
	if !ok {
		return nil, fmt.Errorf("amqp: expected Open, received %T", fr.Body)
	}

	open := &frames.Open{
		ContainerID:  c.containerID,
		MaxFrameSize: c.maxFrameSize,
		ChannelMax:   c.channelMax,
		IdleTimeout:  c.idleTimeout,
		Properties:   c.properties,
	}
	if err := c.writeFrameSync(frames.Frame{Type: frames.TypeAMQP, Body: open}); err != nil {
		return nil, errors.Wrap(err, "amqp: sending Open")
	}

	c.peerMaxFrameSize = peerOpen.MaxFrameSize
	if c.peerMaxFrameSize > c.maxFrameSize && c.maxFrameSize != 0 {
		c.peerMaxFrameSize = c.maxFrameSize
	}
	c.peerChannelMax = peerOpen.ChannelMax
	c.peerIdleTimeout = peerOpen.IdleTimeout

	go c.connReader()
	go c.connWriter()
	go c.mux()

	return c, nil
}

// exchangeProtoHeaderServer reads the peer's protocol header first and
// echoes it back verbatim, the server-side mirror of exchangeProtoHeader
// (which writes first, as is correct for the client role).
func (c *Conn) exchangeProtoHeaderServer(id byte) error {
	peer, err := readExactly(c.net, 8)
	if err != nil {
		return errors.Wrap(err, "amqp: reading protocol header")
	}
	if peer[0] != 'A' || peer[1] != 'M' || peer[2] != 'Q' || peer[3] != 'P' {
		return fmt.Errorf("amqp: invalid protocol header %q", peer)
	}
	if peer[4] != id || peer[5] != 1 || peer[6] != 0 || peer[7] != 0 {
		return fmt.Errorf("amqp: protocol header mismatch: expected id %d, received %v", id, peer)
	}
	if _, err := c.net.Write(peer); err != nil {
		return errors.Wrap(err, "amqp: writing protocol header")
	}
	return nil
}
