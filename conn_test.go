package amqp

import (
	"testing"
	"time"

	"github.com/amqp-proto/go-amqp10/internal/frames"
	"github.com/stretchr/testify/require"
)

// newTestListenerConn builds a bare Conn in listener/accept mode, with just
// enough state for muxHandleFrame's channel bookkeeping to run without a
// live network connection or mux goroutine.
func newTestListenerConn() *Conn {
	return &Conn{
		channelMax:       defaultChannelMax,
		peerChannelMax:   defaultChannelMax,
		txQueue:          make(chan frames.Frame, 4),
		byLocalChannel:   make(map[uint16]*Session),
		byRemoteChannel:  make(map[uint16]*Session),
		acceptSessions:   true,
		incomingSessions: make(chan *Session, 4),
	}
}

func TestAcceptBeginRegistersChannelsAndRepliesBegin(t *testing.T) {
	c := newTestListenerConn()

	peerChannel := uint16(7)
	begin := &frames.Begin{
		NextOutgoingID: 1,
		IncomingWindow: 100,
		OutgoingWindow: 50,
		HandleMax:      10,
	}

	err := c.muxHandleFrame(frames.Frame{Type: frames.TypeAMQP, Channel: peerChannel, Body: begin})
	require.NoError(t, err)

	require.Len(t, c.byLocalChannel, 1)
	require.Len(t, c.byRemoteChannel, 1)
	s, ok := c.byRemoteChannel[peerChannel]
	require.True(t, ok)
	require.Equal(t, begin.IncomingWindow, s.remoteIncomingWindow)
	require.Equal(t, begin.OutgoingWindow, s.remoteOutgoingWindow)
	require.Equal(t, begin.NextOutgoingID, s.nextIncomingID)

	select {
	case fr := <-c.txQueue:
		reply, ok := fr.Body.(*frames.Begin)
		require.True(t, ok)
		require.NotNil(t, reply.RemoteChannel)
		require.Equal(t, peerChannel, *reply.RemoteChannel)
	case <-time.After(time.Second):
		t.Fatal("expected a reply Begin on txQueue")
	}

	select {
	case got := <-c.incomingSessions:
		require.Same(t, s, got)
	case <-time.After(time.Second):
		t.Fatal("expected the new session on incomingSessions")
	}
}

func TestUnsolicitedBeginRejectedWithoutAcceptMode(t *testing.T) {
	c := newTestListenerConn()
	c.acceptSessions = false

	err := c.muxHandleFrame(frames.Frame{Type: frames.TypeAMQP, Channel: 3, Body: &frames.Begin{}})
	require.Error(t, err)
}

func TestFrameOnUnmappedChannelIsFramingError(t *testing.T) {
	c := newTestListenerConn()
	c.acceptSessions = false

	err := c.muxHandleFrame(frames.Frame{Type: frames.TypeAMQP, Channel: 3, Body: &frames.Flow{}})
	require.Error(t, err)
}
