package amqp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
	"github.com/amqp-proto/go-amqp10/internal/mocks"
)

func dialTestConn(t *testing.T, extra func(frames.FrameBody) ([]byte, error)) *Conn {
	t.Helper()
	responder := func(req frames.FrameBody) ([]byte, error) {
		switch tt := req.(type) {
		case *mocks.AMQPProto:
			hdr, _ := mocks.ProtoHeader(mocks.ProtoAMQP)
			return hdr, nil
		case *frames.Open:
			return mocks.PerformOpen("test-peer")
		case *frames.Begin:
			return mocks.PerformBegin(0)
		case *frames.End:
			return mocks.PerformEnd()
		case *frames.Close:
			return mocks.PerformClose()
		default:
			if extra != nil {
				if b, err := extra(tt); b != nil || err != nil {
					return b, err
				}
			}
			return nil, fmt.Errorf("unhandled frame %T", req)
		}
	}
	netConn := mocks.NewConnection(responder)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := New(ctx, netConn, &ConnOptions{ContainerID: "test-client"})
	require.NoError(t, err)
	return c
}

func TestNewSessionBeginsAndTracksChannel(t *testing.T) {
	defer leaktest.Check(t)()
	c := dialTestConn(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := c.NewSession(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, uint16(0), s.channel)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, c.Close(closeCtx))
}

func TestNewSessionHonorsOptions(t *testing.T) {
	defer leaktest.Check(t)()
	c := dialTestConn(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := c.NewSession(ctx, &SessionOptions{IncomingWindow: 10, OutgoingWindow: 20})
	require.NoError(t, err)
	require.Equal(t, uint32(10), s.incomingWindow)
	require.Equal(t, uint32(20), s.outgoingWindow)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, c.Close(closeCtx))
}

func TestSessionAllocateHandleRejectsDuplicateName(t *testing.T) {
	s := newSession(nil, 0, nil)
	l1 := newLink(s, encoding.RoleSender)
	l1.key.name = "dup"
	require.NoError(t, s.allocateHandle(&l1))

	l2 := newLink(s, encoding.RoleSender)
	l2.key.name = "dup"
	err := s.allocateHandle(&l2)
	require.Error(t, err)
}

func TestSessionAllocateHandleReusesFreedSlots(t *testing.T) {
	s := newSession(nil, 0, nil)
	l1 := newLink(s, encoding.RoleSender)
	l1.key.name = "one"
	require.NoError(t, s.allocateHandle(&l1))
	require.EqualValues(t, 0, l1.handle)

	s.deallocateHandle(&l1)

	l2 := newLink(s, encoding.RoleSender)
	l2.key.name = "two"
	require.NoError(t, s.allocateHandle(&l2))
	require.EqualValues(t, 0, l2.handle)
}
