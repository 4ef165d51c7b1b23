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

func dialTestSession(t *testing.T, extra func(frames.FrameBody) ([]byte, error)) (*Conn, *Session) {
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
		case *frames.Attach:
			if tt.Role == encoding.RoleSender {
				return mocks.SenderAttach(tt.Name, 1, encoding.ModeMixed, 0)
			}
			return mocks.ReceiverAttach(tt.Name, 2, encoding.ModeFirst)
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

	s, err := c.NewSession(ctx, nil)
	require.NoError(t, err)

	return c, s
}

func TestNewRequestResponseLinkDefaultsNodeAddress(t *testing.T) {
	defer leaktest.Check(t)()
	c, s := dialTestSession(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	l, err := s.NewRequestResponseLink(ctx, "", nil)
	require.NoError(t, err)
	require.Equal(t, defaultManagementNodeAddress, l.sender.Address())
	require.Equal(t, defaultManagementNodeAddress, l.receiver.Address())
	require.NotEmpty(t, l.clientNodeAddress)
	require.Equal(t, l.clientNodeAddress, l.receiver.l.target.Address)

	require.NoError(t, l.Close(ctx))

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, c.Close(closeCtx))
}

func TestNewRequestResponseLinkHonorsClientNodeAddress(t *testing.T) {
	defer leaktest.Check(t)()
	c, s := dialTestSession(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	l, err := s.NewRequestResponseLink(ctx, "custom-node", &RequestResponseLinkOptions{ClientNodeAddress: "my-client"})
	require.NoError(t, err)
	require.Equal(t, "custom-node", l.sender.Address())
	require.Equal(t, "my-client", l.clientNodeAddress)
	require.Equal(t, "my-client", l.receiver.l.target.Address)

	require.NoError(t, l.Close(ctx))

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, c.Close(closeCtx))
}
