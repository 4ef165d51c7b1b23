package amqp

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/amqp-proto/go-amqp10/internal/shared"
)

// defaultManagementNodeAddress is the node every broker is expected to expose
// for the $management / CBS request-response pattern (spec §9).
const defaultManagementNodeAddress = "$management"

// RequestResponseLink pairs a Sender and Receiver attached to the same
// management-style node, the shape every CBS/$management client (token
// negotiation, entity management) is built on: requests go out the Sender
// with reply-to set to the Receiver's own address, and responses come back
// correlated by message-id.
type RequestResponseLink struct {
	clientNodeAddress string
	sender            *Sender
	receiver          *Receiver
	nextID            uint64
}

// RequestResponseLinkOptions controls the addresses and link names used when
// attaching a RequestResponseLink.
type RequestResponseLinkOptions struct {
	// ClientNodeAddress is advertised as the reply-to address on outgoing
	// requests and attached as the receiving link's target. Left empty, a
	// unique address is generated the way the teacher generates link names.
	ClientNodeAddress string
}

// NewRequestResponseLink attaches a Sender/Receiver pair against
// nodeAddress, the pattern $management and CBS token negotiation both use:
// a request Message is posted to nodeAddress with ReplyTo pointing back at
// the receiving link, and the correlated response is read off that receiver.
func (s *Session) NewRequestResponseLink(ctx context.Context, nodeAddress string, opts *RequestResponseLinkOptions) (*RequestResponseLink, error) {
	if nodeAddress == "" {
		nodeAddress = defaultManagementNodeAddress
	}

	clientNodeAddress := ""
	if opts != nil {
		clientNodeAddress = opts.ClientNodeAddress
	}
	if clientNodeAddress == "" {
		clientNodeAddress = nodeAddress + "-client-" + shared.RandString(8)
	}

	sender, err := s.NewSender(ctx, nodeAddress, &SenderOptions{
		Name: clientNodeAddress + "-mgmt-sender",
	})
	if err != nil {
		return nil, err
	}

	receiver, err := s.NewReceiver(ctx, nodeAddress, &ReceiverOptions{
		Name:          clientNodeAddress + "-mgmt-receiver",
		TargetAddress: clientNodeAddress,
	})
	if err != nil {
		sender.Close(ctx)
		return nil, err
	}

	return &RequestResponseLink{
		clientNodeAddress: clientNodeAddress,
		sender:            sender,
		receiver:          receiver,
	}, nil
}

// Call posts req to the management node and waits for the correlated
// response, setting Properties.MessageID/ReplyTo on req if the caller left
// them unset. The response's "statusCode"/"statusDescription" application
// properties (the convention every $management/CBS operation replies with)
// are left in ApplicationProperties for the caller to interpret.
func (l *RequestResponseLink) Call(ctx context.Context, req *Message) (*Message, error) {
	if req.Properties == nil {
		req.Properties = &MessageProperties{}
	}
	if req.Properties.MessageID == nil {
		req.Properties.MessageID = strconv.FormatUint(atomic.AddUint64(&l.nextID, 1), 10)
	}
	if req.Properties.ReplyTo == "" {
		req.Properties.ReplyTo = l.clientNodeAddress
	}

	if err := l.sender.Send(ctx, req, nil); err != nil {
		return nil, err
	}

	for {
		resp, err := l.receiver.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if err := l.receiver.AcceptMessage(ctx, resp); err != nil {
			return nil, err
		}
		if resp.Properties == nil || resp.Properties.CorrelationID == req.Properties.MessageID {
			return resp, nil
		}
		// a response correlated to an older Call; not ours, keep waiting.
	}
}

// Close detaches both the sending and receiving links.
func (l *RequestResponseLink) Close(ctx context.Context) error {
	sendErr := l.sender.Close(ctx)
	recvErr := l.receiver.Close(ctx)
	if sendErr != nil {
		return sendErr
	}
	return recvErr
}
