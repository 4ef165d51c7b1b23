package encoding

import (
	"fmt"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

// SenderSettleMode controls whether the sender settles transfers
// unilaterally, waits for the receiver, or decides per-transfer.
type SenderSettleMode uint8

const (
	// ModeUnsettled indicates the sender will send all deliveries
	// unsettled, leaving the receiver to decide final outcome.
	ModeUnsettled SenderSettleMode = 0
	// ModeSettled indicates the sender settles every transfer before
	// sending it, giving "best effort" at-most-once delivery.
	ModeSettled SenderSettleMode = 1
	// ModeMixed indicates the sender chooses settlement per delivery.
	ModeMixed SenderSettleMode = 2
)

func (m SenderSettleMode) String() string {
	switch m {
	case ModeUnsettled:
		return "unsettled"
	case ModeSettled:
		return "settled"
	case ModeMixed:
		return "mixed"
	default:
		return fmt.Sprintf("SenderSettleMode(%d)", uint8(m))
	}
}

// Ptr returns a pointer to m, a convenience for populating optional
// performative fields.
func (m SenderSettleMode) Ptr() *SenderSettleMode { return &m }

// Marshal encodes the mode as a ubyte.
func (m SenderSettleMode) Marshal(wr *buffer.Buffer) error {
	return Marshal(wr, uint8(m))
}

// Unmarshal decodes the mode from a ubyte.
func (m *SenderSettleMode) Unmarshal(r *buffer.Buffer) error {
	v, err := decodeUint(r)
	if err != nil {
		return err
	}
	*m = SenderSettleMode(v)
	return nil
}

// ReceiverSettleMode controls whether the receiver settles immediately upon
// receipt (first) or may hold a transfer unsettled pending application
// disposition (second).
type ReceiverSettleMode uint8

const (
	// ModeFirst settles the delivery as soon as it arrives.
	ModeFirst ReceiverSettleMode = 0
	// ModeSecond defers settlement until the application examines the
	// delivery and sends an explicit disposition.
	ModeSecond ReceiverSettleMode = 1
)

func (m ReceiverSettleMode) String() string {
	switch m {
	case ModeFirst:
		return "first"
	case ModeSecond:
		return "second"
	default:
		return fmt.Sprintf("ReceiverSettleMode(%d)", uint8(m))
	}
}

// Ptr returns a pointer to m.
func (m ReceiverSettleMode) Ptr() *ReceiverSettleMode { return &m }

// Marshal encodes the mode as a ubyte.
func (m ReceiverSettleMode) Marshal(wr *buffer.Buffer) error {
	return Marshal(wr, uint8(m))
}

// Unmarshal decodes the mode from a ubyte.
func (m *ReceiverSettleMode) Unmarshal(r *buffer.Buffer) error {
	v, err := decodeUint(r)
	if err != nil {
		return err
	}
	*m = ReceiverSettleMode(v)
	return nil
}
