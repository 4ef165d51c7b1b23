package frames

import (
	"errors"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
)

// SASLCode is the outcome code carried by a sasl-outcome frame.
type SASLCode uint8

const (
	SASLCodeOK      SASLCode = 0
	SASLCodeAuth    SASLCode = 1
	SASLCodeSys     SASLCode = 2
	SASLCodeSysPerm SASLCode = 3
	SASLCodeSysTemp SASLCode = 4
)

func (c SASLCode) String() string {
	switch c {
	case SASLCodeOK:
		return "OK"
	case SASLCodeAuth:
		return "Auth"
	case SASLCodeSys:
		return "Sys"
	case SASLCodeSysPerm:
		return "SysPerm"
	case SASLCodeSysTemp:
		return "SysTemp"
	default:
		return "unknown"
	}
}

func (c SASLCode) Marshal(wr *buffer.Buffer) error {
	return encoding.Marshal(wr, uint8(c))
}

func (c *SASLCode) Unmarshal(r *buffer.Buffer) error {
	var v uint8
	if err := encoding.Unmarshal(r, &v); err != nil {
		return err
	}
	*c = SASLCode(v)
	return nil
}

// SASLMechanisms is sent by the server, offering the mechanisms it supports.
type SASLMechanisms struct {
	Mechanisms encoding.MultiSymbol
}

func (*SASLMechanisms) isFrameBody()                 {}
func (*SASLMechanisms) descriptor() encoding.TypeCode { return encoding.TypeCodeSASLMechanism }

func (sm *SASLMechanisms) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLMechanism, []encoding.Field{
		{Value: &sm.Mechanisms},
	})
}

func (sm *SASLMechanisms) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLMechanism,
		encoding.UnField{Field: &sm.Mechanisms, OnNull: func() error {
			return errors.New("frames: SASLMechanisms.Mechanisms is required")
		}},
	)
}

// SASLInit is sent by the client, selecting a mechanism and (for mechanisms
// that start with one) an initial response.
type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

func (*SASLInit) isFrameBody()                 {}
func (*SASLInit) descriptor() encoding.TypeCode { return encoding.TypeCodeSASLInit }

func (si *SASLInit) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLInit, []encoding.Field{
		{Value: &si.Mechanism},
		{Value: &si.InitialResponse, Omit: len(si.InitialResponse) == 0},
		{Value: &si.Hostname, Omit: si.Hostname == ""},
	})
}

func (si *SASLInit) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLInit,
		encoding.UnField{Field: &si.Mechanism, OnNull: func() error {
			return errors.New("frames: SASLInit.Mechanism is required")
		}},
		encoding.UnField{Field: &si.InitialResponse},
		encoding.UnField{Field: &si.Hostname},
	)
}

// String elides InitialResponse, which may carry a plaintext secret.
func (si *SASLInit) String() string {
	return "SASLInit{Mechanism: " + string(si.Mechanism) + ", InitialResponse: ********, Hostname: " + si.Hostname + "}"
}

// SASLChallenge carries an opaque challenge from server to client, part of a
// multi-step mechanism such as SCRAM.
type SASLChallenge struct {
	Challenge []byte
}

func (*SASLChallenge) isFrameBody()                 {}
func (*SASLChallenge) descriptor() encoding.TypeCode { return encoding.TypeCodeSASLChallenge }

func (sc *SASLChallenge) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLChallenge, []encoding.Field{
		{Value: &sc.Challenge},
	})
}

func (sc *SASLChallenge) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLChallenge,
		encoding.UnField{Field: &sc.Challenge, OnNull: func() error {
			return errors.New("frames: SASLChallenge.Challenge is required")
		}},
	)
}

func (sc *SASLChallenge) String() string { return "SASLChallenge{Challenge: ********}" }

// SASLResponse answers a SASLChallenge.
type SASLResponse struct {
	Response []byte
}

func (*SASLResponse) isFrameBody()                 {}
func (*SASLResponse) descriptor() encoding.TypeCode { return encoding.TypeCodeSASLResponse }

func (sr *SASLResponse) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLResponse, []encoding.Field{
		{Value: &sr.Response},
	})
}

func (sr *SASLResponse) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLResponse,
		encoding.UnField{Field: &sr.Response, OnNull: func() error {
			return errors.New("frames: SASLResponse.Response is required")
		}},
	)
}

func (sr *SASLResponse) String() string { return "SASLResponse{Response: ********}" }

// SASLOutcome ends the SASL negotiation, carrying the final code and any
// mechanism-specific additional data (e.g. SCRAM's server-final-message).
type SASLOutcome struct {
	Code           SASLCode
	AdditionalData []byte
}

func (*SASLOutcome) isFrameBody()                 {}
func (*SASLOutcome) descriptor() encoding.TypeCode { return encoding.TypeCodeSASLOutcome }

func (so *SASLOutcome) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLOutcome, []encoding.Field{
		{Value: &so.Code},
		{Value: &so.AdditionalData, Omit: len(so.AdditionalData) == 0},
	})
}

func (so *SASLOutcome) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLOutcome,
		encoding.UnField{Field: &so.Code, OnNull: func() error {
			return errors.New("frames: SASLOutcome.Code is required")
		}},
		encoding.UnField{Field: &so.AdditionalData},
	)
}
