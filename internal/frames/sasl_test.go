package frames

import (
	"testing"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/stretchr/testify/require"
)

func roundTripSASL(t *testing.T, body FrameBody, decoded FrameBody) {
	t.Helper()
	var buf buffer.Buffer
	require.NoError(t, Write(&buf, Frame{Type: TypeSASL, Body: body}))

	hdr, err := ParseHeader(buf.Bytes()[:HeaderSize])
	require.NoError(t, err)
	require.Equal(t, TypeSASL, hdr.FrameType)

	got, err := ParseBody(buf.Bytes()[HeaderSize:])
	require.NoError(t, err)
	require.Equal(t, decoded, got)
}

func TestSASLMechanismsRoundTrip(t *testing.T) {
	roundTripSASL(t,
		&SASLMechanisms{Mechanisms: encoding.MultiSymbol{"PLAIN", "ANONYMOUS"}},
		&SASLMechanisms{Mechanisms: encoding.MultiSymbol{"PLAIN", "ANONYMOUS"}},
	)
}

func TestSASLInitRoundTrip(t *testing.T) {
	roundTripSASL(t,
		&SASLInit{Mechanism: "PLAIN", InitialResponse: []byte{0, 'u', 's', 'r', 0, 'p', 'w'}, Hostname: "broker.example"},
		&SASLInit{Mechanism: "PLAIN", InitialResponse: []byte{0, 'u', 's', 'r', 0, 'p', 'w'}, Hostname: "broker.example"},
	)
}

func TestSASLInitRoundTripNoHostname(t *testing.T) {
	roundTripSASL(t,
		&SASLInit{Mechanism: "ANONYMOUS"},
		&SASLInit{Mechanism: "ANONYMOUS"},
	)
}

func TestSASLChallengeRoundTrip(t *testing.T) {
	roundTripSASL(t,
		&SASLChallenge{Challenge: []byte("r=fyko+d2lbbFgONRv9qkxdawL")},
		&SASLChallenge{Challenge: []byte("r=fyko+d2lbbFgONRv9qkxdawL")},
	)
}

func TestSASLResponseRoundTrip(t *testing.T) {
	roundTripSASL(t,
		&SASLResponse{Response: []byte("c=biws,r=fyko+d2lbbFgONRv9qkxdawL")},
		&SASLResponse{Response: []byte("c=biws,r=fyko+d2lbbFgONRv9qkxdawL")},
	)
}

func TestSASLOutcomeRoundTrip(t *testing.T) {
	roundTripSASL(t,
		&SASLOutcome{Code: SASLCodeOK},
		&SASLOutcome{Code: SASLCodeOK},
	)
	roundTripSASL(t,
		&SASLOutcome{Code: SASLCodeAuth, AdditionalData: []byte("v=rmF9pqV8S7suAoZWja4dJRkFsKQ=")},
		&SASLOutcome{Code: SASLCodeAuth, AdditionalData: []byte("v=rmF9pqV8S7suAoZWja4dJRkFsKQ=")},
	)
}

func TestSASLCodeString(t *testing.T) {
	cases := map[SASLCode]string{
		SASLCodeOK:      "OK",
		SASLCodeAuth:    "Auth",
		SASLCodeSys:     "Sys",
		SASLCodeSysPerm: "SysPerm",
		SASLCodeSysTemp: "SysTemp",
		SASLCode(99):    "unknown",
	}
	for code, want := range cases {
		require.Equal(t, want, code.String())
	}
}
