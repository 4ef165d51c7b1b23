package amqp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSASLTypeSCRAMSHA256Mechanism(t *testing.T) {
	s, err := SASLTypeSCRAMSHA256("user", "pencil")
	require.NoError(t, err)
	require.EqualValues(t, "SCRAM-SHA-256", s.mechanism())

	msg, err := s.initialResponse()
	require.NoError(t, err)
	// RFC 5802 client-first-message: gs2-header "n,," followed by the
	// bare client-first-message "n=<username>,r=<nonce>".
	require.True(t, strings.HasPrefix(string(msg), "n,,n=user,r="))
}

func TestSASLTypeSCRAMSHA1Mechanism(t *testing.T) {
	s, err := SASLTypeSCRAMSHA1("user", "pencil")
	require.NoError(t, err)
	require.EqualValues(t, "SCRAM-SHA-1", s.mechanism())
}

func TestSASLTypeSCRAMSHA512Mechanism(t *testing.T) {
	s, err := SASLTypeSCRAMSHA512("user", "pencil")
	require.NoError(t, err)
	require.EqualValues(t, "SCRAM-SHA-512", s.mechanism())
}

func TestSASLTypeSCRAMStepWithoutInitialResponseErrors(t *testing.T) {
	s, err := SASLTypeSCRAMSHA256("user", "pencil")
	require.NoError(t, err)

	// stepping before producing the client-first message is an out-of-order
	// use of the underlying conversation and must surface as an error, not
	// panic.
	_, err = s.step([]byte("r=somenonce,s=c2FsdA==,i=4096"))
	require.Error(t, err)
}
