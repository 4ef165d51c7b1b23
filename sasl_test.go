package amqp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSASLTypeAnonymous(t *testing.T) {
	s := SASLTypeAnonymous()
	require.EqualValues(t, "ANONYMOUS", s.mechanism())

	resp, err := s.initialResponse()
	require.NoError(t, err)
	require.Nil(t, resp)

	_, err = s.step([]byte("unexpected"))
	require.Error(t, err)
}

func TestSASLTypePlain(t *testing.T) {
	s := SASLTypePlain("alice", "hunter2")
	require.EqualValues(t, "PLAIN", s.mechanism())

	resp, err := s.initialResponse()
	require.NoError(t, err)
	require.Equal(t, "\x00alice\x00hunter2", string(resp))

	_, err = s.step([]byte("unexpected"))
	require.Error(t, err)
}

func TestSASLTypePlainResponseFieldOrder(t *testing.T) {
	s := SASLTypePlain("bob", "secret")
	resp, err := s.initialResponse()
	require.NoError(t, err)

	parts := strings.Split(string(resp), "\x00")
	require.Len(t, parts, 3)
	require.Equal(t, "", parts[0]) // authzid left empty
	require.Equal(t, "bob", parts[1])
	require.Equal(t, "secret", parts[2])
}
