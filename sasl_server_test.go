package amqp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSASLServerTypeAnonymous(t *testing.T) {
	s := SASLServerTypeAnonymous()
	require.EqualValues(t, "ANONYMOUS", s.mechanism())

	challenge, done, err := s.next([]byte("anything"))
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, challenge)
}

func TestSASLServerTypePlainAccepts(t *testing.T) {
	s := SASLServerTypePlain(func(authcid, password string) bool {
		return authcid == "alice" && password == "hunter2"
	})
	require.EqualValues(t, "PLAIN", s.mechanism())

	response := []byte("\x00alice\x00hunter2")
	challenge, done, err := s.next(response)
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, challenge)
}

func TestSASLServerTypePlainRejectsBadCredentials(t *testing.T) {
	s := SASLServerTypePlain(func(authcid, password string) bool {
		return authcid == "alice" && password == "hunter2"
	})

	_, done, err := s.next([]byte("\x00alice\x00wrongpass"))
	require.Error(t, err)
	require.True(t, done)
}

func TestSASLServerTypePlainRejectsMalformedResponse(t *testing.T) {
	s := SASLServerTypePlain(func(string, string) bool { return true })

	_, done, err := s.next([]byte("not-a-plain-response"))
	require.Error(t, err)
	require.True(t, done)
}
