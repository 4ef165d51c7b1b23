package amqp

import (
	"crypto/sha512"
	"fmt"

	"github.com/xdg-go/scram"

	"github.com/amqp-proto/go-amqp10/internal/encoding"
)

// scramSASL adapts an xdg-go/scram client conversation to the SASLType
// interface, the same wrapping pattern used to drive SCRAM against a
// Kafka broker: a HashGeneratorFcn picks the hash, NewClient binds
// credentials, and NewConversation carries the step-by-step exchange.
type scramSASL struct {
	mech  encoding.Symbol
	conv  *scram.ClientConversation
}

func newScramSASL(mech encoding.Symbol, fcn scram.HashGeneratorFcn, username, password string) (SASLType, error) {
	client, err := fcn.NewClient(username, password, "")
	if err != nil {
		return nil, fmt.Errorf("amqp: building %s client: %w", mech, err)
	}
	return &scramSASL{mech: mech, conv: client.NewConversation()}, nil
}

// SASLTypeSCRAMSHA1 selects the SCRAM-SHA-1 mechanism.
func SASLTypeSCRAMSHA1(username, password string) (SASLType, error) {
	return newScramSASL("SCRAM-SHA-1", scram.SHA1, username, password)
}

// SASLTypeSCRAMSHA256 selects the SCRAM-SHA-256 mechanism.
func SASLTypeSCRAMSHA256(username, password string) (SASLType, error) {
	return newScramSASL("SCRAM-SHA-256", scram.SHA256, username, password)
}

// SASLTypeSCRAMSHA512 selects the SCRAM-SHA-512 mechanism, using the
// hash.Hash constructors directly since xdg-go/scram only ships
// generators for SHA-1 and SHA-256.
func SASLTypeSCRAMSHA512(username, password string) (SASLType, error) {
	return newScramSASL("SCRAM-SHA-512", scram.HashGeneratorFcn(sha512.New), username, password)
}

func (s *scramSASL) mechanism() encoding.Symbol { return s.mech }

func (s *scramSASL) initialResponse() ([]byte, error) {
	msg, err := s.conv.Step("")
	if err != nil {
		return nil, fmt.Errorf("amqp: building SCRAM client-first message: %w", err)
	}
	return []byte(msg), nil
}

func (s *scramSASL) step(challenge []byte) ([]byte, error) {
	resp, err := s.conv.Step(string(challenge))
	if err != nil {
		return nil, fmt.Errorf("amqp: SCRAM step failed: %w", err)
	}
	return []byte(resp), nil
}
