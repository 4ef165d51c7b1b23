package amqp

import (
	"context"
	"errors"
	"fmt"

	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
)

// SASLType drives a single SASL client mechanism across the exchange
// described in spec §4.3: an offered mechanism name, an initial response
// sent with SASLInit, and (for multi-step mechanisms such as SCRAM) a
// step function answering each SASLChallenge.
type SASLType interface {
	mechanism() encoding.Symbol
	initialResponse() ([]byte, error)
	step(challenge []byte) ([]byte, error)
}

// SASLTypeAnonymous selects the ANONYMOUS mechanism, which carries no
// credentials at all.
func SASLTypeAnonymous() SASLType {
	return saslAnonymous{}
}

type saslAnonymous struct{}

func (saslAnonymous) mechanism() encoding.Symbol         { return "ANONYMOUS" }
func (saslAnonymous) initialResponse() ([]byte, error)   { return nil, nil }
func (saslAnonymous) step(_ []byte) ([]byte, error) {
	return nil, errors.New("amqp: ANONYMOUS does not support a SASL challenge")
}

// SASLTypePlain selects the PLAIN mechanism with the given username and
// password; authzid is left empty.
func SASLTypePlain(username, password string) SASLType {
	return &saslPlain{username: username, password: password}
}

type saslPlain struct {
	username, password string
}

func (saslPlain) mechanism() encoding.Symbol { return "PLAIN" }

func (s *saslPlain) initialResponse() ([]byte, error) {
	return []byte("\x00" + s.username + "\x00" + s.password), nil
}

func (s *saslPlain) step(_ []byte) ([]byte, error) {
	return nil, errors.New("amqp: PLAIN does not support a SASL challenge")
}

// negotiateSASL drives the client side of the SASL state machine:
// HeaderExchanged (done by the caller) → MechanismsReceived → InitSent →
// (ChallengeReceived → ResponseSent)* → OutcomeReceived.
func (c *Conn) negotiateSASL(ctx context.Context) error {
	fr, err := c.readFrameSync()
	if err != nil {
		return fmt.Errorf("amqp: reading SASL mechanisms: %w", err)
	}
	mechs, ok := fr.Body.(*frames.SASLMechanisms)
	if !ok {
		return fmt.Errorf("amqp: expected SASLMechanisms, received %T", fr.Body)
	}

	want := c.saslType.mechanism()
	offered := false
	for _, m := range mechs.Mechanisms {
		if m == want {
			offered = true
			break
		}
	}
	if !offered {
		return fmt.Errorf("amqp: server does not offer SASL mechanism %s", want)
	}

	initResp, err := c.saslType.initialResponse()
	if err != nil {
		return fmt.Errorf("amqp: building SASL initial response: %w", err)
	}

	init := &frames.SASLInit{Mechanism: want, InitialResponse: initResp, Hostname: c.hostname}
	if err := c.writeFrameSync(frames.Frame{Type: frames.TypeSASL, Body: init}); err != nil {
		return fmt.Errorf("amqp: sending SASLInit: %w", err)
	}

	for {
		fr, err := c.readFrameSync()
		if err != nil {
			return fmt.Errorf("amqp: SASL negotiation: %w", err)
		}

		switch body := fr.Body.(type) {
		case *frames.SASLChallenge:
			resp, err := c.saslType.step(body.Challenge)
			if err != nil {
				return fmt.Errorf("amqp: answering SASL challenge: %w", err)
			}
			if err := c.writeFrameSync(frames.Frame{Type: frames.TypeSASL, Body: &frames.SASLResponse{Response: resp}}); err != nil {
				return fmt.Errorf("amqp: sending SASLResponse: %w", err)
			}

		case *frames.SASLOutcome:
			if body.Code != frames.SASLCodeOK {
				return fmt.Errorf("amqp: SASL negotiation failed, code %s", body.Code)
			}
			return nil

		default:
			return fmt.Errorf("amqp: unexpected frame during SASL negotiation: %T", fr.Body)
		}
	}
}
