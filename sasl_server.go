package amqp

import (
	"bytes"
	"context"
	"fmt"

	"github.com/amqp-proto/go-amqp10/internal/encoding"
	"github.com/amqp-proto/go-amqp10/internal/frames"
)

// SASLServerType is the listener-side counterpart to SASLType: it validates a
// client's SASL exchange and decides the outcome. Implementations handle
// exactly one mechanism; the listener offers them in the order configured
// and uses the one whose mechanism name matches the client's SaslInit.
type SASLServerType interface {
	// mechanism returns the SASL mechanism name this type handles.
	mechanism() encoding.Symbol

	// next is called once for the client's SaslInit, and again for every
	// SaslResponse in a multi-step exchange. It returns either a further
	// challenge to send (challenge, false, nil) or a terminal outcome
	// (nil, true, err) where a non-nil err fails the exchange with
	// SASLCodeAuth.
	next(response []byte) (challenge []byte, done bool, err error)
}

// SASLServerTypeAnonymous accepts any client presenting the ANONYMOUS
// mechanism without inspecting the response.
func SASLServerTypeAnonymous() SASLServerType {
	return anonymousServer{}
}

type anonymousServer struct{}

func (anonymousServer) mechanism() encoding.Symbol { return "ANONYMOUS" }
func (anonymousServer) next([]byte) ([]byte, bool, error) {
	return nil, true, nil
}

// SASLServerTypePlain accepts the PLAIN mechanism, checking the
// authentication-id and password against a caller-supplied verifier. authzID
// (the optional authorization identity) is ignored, as is conventional for
// servers that don't support identity delegation.
func SASLServerTypePlain(verify func(authcid, password string) bool) SASLServerType {
	return &plainServer{verify: verify}
}

type plainServer struct {
	verify func(authcid, password string) bool
}

func (*plainServer) mechanism() encoding.Symbol { return "PLAIN" }

func (p *plainServer) next(response []byte) ([]byte, bool, error) {
	parts := bytes.SplitN(response, []byte{0}, 3)
	if len(parts) != 3 {
		return nil, true, fmt.Errorf("amqp: malformed PLAIN response")
	}
	authcid, passwd := string(parts[1]), string(parts[2])
	if p.verify == nil || !p.verify(authcid, passwd) {
		return nil, true, fmt.Errorf("amqp: PLAIN authentication failed for %q", authcid)
	}
	return nil, true, nil
}

// negotiateSASLServer offers mechs in order, accepts the client's SaslInit,
// and drives any further Challenge/Response steps to a terminal Outcome. It
// mirrors negotiateSASL's client-side state machine from the other end.
func (c *Conn) negotiateSASLServer(ctx context.Context, mechs []SASLServerType) error {
	syms := make(encoding.MultiSymbol, len(mechs))
	for i, m := range mechs {
		syms[i] = m.mechanism()
	}
	if err := c.writeFrameSync(frames.Frame{Type: frames.TypeSASL, Body: &frames.SASLMechanisms{Mechanisms: syms}}); err != nil {
		return fmt.Errorf("amqp: sending SaslMechanisms: %w", err)
	}

	fr, err := c.readFrameSync()
	if err != nil {
		return fmt.Errorf("amqp: waiting for SaslInit: %w", err)
	}
	init, ok := fr.Body.(*frames.SASLInit)
	if !ok {
		return fmt.Errorf("amqp: expected SaslInit, received %T", fr.Body)
	}

	var selected SASLServerType
	for _, m := range mechs {
		if m.mechanism() == init.Mechanism {
			selected = m
			break
		}
	}
	if selected == nil {
		_ = c.writeFrameSync(frames.Frame{Type: frames.TypeSASL, Body: &frames.SASLOutcome{Code: frames.SASLCodeAuth}})
		return fmt.Errorf("amqp: client selected unsupported mechanism %q", init.Mechanism)
	}

	challenge, done, stepErr := selected.next(init.InitialResponse)
	for {
		if stepErr != nil {
			_ = c.writeFrameSync(frames.Frame{Type: frames.TypeSASL, Body: &frames.SASLOutcome{Code: frames.SASLCodeAuth}})
			return fmt.Errorf("amqp: SASL negotiation failed: %w", stepErr)
		}
		if done {
			return c.writeFrameSync(frames.Frame{Type: frames.TypeSASL, Body: &frames.SASLOutcome{Code: frames.SASLCodeOK}})
		}

		if err := c.writeFrameSync(frames.Frame{Type: frames.TypeSASL, Body: &frames.SASLChallenge{Challenge: challenge}}); err != nil {
			return fmt.Errorf("amqp: sending SaslChallenge: %w", err)
		}
		fr, err := c.readFrameSync()
		if err != nil {
			return fmt.Errorf("amqp: waiting for SaslResponse: %w", err)
		}
		resp, ok := fr.Body.(*frames.SASLResponse)
		if !ok {
			return fmt.Errorf("amqp: expected SaslResponse, received %T", fr.Body)
		}
		challenge, done, stepErr = selected.next(resp.Response)
	}
}
