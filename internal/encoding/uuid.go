package encoding

import (
	"crypto/rand"
	"fmt"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

// UUID is a 16-octet RFC 4122 UUID, one of the AMQP fixed-width primitives.
type UUID [16]byte

// NewUUID generates a random (version 4) UUID.
func NewUUID() (UUID, error) {
	var u UUID
	if _, err := rand.Read(u[:]); err != nil {
		return u, err
	}
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return u, nil
}

func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

// Marshal encodes the UUID as a fixed 16-byte primitive.
func (u UUID) Marshal(wr *buffer.Buffer) error {
	wr.AppendByte(byte(TypeCodeUUID))
	wr.Append(u[:])
	return nil
}
