package encoding

import "github.com/amqp-proto/go-amqp10/internal/buffer"

// Role identifies whether a link endpoint is the sender or receiver of
// transfers, encoded as a boolean per the spec (false = sender).
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (r Role) String() string {
	if r {
		return "receiver"
	}
	return "sender"
}

// Marshal encodes the role as a bool primitive.
func (r Role) Marshal(wr *buffer.Buffer) error {
	return Marshal(wr, bool(r))
}

// Unmarshal decodes the role from a bool primitive.
func (r *Role) Unmarshal(br *buffer.Buffer) error {
	b, err := decodeBool(br)
	if err != nil {
		return err
	}
	*r = Role(b)
	return nil
}
