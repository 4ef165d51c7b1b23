package encoding

import "github.com/amqp-proto/go-amqp10/internal/buffer"

// ErrCond is a symbolic error condition, either one of the AMQP-defined
// conditions below or an application/transport-extension-defined symbol.
type ErrCond Symbol

// AMQP-defined error conditions, amqp-core-types §2.8.16 and friends.
const (
	ErrCondInternalError         ErrCond = "amqp:internal-error"
	ErrCondNotFound              ErrCond = "amqp:not-found"
	ErrCondUnauthorizedAccess    ErrCond = "amqp:unauthorized-access"
	ErrCondDecodeError           ErrCond = "amqp:decode-error"
	ErrCondResourceLimitExceeded ErrCond = "amqp:resource-limit-exceeded"
	ErrCondNotAllowed            ErrCond = "amqp:not-allowed"
	ErrCondInvalidField          ErrCond = "amqp:invalid-field"
	ErrCondNotImplemented        ErrCond = "amqp:not-implemented"
	ErrCondResourceLocked        ErrCond = "amqp:resource-locked"
	ErrCondPreconditionFailed    ErrCond = "amqp:precondition-failed"
	ErrCondResourceDeleted       ErrCond = "amqp:resource-deleted"
	ErrCondIllegalState          ErrCond = "amqp:illegal-state"
	ErrCondFrameSizeTooSmall     ErrCond = "amqp:frame-size-too-small"

	ErrCondConnectionForced       ErrCond = "amqp:connection:forced"
	ErrCondFramingError           ErrCond = "amqp:connection:framing-error"
	ErrCondConnectionRedirect     ErrCond = "amqp:connection:redirect"
	ErrCondWindowViolation        ErrCond = "amqp:session:window-violation"
	ErrCondErrantLink             ErrCond = "amqp:session:errant-link"
	ErrCondHandleInUse            ErrCond = "amqp:session:handle-in-use"
	ErrCondUnattachedHandle       ErrCond = "amqp:session:unattached-handle"
	ErrCondDetachForced           ErrCond = "amqp:link:detach-forced"
	ErrCondTransferLimitExceeded  ErrCond = "amqp:link:transfer-limit-exceeded"
	ErrCondMessageSizeExceeded    ErrCond = "amqp:link:message-size-exceeded"
	ErrCondLinkRedirect           ErrCond = "amqp:link:redirect"
	ErrCondStolen                 ErrCond = "amqp:link:stolen"

	ErrCondTransactionUnknownID          ErrCond = "amqp:transaction:unknown-id"
	ErrCondTransactionRollback           ErrCond = "amqp:transaction:rollback"
	ErrCondTransactionTimeout            ErrCond = "amqp:transaction:timeout"
	ErrCondTransactionRollbackNeeded     ErrCond = "amqp:transaction:rollback-needed"
)

// Error is the error composite type, carried in end/close/detach frames and
// rejected/modified delivery states.
type Error struct {
	Condition   ErrCond
	Description string
	Info        map[string]interface{}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil encoding.Error>"
	}
	if e.Description != "" {
		return string(e.Condition) + ": " + e.Description
	}
	return string(e.Condition)
}

// Marshal encodes the error as a described list.
func (e *Error) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeError, []Field{
		{Value: Symbol(e.Condition)},
		{Value: e.Description, Omit: e.Description == ""},
		{Value: e.Info, Omit: len(e.Info) == 0},
	})
}

// Unmarshal decodes the error from a described list.
func (e *Error) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeError,
		UnField{Handler: func(r *buffer.Buffer) error {
			var cond Symbol
			if err := Unmarshal(r, &cond); err != nil {
				return err
			}
			e.Condition = ErrCond(cond)
			return nil
		}},
		UnField{Field: &e.Description},
		UnField{Field: &e.Info},
	)
}
