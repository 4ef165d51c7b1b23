package amqp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionID(t *testing.T) {
	txn := &Transaction{id: []byte{1, 2, 3}}
	require.Equal(t, []byte{1, 2, 3}, txn.ID())
}

func TestTransactionReleaseAcquiredClearsTxnID(t *testing.T) {
	txn := &Transaction{id: []byte("txn-1")}
	r := &Receiver{l: link{txnID: []byte("txn-1")}}

	txn.trackAcquired(r)
	require.Len(t, txn.acquired, 1)

	txn.releaseAcquired()
	require.Nil(t, txn.acquired)
	require.Nil(t, r.l.txnID)
}

func TestTransactionCloseIsIdempotent(t *testing.T) {
	txn := &Transaction{id: []byte("txn-2")}
	r := &Receiver{l: link{txnID: []byte("txn-2")}}
	txn.trackAcquired(r)

	txn.mu.Lock()
	txn.discharged = true
	txn.mu.Unlock()

	// Close on an already-discharged transaction must be a no-op: it
	// shouldn't clear the acquire (which a real Commit/Rollback already
	// would have) or attempt another discharge.
	txn.Close()
	require.Len(t, txn.acquired, 1)
	require.Equal(t, []byte("txn-2"), r.l.txnID)
}
