package amqp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlowPropertiesWithoutTxn(t *testing.T) {
	l := &link{}
	require.Nil(t, l.flowProperties())
}

func TestFlowPropertiesWithTxn(t *testing.T) {
	l := &link{txnID: []byte("txn-7")}
	props := l.flowProperties()
	require.Equal(t, []byte("txn-7"), props["txn-id"])
}
