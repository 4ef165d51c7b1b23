package encoding

import (
	"testing"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
	"github.com/stretchr/testify/require"
)

func TestDeclareRoundTrip(t *testing.T) {
	d := &Declare{GlobalID: "txn-group-1"}
	buf := buffer.New(nil)
	require.NoError(t, d.Marshal(buf))

	r := buffer.New(buf.Bytes())
	got := &Declare{}
	require.NoError(t, got.Unmarshal(r))
	require.Equal(t, d.GlobalID, got.GlobalID)
}

func TestDeclareRoundTripNoGlobalID(t *testing.T) {
	d := &Declare{}
	buf := buffer.New(nil)
	require.NoError(t, d.Marshal(buf))

	r := buffer.New(buf.Bytes())
	got := &Declare{}
	require.NoError(t, got.Unmarshal(r))
	require.Nil(t, got.GlobalID)
}

func TestDischargeRoundTrip(t *testing.T) {
	d := &Discharge{TxnID: []byte{1, 2, 3, 4}, Fail: true}
	buf := buffer.New(nil)
	require.NoError(t, d.Marshal(buf))

	r := buffer.New(buf.Bytes())
	got := &Discharge{}
	require.NoError(t, got.Unmarshal(r))
	require.Equal(t, d.TxnID, got.TxnID)
	require.True(t, got.Fail)
}

func TestDescribedToTxnRequestDeclare(t *testing.T) {
	d := &Declare{GlobalID: "abc"}
	buf := buffer.New(nil)
	require.NoError(t, d.Marshal(buf))

	r := buffer.New(buf.Bytes())
	var v interface{}
	require.NoError(t, Unmarshal(r, &v))

	described, ok := v.(Described)
	require.True(t, ok)

	req, ok := DescribedToTxnRequest(described)
	require.True(t, ok)
	decl, ok := req.(*Declare)
	require.True(t, ok)
	require.Equal(t, "abc", decl.GlobalID)
}

func TestDescribedToTxnRequestDischarge(t *testing.T) {
	d := &Discharge{TxnID: []byte("txn-42"), Fail: false}
	buf := buffer.New(nil)
	require.NoError(t, d.Marshal(buf))

	r := buffer.New(buf.Bytes())
	var v interface{}
	require.NoError(t, Unmarshal(r, &v))

	described, ok := v.(Described)
	require.True(t, ok)

	req, ok := DescribedToTxnRequest(described)
	require.True(t, ok)
	disc, ok := req.(*Discharge)
	require.True(t, ok)
	require.Equal(t, []byte("txn-42"), disc.TxnID)
	require.False(t, disc.Fail)
}

func TestDescribedToTxnRequestUnrecognized(t *testing.T) {
	_, ok := DescribedToTxnRequest(Described{Descriptor: Descriptor{Code: TypeCodeCoordinator}})
	require.False(t, ok)
}
