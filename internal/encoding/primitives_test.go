package encoding

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

// roundTrip marshals v, decodes it back into a freshly zeroed *V, and returns
// the decoded value for the caller to compare against v.
func roundTrip[V any](t *testing.T, v V) V {
	t.Helper()
	buf := buffer.New(nil)
	require.NoError(t, Marshal(buf, v))

	r := buffer.New(buf.Bytes())
	var got V
	require.NoError(t, Unmarshal(r, &got))
	return got
}

func TestPrimitiveRoundTrip(t *testing.T) {
	require.Equal(t, true, roundTrip(t, true))
	require.Equal(t, false, roundTrip(t, false))

	require.Equal(t, uint8(200), roundTrip(t, uint8(200)))
	require.Equal(t, uint16(40000), roundTrip(t, uint16(40000)))
	require.Equal(t, uint32(0), roundTrip(t, uint32(0)))
	require.Equal(t, uint32(100), roundTrip(t, uint32(100)))
	require.Equal(t, uint32(1<<20), roundTrip(t, uint32(1<<20)))
	require.Equal(t, uint64(0), roundTrip(t, uint64(0)))
	require.Equal(t, uint64(1<<40), roundTrip(t, uint64(1<<40)))

	require.Equal(t, int8(-100), roundTrip(t, int8(-100)))
	require.Equal(t, int16(-30000), roundTrip(t, int16(-30000)))
	require.Equal(t, int32(-1), roundTrip(t, int32(-1)))
	require.Equal(t, int32(1<<20), roundTrip(t, int32(1<<20)))
	require.Equal(t, int64(-1), roundTrip(t, int64(-1)))
	require.Equal(t, int64(1<<40), roundTrip(t, int64(1<<40)))

	require.Equal(t, float32(3.25), roundTrip(t, float32(3.25)))
	require.Equal(t, float64(-9.5), roundTrip(t, float64(-9.5)))

	require.Equal(t, "", roundTrip(t, ""))
	require.Equal(t, "hello amqp", roundTrip(t, "hello amqp"))

	gotSym := roundTrip(t, Symbol("urn:example"))
	if diff := cmp.Diff(Symbol("urn:example"), gotSym); diff != "" {
		t.Fatalf("Symbol round trip mismatch (-want +got):\n%s", diff)
	}

	wantBin := []byte{1, 2, 3, 4, 5}
	gotBin := roundTrip(t, wantBin)
	if diff := cmp.Diff(wantBin, gotBin); diff != "" {
		t.Fatalf("[]byte round trip mismatch (-want +got):\n%s", diff)
	}

	now := time.UnixMilli(time.Now().UnixMilli()).UTC()
	gotTime := roundTrip(t, now)
	if diff := cmp.Diff(now, gotTime); diff != "" {
		t.Fatalf("time.Time round trip mismatch (-want +got):\n%s", diff)
	}

	var id UUID
	copy(id[:], "0123456789abcdef")
	gotUUID := roundTrip(t, id)
	if diff := cmp.Diff(id, gotUUID); diff != "" {
		t.Fatalf("UUID round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLongStringRoundTripUsesStr32(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	want := string(long)

	buf := buffer.New(nil)
	require.NoError(t, WriteString(buf, want))
	require.Equal(t, byte(TypeCodeStr32), buf.Bytes()[0])

	r := buffer.New(buf.Bytes())
	var got string
	require.NoError(t, Unmarshal(r, &got))
	require.Equal(t, want, got)
}

func TestShortStringRoundTripUsesStr8(t *testing.T) {
	want := "short"

	buf := buffer.New(nil)
	require.NoError(t, WriteString(buf, want))
	require.Equal(t, byte(TypeCodeStr8), buf.Bytes()[0])

	r := buffer.New(buf.Bytes())
	var got string
	require.NoError(t, Unmarshal(r, &got))
	require.Equal(t, want, got)
}
