package encoding

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/amqp-proto/go-amqp10/internal/buffer"
)

// decodeListViaAny round trips a List through Marshal/Unmarshal(*interface{}),
// the path every composite field and bare List value actually takes on the
// wire, so the assertions below exercise the real decode dispatch rather than
// calling decodeListInto directly.
func decodeListViaAny(t *testing.T, wire []byte) []interface{} {
	t.Helper()
	r := buffer.New(wire)
	var v interface{}
	require.NoError(t, Unmarshal(r, &v))
	got, ok := v.([]interface{})
	require.True(t, ok, "expected []interface{}, got %T", v)
	return got
}

func TestListMarshalPicksList0(t *testing.T) {
	buf := buffer.New(nil)
	require.NoError(t, List(nil).Marshal(buf))
	require.Equal(t, []byte{byte(TypeCodeList0)}, buf.Bytes())

	got := decodeListViaAny(t, buf.Bytes())
	require.Empty(t, got)
}

func TestListMarshalPicksList8WhenSmall(t *testing.T) {
	want := List{int32(1), int32(2), int32(3)}
	buf := buffer.New(nil)
	require.NoError(t, want.Marshal(buf))
	require.Equal(t, byte(TypeCodeList8), buf.Bytes()[0])

	got := decodeListViaAny(t, buf.Bytes())
	if diff := cmp.Diff([]interface{}{int32(1), int32(2), int32(3)}, got); diff != "" {
		t.Fatalf("list8 round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestListMarshalPicksList32WhenBodyExceedsList8(t *testing.T) {
	// Each element is a 300-byte string (str32, since > 255 bytes), so 3 of
	// them push the encoded body well past the 255-byte list8 ceiling.
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	longStr := string(long)

	want := List{longStr, longStr, longStr}
	buf := buffer.New(nil)
	require.NoError(t, want.Marshal(buf))
	require.Equal(t, byte(TypeCodeList32), buf.Bytes()[0])

	got := decodeListViaAny(t, buf.Bytes())
	if diff := cmp.Diff([]interface{}{longStr, longStr, longStr}, got); diff != "" {
		t.Fatalf("list32 round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestListMarshalPicksList8AtLargestFittingBody(t *testing.T) {
	// Each int8 encodes as 2 bytes (format code + value), so 127 of them make
	// a 254-byte body; with the 1-byte count that is a size of 255, the most
	// list8's 1-byte size field can hold.
	items := make(List, 127)
	want := make([]interface{}, 127)
	for i := range items {
		items[i] = int8(1)
		want[i] = int8(1)
	}
	buf := buffer.New(nil)
	require.NoError(t, items.Marshal(buf))
	require.Equal(t, byte(TypeCodeList8), buf.Bytes()[0])

	got := decodeListViaAny(t, buf.Bytes())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("127-element list8 round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestListMarshalPicksList32AtExactly256Elements(t *testing.T) {
	items := make(List, 256)
	want := make([]interface{}, 256)
	for i := range items {
		items[i] = int8(1)
		want[i] = int8(1)
	}
	buf := buffer.New(nil)
	require.NoError(t, items.Marshal(buf))
	require.Equal(t, byte(TypeCodeList32), buf.Bytes()[0])

	got := decodeListViaAny(t, buf.Bytes())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("256-element list32 round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAnyMapMarshalPicksMap8WhenSmall(t *testing.T) {
	m := map[interface{}]interface{}{"a": int32(1)}
	buf := buffer.New(nil)
	require.NoError(t, Marshal(buf, m))
	require.Equal(t, byte(TypeCodeMap8), buf.Bytes()[0])

	r := buffer.New(buf.Bytes())
	var got map[interface{}]interface{}
	require.NoError(t, Unmarshal(r, &got))
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("map8 round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAnyMapMarshalPicksMap32WhenLarge(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'y'
	}
	m := map[interface{}]interface{}{"k": string(long)}
	buf := buffer.New(nil)
	require.NoError(t, Marshal(buf, m))
	require.Equal(t, byte(TypeCodeMap32), buf.Bytes()[0])

	r := buffer.New(buf.Bytes())
	var got map[interface{}]interface{}
	require.NoError(t, Unmarshal(r, &got))
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("map32 round trip mismatch (-want +got):\n%s", diff)
	}
}

// composite round trip via MarshalComposite/UnmarshalComposite, regression
// coverage for the described-list width picking every performative relies on.
func TestCompositeRoundTripSmallFieldSetUsesList8(t *testing.T) {
	buf := buffer.New(nil)
	fields := []Field{
		{Value: "container-1"},
		{Value: uint32(4096)},
	}
	require.NoError(t, MarshalComposite(buf, TypeCodeOpen, fields))
	// 0x00, smallulong code, descriptor byte, then the list constructor.
	require.Equal(t, byte(TypeCodeList8), buf.Bytes()[3])

	r := buffer.New(buf.Bytes())
	var containerID string
	var maxFrameSize uint32
	err := UnmarshalComposite(r, TypeCodeOpen,
		UnField{Field: &containerID},
		UnField{Field: &maxFrameSize},
	)
	require.NoError(t, err)
	require.Equal(t, "container-1", containerID)
	require.Equal(t, uint32(4096), maxFrameSize)
}
