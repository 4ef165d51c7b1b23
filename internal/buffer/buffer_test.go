package buffer

import "testing"

import "github.com/stretchr/testify/require"

func TestAppendRead(t *testing.T) {
	b := New(nil)
	b.AppendByte(0x01)
	b.AppendUint16(0x0203)
	b.AppendUint32(0x04050607)
	b.AppendUint64(0x08090a0b0c0d0e0f)
	b.AppendString("hi")

	v, ok := b.ReadByte()
	require.True(t, ok)
	require.EqualValues(t, 0x01, v)

	u16, ok := b.ReadUint16()
	require.True(t, ok)
	require.EqualValues(t, 0x0203, u16)

	u32, ok := b.ReadUint32()
	require.True(t, ok)
	require.EqualValues(t, 0x04050607, u32)

	u64, ok := b.ReadUint64()
	require.True(t, ok)
	require.EqualValues(t, 0x08090a0b0c0d0e0f, u64)

	rest, ok := b.Next(2)
	require.True(t, ok)
	require.Equal(t, "hi", string(rest))

	require.Zero(t, b.Len())
}

func TestNextInsufficient(t *testing.T) {
	b := New([]byte{1, 2, 3})
	_, ok := b.Next(4)
	require.False(t, ok)
	// cursor must not have moved
	require.EqualValues(t, 3, b.Len())
}

func TestPatchUint32(t *testing.T) {
	b := New(nil)
	off := b.ReserveUint32()
	b.AppendString("body")
	b.PatchUint32(off, 4)
	require.Equal(t, []byte{0, 0, 0, 4, 'b', 'o', 'd', 'y'}, b.Bytes())
}

func TestDetachReset(t *testing.T) {
	b := New(nil)
	b.AppendString("abc")
	out := b.Detach()
	require.Equal(t, "abc", string(out))
	require.Zero(t, b.Len())

	b2 := New([]byte("xyz"))
	b2.Reset()
	require.Zero(t, b2.Len())
}
