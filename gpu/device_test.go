package gpu

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMemoryDevice(t *testing.T) {
	d := NewMemoryDevice("test")
	defer d.Close()

	h, err := d.AllocateBuffer(8)
	require.NoError(t, err)
	require.Equal(t, 1, d.BufferCount())

	t.Run("write overwrites", func(t *testing.T) {
		require.True(t, d.WriteBuffer(h, []byte{1, 2, 3, 4}))
		require.True(t, d.WriteBuffer(h, []byte{5, 6}))

		data, ok := d.Contents(h)
		require.True(t, ok)
		require.Equal(t, []byte{5, 6}, data)
		require.Equal(t, 2, d.Writes(h))
	})

	t.Run("write over capacity is rejected", func(t *testing.T) {
		require.False(t, d.WriteBuffer(h, make([]byte, 9)))

		data, _ := d.Contents(h)
		require.Equal(t, []byte{5, 6}, data)
	})

	t.Run("write to unknown buffer is rejected", func(t *testing.T) {
		require.False(t, d.WriteBuffer(h+42, []byte{1}))
	})

	t.Run("invalid capacity", func(t *testing.T) {
		_, err := d.AllocateBuffer(0)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeBufferCapacity))
	})

	t.Run("release", func(t *testing.T) {
		other, err := d.AllocateBuffer(4)
		require.NoError(t, err)
		require.NotEqual(t, h, other)
		require.Equal(t, 2, d.BufferCount())

		d.ReleaseBuffer(other)
		d.ReleaseBuffer(other)
		require.Equal(t, 1, d.BufferCount())
		require.False(t, d.WriteBuffer(other, []byte{1}))
	})
}

func TestMemoryDeviceClose(t *testing.T) {
	d := NewMemoryDevice("closed")

	h, err := d.AllocateBuffer(4)
	require.NoError(t, err)

	d.Close()
	d.Close()
	require.Zero(t, d.BufferCount())
	require.False(t, d.WriteBuffer(h, []byte{1}))

	_, err = d.AllocateBuffer(4)
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeDeviceClosed))
}
