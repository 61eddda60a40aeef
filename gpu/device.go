package gpu

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

const (
	ErrTypeBufferCapacity = "gpu_buffer_capacity"
	ErrTypeUnknownBuffer  = "gpu_unknown_buffer"
	ErrTypeDeviceClosed   = "gpu_device_closed"
)

// Handle identifies a buffer allocated on a Device.
type Handle uint32

// Device is the GPU resource layer. Buffers are fixed-capacity write targets:
// a write replaces the previous content.
type Device interface {
	// Allocates a buffer holding up to capacity bytes.
	AllocateBuffer(capacity int) (Handle, error)

	// Replaces the content of a buffer. It returns false when the write was
	// rejected.
	WriteBuffer(h Handle, data []byte) bool

	// Releases a buffer. Releasing an unknown handle is a no-op.
	ReleaseBuffer(h Handle)
}

// MemoryDevice is a Device backed by host memory.
type MemoryDevice struct {
	// The name reported in metrics.
	Name string

	mutex   sync.RWMutex
	nextID  Handle
	buffers map[Handle]*memoryBuffer
	closed  bool
}

type memoryBuffer struct {
	capacity int
	data     []byte
	writes   int
}

func NewMemoryDevice(name string) *MemoryDevice {
	return &MemoryDevice{
		Name:    name,
		buffers: make(map[Handle]*memoryBuffer),
	}
}

func (d *MemoryDevice) AllocateBuffer(capacity int) (Handle, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return 0, errors.New("device is closed").
			WithType(ErrTypeDeviceClosed).
			WithTag("device", d.Name)
	}

	if capacity <= 0 {
		return 0, errors.New("invalid buffer capacity").
			WithType(ErrTypeBufferCapacity).
			WithTag("capacity", capacity)
	}

	if d.buffers == nil {
		d.buffers = make(map[Handle]*memoryBuffer)
	}

	d.nextID++
	h := d.nextID
	d.buffers[h] = &memoryBuffer{
		capacity: capacity,
		data:     make([]byte, 0, capacity),
	}

	instrumentAllocate(d.Name, capacity)
	return h, nil
}

func (d *MemoryDevice) WriteBuffer(h Handle, data []byte) bool {
	if err := d.write(h, data); err != nil {
		logs.WithTag("device", d.Name).
			WithTag("handle", h).
			Debug(err)
		instrumentWriteError(d.Name, err)
		return false
	}

	instrumentWrite(d.Name, len(data))
	return true
}

func (d *MemoryDevice) write(h Handle, data []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return errors.New("device is closed").WithType(ErrTypeDeviceClosed)
	}

	b, ok := d.buffers[h]
	if !ok {
		return errors.New("unknown buffer").WithType(ErrTypeUnknownBuffer)
	}

	if len(data) > b.capacity {
		return errors.New("data exceeds buffer capacity").
			WithType(ErrTypeBufferCapacity).
			WithTag("size", len(data)).
			WithTag("capacity", b.capacity)
	}

	b.data = append(b.data[:0], data...)
	b.writes++
	return nil
}

func (d *MemoryDevice) ReleaseBuffer(h Handle) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	b, ok := d.buffers[h]
	if !ok {
		return
	}
	delete(d.buffers, h)
	instrumentRelease(d.Name, b.capacity)
}

// Contents returns a copy of the bytes held by a buffer.
func (d *MemoryDevice) Contents(h Handle) ([]byte, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	b, ok := d.buffers[h]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b.data...), true
}

// Writes returns the number of accepted writes to a buffer.
func (d *MemoryDevice) Writes(h Handle) int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if b, ok := d.buffers[h]; ok {
		return b.writes
	}
	return 0
}

// BufferCount returns the number of live buffers.
func (d *MemoryDevice) BufferCount() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	return len(d.buffers)
}

// Close releases every buffer. Further allocations and writes fail.
func (d *MemoryDevice) Close() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	for h, b := range d.buffers {
		delete(d.buffers, h)
		instrumentRelease(d.Name, b.capacity)
	}
}
