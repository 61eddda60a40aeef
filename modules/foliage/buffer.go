package foliage

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/ingwaz/gpu"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const noOwner = -1

// ManagedBuffer is a fixed-capacity GPU buffer of a BufferPool. It is
// assigned to at most one patch at a time.
type ManagedBuffer struct {
	id       uuid.UUID
	index    int
	handle   gpu.Handle
	capacity int

	ready     bool
	drawCount int

	// Keccak-256 of the bytes held by the device buffer.
	digest  common.Hash
	written bool

	// Index of the owning patch.
	owner int
}

func (b *ManagedBuffer) ID() uuid.UUID {
	return b.id
}

// Index returns the position of the buffer in its pool.
func (b *ManagedBuffer) Index() int {
	return b.index
}

func (b *ManagedBuffer) Handle() gpu.Handle {
	return b.handle
}

// Capacity returns the buffer size in bytes.
func (b *ManagedBuffer) Capacity() int {
	return b.capacity
}

// Ready reports whether the buffer holds a nonzero amount of written data for
// its current owner.
func (b *ManagedBuffer) Ready() bool {
	return b.ready
}

func (b *ManagedBuffer) DrawCount() int {
	return b.drawCount
}

func (b *ManagedBuffer) Digest() common.Hash {
	return b.digest
}

func (b *ManagedBuffer) Assigned() bool {
	return b.owner != noOwner
}

// writeResult tells what a buffer write did.
type writeResult int

const (
	writeWritten writeResult = iota
	writeSkipped
	writeFailed
)

func (r writeResult) String() string {
	switch r {
	case writeWritten:
		return "written"
	case writeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// write replaces the buffer content with data holding count items. The
// device write is skipped when the device already holds the same bytes.
func (b *ManagedBuffer) write(device gpu.Device, data []byte, count int) writeResult {
	digest := crypto.Keccak256Hash(data)
	if b.written && digest == b.digest {
		b.drawCount = count
		b.ready = count > 0
		return writeSkipped
	}

	if len(data) > b.capacity || !device.WriteBuffer(b.handle, data) {
		b.written = false
		b.ready = false
		b.drawCount = 0
		return writeFailed
	}

	b.digest = digest
	b.written = true
	b.drawCount = count
	b.ready = count > 0
	return writeWritten
}

// BufferPool is a fixed set of ManagedBuffers allocated up front.
type BufferPool struct {
	device  gpu.Device
	buffers []*ManagedBuffer
}

// NewBufferPool allocates size buffers of capacity bytes on the device.
func NewBufferPool(device gpu.Device, size, capacity int) (*BufferPool, error) {
	p := &BufferPool{
		device:  device,
		buffers: make([]*ManagedBuffer, 0, size),
	}

	for i := 0; i < size; i++ {
		h, err := device.AllocateBuffer(capacity)
		if err != nil {
			p.Release()
			return nil, errors.New("allocating buffer pool failed").
				WithType(ErrTypeBufferAllocation).
				WithTag("index", i).
				WithTag("capacity", capacity).
				Wrap(err)
		}

		p.buffers = append(p.buffers, &ManagedBuffer{
			id:       uuid.New(),
			index:    i,
			handle:   h,
			capacity: capacity,
			owner:    noOwner,
		})
	}
	return p, nil
}

func (p *BufferPool) Size() int {
	return len(p.buffers)
}

func (p *BufferPool) Buffers() []*ManagedBuffer {
	return p.buffers
}

// Free returns the first buffer not assigned to a patch, or nil.
func (p *BufferPool) Free() *ManagedBuffer {
	for _, b := range p.buffers {
		if !b.Assigned() {
			return b
		}
	}
	return nil
}

func (p *BufferPool) FreeCount() int {
	count := 0
	for _, b := range p.buffers {
		if !b.Assigned() {
			count++
		}
	}
	return count
}

// Release releases every buffer on the device.
func (p *BufferPool) Release() {
	for _, b := range p.buffers {
		p.device.ReleaseBuffer(b.handle)
		b.ready = false
		b.written = false
		b.owner = noOwner
	}
	p.buffers = nil
}
