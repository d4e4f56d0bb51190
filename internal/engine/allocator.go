package engine

import (
	"sync"
	"sync/atomic"
)

// Allocator allocates the buffers that cross asynchronous boundaries.
type Allocator interface {
	// Alloc returns a buffer whose length is n.
	Alloc(n int) []byte

	// Free returns a buffer obtained from Alloc. Each buffer must be
	// freed exactly once.
	Free(buf []byte)
}

const (
	// minPooledSize is the size of the smallest pooled buffer.
	minPooledSize = 32

	// maxPooledSize is the size of the largest pooled buffer.
	maxPooledSize = 64 * 1024
)

// poolAllocator is an [Allocator] keeping power-of-two sized buffers in
// per-size [sync.Pool] buckets. Larger buffers are not pooled.
type poolAllocator struct {
	buckets []*sync.Pool
}

// NewPoolAllocator creates a pooling [Allocator].
func NewPoolAllocator() Allocator {
	pa := &poolAllocator{}
	for size := minPooledSize; size <= maxPooledSize; size <<= 1 {
		size := size
		pa.buckets = append(pa.buckets, &sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		})
	}
	return pa
}

// bucketFor returns the index of the smallest bucket holding n bytes.
func bucketFor(n int) int {
	idx, size := 0, minPooledSize
	for size < n {
		size <<= 1
		idx++
	}
	return idx
}

// Alloc implements Allocator.
func (pa *poolAllocator) Alloc(n int) []byte {
	if n > maxPooledSize {
		return make([]byte, n)
	}
	buf := *pa.buckets[bucketFor(n)].Get().(*[]byte)
	return buf[:n]
}

// Free implements Allocator.
func (pa *poolAllocator) Free(buf []byte) {
	c := cap(buf)
	if c < minPooledSize || c > maxPooledSize || c&(c-1) != 0 {
		return
	}
	buf = buf[:c]
	pa.buckets[bucketFor(c)].Put(&buf)
}

var defaultAllocator atomic.Value

func init() {
	defaultAllocator.Store(&allocatorBox{NewPoolAllocator()})
}

type allocatorBox struct {
	Allocator
}

// SetAllocator configures the process-wide [Allocator] used by sessions
// that do not configure their own. Passing nil restores the default.
func SetAllocator(a Allocator) {
	if a == nil {
		a = NewPoolAllocator()
	}
	defaultAllocator.Store(&allocatorBox{a})
}

// DefaultAllocator returns the process-wide [Allocator].
func DefaultAllocator() Allocator {
	return defaultAllocator.Load().(*allocatorBox).Allocator
}

// CountingAllocator wraps an [Allocator] and counts calls. It is
// meant for tests checking that every buffer is freed exactly once.
type CountingAllocator struct {
	Allocator
	allocs atomic.Int64
	frees  atomic.Int64
}

// NewCountingAllocator wraps a pooling allocator.
func NewCountingAllocator() *CountingAllocator {
	return &CountingAllocator{Allocator: NewPoolAllocator()}
}

// Alloc implements Allocator.
func (ca *CountingAllocator) Alloc(n int) []byte {
	ca.allocs.Add(1)
	return ca.Allocator.Alloc(n)
}

// Free implements Allocator.
func (ca *CountingAllocator) Free(buf []byte) {
	ca.frees.Add(1)
	ca.Allocator.Free(buf)
}

// Allocs returns the number of Alloc calls.
func (ca *CountingAllocator) Allocs() int64 {
	return ca.allocs.Load()
}

// Frees returns the number of Free calls.
func (ca *CountingAllocator) Frees() int64 {
	return ca.frees.Load()
}

// Outstanding returns the number of buffers not freed yet.
func (ca *CountingAllocator) Outstanding() int64 {
	return ca.allocs.Load() - ca.frees.Load()
}
