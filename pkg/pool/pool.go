// Package pool provides object pooling to reduce GC pressure
package pool

import (
	"bytes"
	"sync"
)

// maxPooledBuffer keeps one oversized upload from pinning its buffer forever.
const maxPooledBuffer = 4 << 20

// BufferPool pools buffers used to read uploaded files
var BufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuffer gets an empty buffer from pool
func GetBuffer() *bytes.Buffer {
	b := BufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// PutBuffer returns a buffer to pool. The caller must not keep references
// to its bytes.
func PutBuffer(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		return
	}
	BufferPool.Put(b)
}
