package utils

import (
	"encoding/json"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// BufferPool hands out reusable byte buffers for encoding payloads.
type BufferPool struct {
	pool *bytebufferpool.Pool
}

var (
	globalPool     *BufferPool
	globalPoolOnce sync.Once
)

func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: &bytebufferpool.Pool{},
	}
}

func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	return bp.pool.Get()
}

func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	bp.pool.Put(buf)
}

// MarshalJSON encodes v through a pooled buffer and returns a copy of the bytes without the
// trailing newline json.Encoder adds.
func (bp *BufferPool) MarshalJSON(v any) ([]byte, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}

	b := buf.B
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Global returns the process-wide pool.
func Global() *BufferPool {
	globalPoolOnce.Do(func() {
		globalPool = NewBufferPool()
	})
	return globalPool
}

func MarshalJSON(v any) ([]byte, error) {
	return Global().MarshalJSON(v)
}
