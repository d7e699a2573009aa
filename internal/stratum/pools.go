package stratum

import "sync"

// bufferPool reuses scanner buffers for line-delimited connections. A new
// buffer per connection would churn the allocator under reconnect storms.
var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, 4096)
	},
}

// GetBuffer gets a byte buffer from the pool
func GetBuffer() []byte {
	return bufferPool.Get().([]byte)
}

// PutBuffer returns a byte buffer to the pool
func PutBuffer(buf []byte) {
	if buf != nil {
		bufferPool.Put(buf)
	}
}
