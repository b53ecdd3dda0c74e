package protocol

import "sync"

const (
	// Pool limits to prevent memory bloat. A one-second audio window
	// encodes to ~64 KiB; anything past the cap is a one-off and is left
	// to the GC.
	poolMaxCap  = 1 << 20
	poolInitCap = 4096
)

// byte buffer pool for encode scratch
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, poolInitCap)
		return &buf
	},
}

// GetBuffer returns a recycled scratch buffer for Append* calls.
func GetBuffer() *[]byte {
	return bufPool.Get().(*[]byte)
}

// PutBuffer recycles a scratch buffer obtained from GetBuffer.
func PutBuffer(buf *[]byte) {
	if buf == nil || cap(*buf) > poolMaxCap {
		return // reject oversized
	}
	*buf = (*buf)[:0]
	bufPool.Put(buf)
}
