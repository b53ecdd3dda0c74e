package voiceruntime

import "context"

// Memory is the engine's linear memory as seen from the host. Offsets are
// guest addresses; all multi-byte values are little-endian.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of engine linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates request buffers inside engine memory. These are the
// caller-owned allocations: the host drives both Alloc and Free, and the
// engine only ever reads them. Engine-created buffers are NOT released here;
// they go back through Boundary.FreeBuffer.
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Free(ptr, size uint32) error
}

// Boundary is one instantiated engine: the four entry points of the speech
// ABI plus access to the engine's memory and allocator. Implementations are
// NOT safe for concurrent use; the runtime serializes calls per session.
type Boundary interface {
	Memory() Memory
	Allocator() Allocator

	// InitContext crosses once at session start. The model path and wake-word
	// buffers must already be written into engine memory. The returned buffer
	// is engine-owned, holds the encoded initial context, and must be
	// released through FreeBuffer.
	InitContext(ctx context.Context, modelPtr, modelLen, wordsPtr, wordsLen uint32) (ptr, length uint32, err error)

	// SendMessage drives one request/response exchange. The payload buffer is
	// caller-owned (or ptr=0,len=0 for zero-sized variants). The response tag
	// crosses out of band; the returned buffer is engine-owned. A zero return
	// pointer is the engine's null sentinel.
	SendMessage(ctx context.Context, tag uint8, ptr, length uint32) (respTag uint8, respPtr, respLen uint32, err error)

	// FreeBuffer releases an engine-owned buffer. It must be called exactly
	// once for every pointer returned by InitContext or SendMessage.
	FreeBuffer(ctx context.Context, ptr, length uint32) error

	// RegisterCallback establishes the asynchronous delivery path. It must
	// complete before any call that can produce streamed output.
	RegisterCallback(ctx context.Context, handle int64) error

	Close(ctx context.Context) error
}
