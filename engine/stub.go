package engine

import (
	"context"
	"encoding/binary"
	"strings"
	"unicode"

	"go.uber.org/zap"

	voiceruntime "github.com/auricleai/voice-runtime"
	"github.com/auricleai/voice-runtime/errors"
	"github.com/auricleai/voice-runtime/protocol"
	"github.com/auricleai/voice-runtime/stream"
)

// StubConfig configures the in-process stand-in engine.
type StubConfig struct {
	// Utterances are recognized from successive audio windows, in order.
	// When the script runs out the stub hears silence.
	Utterances []string

	// Logger receives diagnostics. nil disables logging.
	Logger *zap.Logger
}

// StubProvider hands out deterministic in-process boundaries. All
// boundaries from one provider share a delivery registry, mirroring how
// engine instances share the host env module.
type StubProvider struct {
	cfg      StubConfig
	registry *stream.Registry
	logger   *zap.Logger
}

// NewStubProvider creates a provider whose boundaries recognize the
// configured utterances.
func NewStubProvider(cfg StubConfig) *StubProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubProvider{
		cfg:      cfg,
		registry: stream.NewRegistry(),
		logger:   logger.Named("stub-engine"),
	}
}

// NewBoundary implements Provider. Each boundary gets its own arena and
// its own copy of the utterance script.
func (p *StubProvider) NewBoundary(ctx context.Context) (voiceruntime.Boundary, error) {
	return NewStub(p.cfg, p.registry), nil
}

// Registry implements Provider.
func (p *StubProvider) Registry() *stream.Registry {
	return p.registry
}

// Close implements Provider. The stub holds no shared resources.
func (p *StubProvider) Close(ctx context.Context) error {
	return nil
}

// Stub implements the boundary in process. Requests are decoded from and
// responses encoded into the stub's own arena, so the full wire format and
// both ownership classes are exercised without a compiled engine module.
// Recognition is scripted: each non-empty audio window hears the next
// configured utterance, wake words match case-insensitively, and
// transcription streams word fragments through the registered handle
// before returning the final text.
//
// Like a real instance, a Stub is confined to one session worker and is
// NOT safe for concurrent use.
type Stub struct {
	mem      *arena
	registry *stream.Registry
	logger   *zap.Logger

	modelPath  string
	wakeWords  []string
	script     []string
	scriptPos  int
	current    string
	handle     int64
	registered bool
	closed     bool

	failNull     bool
	failError    string
	failTruncate bool
}

// NewStub creates a stub boundary routing deliveries through registry.
// A nil registry disables streaming.
func NewStub(cfg StubConfig, registry *stream.Registry) *Stub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	script := make([]string, len(cfg.Utterances))
	copy(script, cfg.Utterances)
	return &Stub{
		mem:      newArena(arenaInitialSize),
		registry: registry,
		logger:   logger.Named("stub-engine"),
		script:   script,
	}
}

// Memory returns the stub's arena.
func (s *Stub) Memory() voiceruntime.Memory {
	return s.mem
}

// Allocator returns the caller-owned side of the arena.
func (s *Stub) Allocator() voiceruntime.Allocator {
	return &stubAllocator{a: s.mem}
}

// InitContext decodes the model path and wake-word buffers and returns
// the encoded initial context in a callee-owned buffer. Malformed inputs
// produce the null sentinel, matching how a real engine signals failure
// on the init path.
func (s *Stub) InitContext(ctx context.Context, modelPtr, modelLen, wordsPtr, wordsLen uint32) (uint32, uint32, error) {
	if s.closed {
		return 0, 0, errors.Closed("stub engine instance")
	}

	modelBytes, err := s.mem.Read(modelPtr, modelLen)
	if err != nil {
		return 0, 0, err
	}
	model, err := protocol.DecodeString(modelBytes)
	if err != nil {
		s.logger.Warn("init_context model path malformed", zap.Error(err))
		return 0, 0, nil
	}
	wordBytes, err := s.mem.Read(wordsPtr, wordsLen)
	if err != nil {
		return 0, 0, err
	}
	words, err := protocol.DecodeStringSeq(wordBytes)
	if err != nil {
		s.logger.Warn("init_context wake words malformed", zap.Error(err))
		return 0, 0, nil
	}

	s.modelPath = model
	s.wakeWords = words

	encoded, err := protocol.EncodeContext(protocol.Context{
		ModelPath:  model,
		WakeWords:  words,
		Transcript: "",
	})
	if err != nil {
		return 0, 0, err
	}
	ptr := s.mem.placeCallee(encoded, uint32(len(encoded)))
	return ptr, uint32(len(encoded)), nil
}

// SendMessage decodes one request out of the arena, computes the reply,
// and returns it in a callee-owned buffer. A request the stub cannot
// decode produces an engine-reported Error response rather than a Go
// error, matching how a real engine reports its own failures.
func (s *Stub) SendMessage(ctx context.Context, tag uint8, ptr, length uint32) (uint8, uint32, uint32, error) {
	if s.closed {
		return 0, 0, 0, errors.Closed("stub engine instance")
	}

	if s.failNull {
		s.failNull = false
		return 0, 0, 0, nil
	}
	if s.failError != "" {
		msg := s.failError
		s.failError = ""
		return s.respond(protocol.Error{Message: msg})
	}

	payload, err := s.mem.Read(ptr, length)
	if err != nil {
		return 0, 0, 0, err
	}
	msg, err := protocol.DecodeMessage(protocol.Tag(tag), payload)
	if err != nil {
		return s.respond(protocol.Error{Message: err.Error()})
	}
	return s.respond(s.reply(msg))
}

func (s *Stub) reply(msg protocol.Message) protocol.Response {
	switch m := msg.(type) {
	case protocol.LoadModel:
		s.modelPath = m.Path
		return protocol.Text{}
	case protocol.SetWakeWords:
		s.wakeWords = append([]string(nil), m.Words...)
		return protocol.Text{}
	case protocol.UpdateAudioData:
		if len(m.Samples) > 0 {
			s.current = s.nextUtterance()
		} else {
			s.current = ""
		}
		return protocol.Text{}
	case protocol.DetectWakeWords:
		start, end, found := s.findWakeWord(s.current)
		if !found {
			return protocol.WakeWordDetection{}
		}
		return protocol.WakeWordDetection{
			Detected:   true,
			StartIndex: protocol.SomeU64(uint64(start)),
			EndIndex:   protocol.SomeU64(uint64(end)),
		}
	case protocol.Transcribe:
		return protocol.Text{Value: s.transcribe()}
	case protocol.Debug:
		s.logger.Debug("debug message echoed", zap.String("text", m.Text))
		return protocol.Text{Value: m.Text}
	}
	return protocol.Error{Message: "unhandled message"}
}

// nextUtterance pops the script; an exhausted script hears silence.
func (s *Stub) nextUtterance() string {
	if s.scriptPos >= len(s.script) {
		return ""
	}
	u := s.script[s.scriptPos]
	s.scriptPos++
	return u
}

// findWakeWord scans text for the first configured wake word, matching
// case-insensitively. Offsets index the text as returned; end is
// exclusive.
func (s *Stub) findWakeWord(text string) (start, end int, found bool) {
	if text == "" {
		return 0, 0, false
	}
	lower := strings.ToLower(text)
	for _, w := range s.wakeWords {
		if w == "" {
			continue
		}
		idx := strings.Index(lower, strings.ToLower(w))
		if idx < 0 {
			continue
		}
		return idx, idx + len(w), true
	}
	return 0, 0, false
}

// transcribe returns the current utterance with any wake phrase removed,
// streaming the result word by word through the delivery handle first.
func (s *Stub) transcribe() string {
	text := s.current
	if start, end, found := s.findWakeWord(text); found {
		text = strings.TrimLeftFunc(text[:start]+text[end:], unicode.IsSpace)
	}
	if s.registered && s.registry != nil {
		for _, frag := range strings.Fields(text) {
			s.registry.Deliver(s.handle, frag)
		}
	}
	return text
}

// respond encodes r into a callee-owned buffer and returns its location.
func (s *Stub) respond(r protocol.Response) (uint8, uint32, uint32, error) {
	scratch := protocol.GetBuffer()
	defer protocol.PutBuffer(scratch)

	tag, payload, err := protocol.AppendResponse((*scratch)[:0], r)
	if err != nil {
		return 0, 0, 0, err
	}
	*scratch = payload

	reported := uint32(len(payload))
	if s.failTruncate && reported > 0 {
		s.failTruncate = false
		reported--
	}
	ptr := s.mem.placeCallee(payload, reported)
	return uint8(tag), ptr, reported, nil
}

// FreeBuffer releases a callee-owned buffer. Releasing a caller-owned or
// unknown pointer is reported as an error so misrouted frees surface in
// tests instead of corrupting accounting.
func (s *Stub) FreeBuffer(ctx context.Context, ptr, length uint32) error {
	if ptr == 0 {
		return nil
	}
	if s.closed {
		return errors.Closed("stub engine instance")
	}
	return s.mem.freeCallee(ptr, length)
}

// RegisterCallback records the delivery handle for transcription pushes.
func (s *Stub) RegisterCallback(ctx context.Context, handle int64) error {
	if s.closed {
		return errors.Closed("stub engine instance")
	}
	s.handle = handle
	s.registered = true
	return nil
}

// Close marks the stub closed. Buffer accounting stays readable so tests
// can assert leak-freedom after shutdown.
func (s *Stub) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

// ModelPath returns the engine-side model path, as set by init_context
// or the last LoadModel message.
func (s *Stub) ModelPath() string {
	return s.modelPath
}

// FailNextWithNull makes the next SendMessage return the null sentinel.
func (s *Stub) FailNextWithNull() {
	s.failNull = true
}

// FailNextWithError makes the next SendMessage report an engine Error
// response with the given message.
func (s *Stub) FailNextWithError(msg string) {
	s.failError = msg
}

// TruncateNextResponse makes the next response report one byte fewer
// than its encoding, producing a truncation failure at decode.
func (s *Stub) TruncateNextResponse() {
	s.failTruncate = true
}

// LiveCallerBuffers returns the number of caller-owned allocations not
// yet freed.
func (s *Stub) LiveCallerBuffers() int {
	return len(s.mem.callerLive)
}

// LiveCalleeBuffers returns the number of engine-owned buffers not yet
// released through FreeBuffer.
func (s *Stub) LiveCalleeBuffers() int {
	return len(s.mem.calleeLive)
}

// Counts returns cumulative caller-side alloc and free counts.
func (s *Stub) Counts() (allocs, frees uint64) {
	return s.mem.allocs, s.mem.frees
}

const arenaInitialSize = 64 * 1024

// arena is a little-endian linear memory with bump allocation, standing
// in for a guest module's memory. Pointer zero is reserved as the null
// sentinel. Growing reallocates the backing store, so slices returned by
// Read are valid only until the next allocation.
type arena struct {
	buf        []byte
	next       uint32
	callerLive map[uint32]uint32
	calleeLive map[uint32]uint32
	allocs     uint64
	frees      uint64
}

func newArena(size uint32) *arena {
	return &arena{
		buf:        make([]byte, size),
		next:       8,
		callerLive: make(map[uint32]uint32),
		calleeLive: make(map[uint32]uint32),
	}
}

// grab bump-allocates size bytes, growing the backing store as needed.
// Zero-size requests still consume one byte so every allocation has a
// distinct non-null pointer.
func (a *arena) grab(size uint32) uint32 {
	a.next = (a.next + 7) &^ 7
	reserve := size
	if reserve == 0 {
		reserve = 1
	}
	ptr := a.next
	need := uint64(ptr) + uint64(reserve)
	for uint64(len(a.buf)) < need {
		grown := make([]byte, len(a.buf)*2)
		copy(grown, a.buf)
		a.buf = grown
	}
	a.next = uint32(need)
	return ptr
}

// placeCallee copies data into a fresh engine-owned buffer. reported is
// the length the engine claims for it, which the matching FreeBuffer
// call must repeat.
func (a *arena) placeCallee(data []byte, reported uint32) uint32 {
	ptr := a.grab(uint32(len(data)))
	copy(a.buf[ptr:], data)
	a.calleeLive[ptr] = reported
	return ptr
}

func (a *arena) allocCaller(size uint32) uint32 {
	ptr := a.grab(size)
	a.callerLive[ptr] = size
	a.allocs++
	return ptr
}

func (a *arena) freeCaller(ptr, size uint32) error {
	if _, ok := a.calleeLive[ptr]; ok {
		return errors.InvalidInput(errors.PhaseDispatch,
			"engine-owned buffer released through the caller allocator")
	}
	have, ok := a.callerLive[ptr]
	if !ok {
		return errors.DoubleFree(ptr, size)
	}
	if have != size {
		return errors.InvalidInput(errors.PhaseDispatch,
			"free size does not match allocation size")
	}
	delete(a.callerLive, ptr)
	a.frees++
	return nil
}

func (a *arena) freeCallee(ptr, length uint32) error {
	if _, ok := a.callerLive[ptr]; ok {
		return errors.InvalidInput(errors.PhaseDispatch,
			"caller-owned buffer released through free_buffer")
	}
	have, ok := a.calleeLive[ptr]
	if !ok {
		return errors.DoubleFree(ptr, length)
	}
	if have != length {
		return errors.InvalidInput(errors.PhaseDispatch,
			"free_buffer length does not match buffer length")
	}
	delete(a.calleeLive, ptr)
	return nil
}

func (a *arena) bounds(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(a.buf)) {
		return errors.OutOfBounds(errors.PhaseEngine, "read", offset, length)
	}
	return nil
}

func (a *arena) Read(offset, length uint32) ([]byte, error) {
	if err := a.bounds(offset, length); err != nil {
		return nil, err
	}
	return a.buf[offset : offset+length], nil
}

func (a *arena) Write(offset uint32, data []byte) error {
	if err := a.bounds(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(a.buf[offset:], data)
	return nil
}

func (a *arena) ReadU8(offset uint32) (uint8, error) {
	if err := a.bounds(offset, 1); err != nil {
		return 0, err
	}
	return a.buf[offset], nil
}

func (a *arena) ReadU32(offset uint32) (uint32, error) {
	if err := a.bounds(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(a.buf[offset:]), nil
}

func (a *arena) ReadU64(offset uint32) (uint64, error) {
	if err := a.bounds(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(a.buf[offset:]), nil
}

func (a *arena) WriteU8(offset uint32, value uint8) error {
	if err := a.bounds(offset, 1); err != nil {
		return err
	}
	a.buf[offset] = value
	return nil
}

func (a *arena) WriteU32(offset uint32, value uint32) error {
	if err := a.bounds(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(a.buf[offset:], value)
	return nil
}

func (a *arena) WriteU64(offset uint32, value uint64) error {
	if err := a.bounds(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(a.buf[offset:], value)
	return nil
}

func (a *arena) Size() uint32 {
	return uint32(len(a.buf))
}

// stubAllocator is the caller-owned side of the arena.
type stubAllocator struct {
	a *arena
}

func (sa *stubAllocator) Alloc(size uint32) (uint32, error) {
	return sa.a.allocCaller(size), nil
}

func (sa *stubAllocator) Free(ptr, size uint32) error {
	if ptr == 0 {
		return nil
	}
	return sa.a.freeCaller(ptr, size)
}

var (
	_ voiceruntime.Boundary    = (*Stub)(nil)
	_ voiceruntime.Memory      = (*arena)(nil)
	_ voiceruntime.MemorySizer = (*arena)(nil)
	_ voiceruntime.Allocator   = (*stubAllocator)(nil)
)
