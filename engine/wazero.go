package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/spf13/afero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	voiceruntime "github.com/auricleai/voice-runtime"
	"github.com/auricleai/voice-runtime/errors"
	"github.com/auricleai/voice-runtime/stream"
)

// Out-param scratch layout. send_message and init_context write the
// response tag and length through pointers the host passes in; each
// instance allocates one 8-byte block for them at instantiation and
// reuses it for every call.
const (
	outTagOffset   = 0
	outLenOffset   = 4
	outParamBytes  = 8
	wasiModuleName = "wasi_snapshot_preview1"
)

// Config holds engine creation options.
type Config struct {
	// MemoryLimitPages caps each instance's linear memory in 64 KiB
	// wasm pages. Zero keeps the wazero default of 4 GiB.
	MemoryLimitPages uint32

	// EnableWASI instantiates wasi_snapshot_preview1 on the runtime for
	// engine modules built against it. Modules that only use the speech
	// ABI do not need it.
	EnableWASI bool

	// Logger receives engine diagnostics. nil disables logging.
	Logger *zap.Logger
}

// Engine hosts compiled speech engine modules on a shared wazero runtime.
// One Engine serves many modules and instances; closing it tears down the
// runtime and every instance created from it.
type Engine struct {
	runtime    wazero.Runtime
	registry   *stream.Registry
	logger     *zap.Logger
	enableWASI bool

	hostInitMu   sync.Mutex
	hostInitDone atomic.Bool
}

// New creates an engine backed by a fresh wazero runtime.
func New(ctx context.Context, cfg *Config) *Engine {
	runtimeCfg := wazero.NewRuntimeConfig()
	logger := zap.NewNop()
	enableWASI := false
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.Logger != nil {
			logger = cfg.Logger
		}
		enableWASI = cfg.EnableWASI
	}
	return &Engine{
		runtime:    wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		registry:   stream.NewRegistry(),
		logger:     logger.Named("engine"),
		enableWASI: enableWASI,
	}
}

// Registry returns the delivery registry the env.deliver import routes
// through. Sessions register their feeds here before init_context.
func (e *Engine) Registry() *stream.Registry {
	return e.registry
}

// LoadModule compiles engine module bytes. The returned module can be
// instantiated many times; instances never share linear memory.
func (e *Engine) LoadModule(ctx context.Context, wasmBytes []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile engine module", err)
	}
	return &Module{engine: e, compiled: compiled}, nil
}

// LoadFile reads an engine module through fsys and compiles it. A nil
// fsys means the operating system filesystem.
func (e *Engine) LoadFile(ctx context.Context, fsys afero.Fs, path string) (*Module, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	wasmBytes, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, errors.Load("read engine module "+path, err)
	}
	return e.LoadModule(ctx, wasmBytes)
}

// Close shuts down the runtime and invalidates every module and instance
// created from this engine.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// initHostModules instantiates the env host module, and WASI when
// enabled, exactly once per runtime. Safe for concurrent callers.
func (e *Engine) initHostModules(ctx context.Context) error {
	if e.hostInitDone.Load() {
		return nil
	}

	e.hostInitMu.Lock()
	defer e.hostInitMu.Unlock()

	if e.hostInitDone.Load() {
		return nil
	}

	if e.runtime.Module(HostModule) == nil {
		if err := e.instantiateEnv(ctx); err != nil {
			return errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate env host module")
		}
	}
	if e.enableWASI && e.runtime.Module(wasiModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
			return errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate WASI")
		}
	}

	e.hostInitDone.Store(true)
	return nil
}

// instantiateEnv builds the env module with the deliver import. The
// fragment bytes are a view into the calling engine's memory and are
// reclaimed by the guest as soon as the call returns, so deliver copies
// them before routing. Delivery failures never trap the engine; they are
// logged and counted on the registry.
func (e *Engine) instantiateEnv(ctx context.Context) error {
	_, err := e.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			handle := int64(stack[0])
			ptr := uint32(stack[1])
			length := uint32(stack[2])

			data, ok := mod.Memory().Read(ptr, length)
			if !ok {
				e.logger.Warn("deliver fragment out of bounds",
					zap.Int64("handle", handle),
					zap.Uint32("ptr", ptr),
					zap.Uint32("len", length))
				return
			}
			if !utf8.Valid(data) {
				e.logger.Warn("deliver fragment is not valid UTF-8",
					zap.Int64("handle", handle),
					zap.Uint32("len", length))
				return
			}
			if !e.registry.Deliver(handle, string(data)) {
				e.logger.Debug("deliver fragment dropped",
					zap.Int64("handle", handle),
					zap.Uint32("len", length))
			}
		}), []api.ValueType{api.ValueTypeI64, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export(HostDeliver).
		Instantiate(ctx)
	return err
}

// Module is a compiled engine module bound to its engine.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// Instantiate creates an isolated instance of the module and verifies the
// speech ABI surface. Missing exports are reported all at once.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	if err := m.engine.initHostModules(ctx); err != nil {
		return nil, err
	}

	// Anonymous module name so independent sessions can instantiate the
	// same compiled module concurrently.
	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	// mod.Memory() does not distinguish a memory-less module, so the
	// export is checked against the module's export definitions.
	var missing []string
	if _, ok := mod.ExportedMemoryDefinitions()[ExportMemory]; !ok {
		missing = append(missing, ExportMemory)
	}
	fns := make(map[string]api.Function, len(requiredExports))
	for _, name := range requiredExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			missing = append(missing, name)
			continue
		}
		fns[name] = fn
	}
	if len(missing) > 0 {
		_ = mod.Close(ctx)
		return nil, errors.NewMissingExportsError(missing)
	}

	inst := &Instance{
		mod:        mod,
		memory:     &guestMemory{mem: mod.Memory()},
		initFn:     fns[ExportInitContext],
		sendFn:     fns[ExportSendMessage],
		freeFn:     fns[ExportFreeBuffer],
		registerFn: fns[ExportRegisterCallback],
		stackBuf:   make([]uint64, 8),
		logger:     m.engine.logger,
	}
	inst.alloc = &guestAllocator{
		allocFn:   fns[ExportAlloc],
		deallocFn: fns[ExportDealloc],
		logger:    m.engine.logger,
	}

	outPtr, err := inst.alloc.Alloc(outParamBytes)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	if outPtr == 0 {
		_ = mod.Close(ctx)
		return nil, errors.AllocationFailed(outParamBytes, nil)
	}
	inst.outPtr = outPtr
	return inst, nil
}

// NewBoundary implements Provider.
func (m *Module) NewBoundary(ctx context.Context) (voiceruntime.Boundary, error) {
	return m.Instantiate(ctx)
}

// Close releases the compiled module. Instances already created from it
// keep running until closed themselves.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Instance is one running engine. It implements the boundary over the
// module's exports and is confined to a single session worker; it is NOT
// safe for concurrent use.
type Instance struct {
	mod        api.Module
	memory     *guestMemory
	alloc      *guestAllocator
	initFn     api.Function
	sendFn     api.Function
	freeFn     api.Function
	registerFn api.Function
	stackBuf   []uint64
	outPtr     uint32
	logger     *zap.Logger
	closed     bool
}

// Memory returns the instance's linear memory.
func (i *Instance) Memory() voiceruntime.Memory {
	return i.memory
}

// Allocator returns the caller-owned side of the instance's heap.
func (i *Instance) Allocator() voiceruntime.Allocator {
	return i.alloc
}

// InitContext calls the engine's init_context export. The returned buffer
// is engine-owned; a zero pointer is the engine's failure sentinel and is
// returned as a value, not an error.
func (i *Instance) InitContext(ctx context.Context, modelPtr, modelLen, wordsPtr, wordsLen uint32) (uint32, uint32, error) {
	if i.closed {
		return 0, 0, errors.Closed("engine instance")
	}
	i.stackBuf[0] = uint64(modelPtr)
	i.stackBuf[1] = uint64(modelLen)
	i.stackBuf[2] = uint64(wordsPtr)
	i.stackBuf[3] = uint64(wordsLen)
	i.stackBuf[4] = uint64(i.outPtr + outLenOffset)
	if err := i.initFn.CallWithStack(ctx, i.stackBuf[:5]); err != nil {
		return 0, 0, errors.Wrap(errors.PhaseEngine, errors.KindEngineFault, err, "init_context trapped")
	}
	ptr := uint32(i.stackBuf[0])
	if ptr == 0 {
		// The engine never wrote the out-param on failure.
		return 0, 0, nil
	}
	length, err := i.memory.ReadU32(i.outPtr + outLenOffset)
	if err != nil {
		return 0, 0, err
	}
	return ptr, length, nil
}

// SendMessage calls the engine's send_message export. The response tag
// and length cross through the out-param scratch; the returned buffer is
// engine-owned. A zero response pointer is returned as a value.
func (i *Instance) SendMessage(ctx context.Context, tag uint8, ptr, length uint32) (uint8, uint32, uint32, error) {
	if i.closed {
		return 0, 0, 0, errors.Closed("engine instance")
	}
	i.stackBuf[0] = uint64(tag)
	i.stackBuf[1] = uint64(ptr)
	i.stackBuf[2] = uint64(length)
	i.stackBuf[3] = uint64(i.outPtr + outTagOffset)
	i.stackBuf[4] = uint64(i.outPtr + outLenOffset)
	if err := i.sendFn.CallWithStack(ctx, i.stackBuf[:5]); err != nil {
		return 0, 0, 0, errors.Wrap(errors.PhaseEngine, errors.KindEngineFault, err, "send_message trapped")
	}
	respPtr := uint32(i.stackBuf[0])
	if respPtr == 0 {
		return 0, 0, 0, nil
	}
	tagWord, err := i.memory.ReadU32(i.outPtr + outTagOffset)
	if err != nil {
		return 0, 0, 0, err
	}
	if tagWord > math.MaxUint8 {
		return 0, 0, 0, errors.New(errors.PhaseDispatch, errors.KindUnknownTag).
			Path("response").
			Value(tagWord).
			Detail("response tag word exceeds byte range").
			Build()
	}
	respLen, err := i.memory.ReadU32(i.outPtr + outLenOffset)
	if err != nil {
		return 0, 0, 0, err
	}
	return uint8(tagWord), respPtr, respLen, nil
}

// FreeBuffer releases an engine-owned buffer through free_buffer. A zero
// pointer is a no-op so callers can release unconditionally.
func (i *Instance) FreeBuffer(ctx context.Context, ptr, length uint32) error {
	if ptr == 0 {
		return nil
	}
	if i.closed {
		return errors.Closed("engine instance")
	}
	i.stackBuf[0] = uint64(ptr)
	i.stackBuf[1] = uint64(length)
	if err := i.freeFn.CallWithStack(ctx, i.stackBuf[:2]); err != nil {
		return errors.Wrap(errors.PhaseDispatch, errors.KindAllocation, err, "free_buffer trapped")
	}
	return nil
}

// RegisterCallback hands the session's delivery handle to the engine.
func (i *Instance) RegisterCallback(ctx context.Context, handle int64) error {
	if i.closed {
		return errors.Closed("engine instance")
	}
	i.stackBuf[0] = uint64(handle)
	if err := i.registerFn.CallWithStack(ctx, i.stackBuf[:1]); err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindEngineFault, err, "register_callback trapped")
	}
	return nil
}

// Close releases the out-param scratch and the underlying module.
// Idempotent; the first error wins.
func (i *Instance) Close(ctx context.Context) error {
	if i.closed {
		return nil
	}
	i.closed = true

	if i.outPtr != 0 {
		if err := i.alloc.Free(i.outPtr, outParamBytes); err != nil {
			i.logger.Warn("release out-param scratch",
				zap.Uint32("ptr", i.outPtr),
				zap.Error(err))
		}
		i.outPtr = 0
	}

	var firstErr error
	if i.mod != nil {
		if err := i.mod.Close(ctx); err != nil {
			firstErr = err
		}
		i.mod = nil
	}

	// Drop references so a leaked Instance does not pin the module.
	i.memory = nil
	i.alloc = nil
	i.initFn = nil
	i.sendFn = nil
	i.freeFn = nil
	i.registerFn = nil
	i.stackBuf = nil

	return firstErr
}

// guestAllocator drives the engine's exported alloc/dealloc pair. The
// mutex guards the fixed call stack against Close racing a final free.
type guestAllocator struct {
	allocFn   api.Function
	deallocFn api.Function
	logger    *zap.Logger

	mu    sync.Mutex
	stack [2]uint64
}

func (a *guestAllocator) Alloc(size uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stack[0] = uint64(size)
	if err := a.allocFn.CallWithStack(context.Background(), a.stack[:1]); err != nil {
		return 0, errors.AllocationFailed(size, err)
	}
	return uint32(a.stack[0]), nil
}

func (a *guestAllocator) Free(ptr, size uint32) error {
	if ptr == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stack[0] = uint64(ptr)
	a.stack[1] = uint64(size)
	if err := a.deallocFn.CallWithStack(context.Background(), a.stack[:2]); err != nil {
		a.logger.Warn("dealloc failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
		return errors.Wrap(errors.PhaseDispatch, errors.KindAllocation, err, "dealloc trapped")
	}
	return nil
}

// guestMemory adapts wazero linear memory to the boundary Memory
// interface. Slices returned by Read alias guest memory and are valid
// only until the guest next runs; callers copy before the next call.
type guestMemory struct {
	mem api.Memory
}

func (m *guestMemory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseEngine, "read", offset, length)
	}
	return data, nil
}

func (m *guestMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseEngine, "write", offset, uint32(len(data)))
	}
	return nil
}

func (m *guestMemory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseEngine, "read_u8", offset, 1)
	}
	return v, nil
}

func (m *guestMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseEngine, "read_u32", offset, 4)
	}
	return v, nil
}

func (m *guestMemory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseEngine, "read_u64", offset, 8)
	}
	return v, nil
}

func (m *guestMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return errors.OutOfBounds(errors.PhaseEngine, "write_u8", offset, 1)
	}
	return nil
}

func (m *guestMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseEngine, "write_u32", offset, 4)
	}
	return nil
}

func (m *guestMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseEngine, "write_u64", offset, 8)
	}
	return nil
}

func (m *guestMemory) Size() uint32 {
	return m.mem.Size()
}

var (
	_ voiceruntime.Memory      = (*guestMemory)(nil)
	_ voiceruntime.MemorySizer = (*guestMemory)(nil)
	_ voiceruntime.Allocator   = (*guestAllocator)(nil)
	_ voiceruntime.Boundary    = (*Instance)(nil)
)
