package engine

import (
	"context"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	voiceruntime "github.com/auricleai/voice-runtime"
	"github.com/auricleai/voice-runtime/errors"
	"github.com/auricleai/voice-runtime/stream"
)

// Provider creates one boundary per session and owns the delivery
// registry that routes engine pushes back to session feeds.
type Provider interface {
	NewBoundary(ctx context.Context) (voiceruntime.Boundary, error)
	Registry() *stream.Registry
	Close(ctx context.Context) error
}

// ErrEngineUnavailable indicates no engine module was configured and the
// stub is standing in. Callers that require real recognition treat it as
// fatal; interactive use can proceed on the stub.
var ErrEngineUnavailable = errors.Unavailable("engine module", nil)

// OpenConfig selects and configures the boundary implementation.
type OpenConfig struct {
	// ModulePath locates the compiled engine module. Empty selects the stub.
	ModulePath string

	// FS is the filesystem the module is read through. nil means the
	// operating system filesystem.
	FS afero.Fs

	// MemoryLimitPages caps guest memory per instance in 64 KiB pages.
	MemoryLimitPages uint32

	// EnableWASI instantiates WASI for engine modules that link against it.
	EnableWASI bool

	// UseStub forces the stub even when a module path is set.
	UseStub bool

	// StubUtterances scripts the stub's recognition results.
	StubUtterances []string

	// Logger receives diagnostics. nil disables logging.
	Logger *zap.Logger
}

// Open resolves the configured engine and returns a Provider. When no
// module is available the stub stands in; Open then returns it together
// with a non-nil error (ErrEngineUnavailable or the load failure) so the
// caller decides whether running degraded is acceptable. The returned
// Provider is always usable.
func Open(ctx context.Context, cfg OpenConfig) (Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stubProvider := func() *StubProvider {
		return NewStubProvider(StubConfig{
			Utterances: cfg.StubUtterances,
			Logger:     logger,
		})
	}

	if cfg.UseStub {
		logger.Warn("stub engine forced by configuration")
		return stubProvider(), nil
	}
	if cfg.ModulePath == "" {
		logger.Warn("no engine module configured, using stub engine")
		return stubProvider(), ErrEngineUnavailable
	}

	eng := New(ctx, &Config{
		MemoryLimitPages: cfg.MemoryLimitPages,
		EnableWASI:       cfg.EnableWASI,
		Logger:           logger,
	})
	mod, err := eng.LoadFile(ctx, cfg.FS, cfg.ModulePath)
	if err != nil {
		if cerr := eng.Close(ctx); cerr != nil {
			logger.Warn("close engine after load failure", zap.Error(cerr))
		}
		logger.Warn("engine module load failed, using stub engine",
			zap.String("path", cfg.ModulePath),
			zap.Error(err))
		return stubProvider(), err
	}

	logger.Info("engine module ready", zap.String("path", cfg.ModulePath))
	return &wasmProvider{engine: eng, module: mod}, nil
}

// wasmProvider pairs a compiled module with the engine hosting it.
type wasmProvider struct {
	engine *Engine
	module *Module
}

func (p *wasmProvider) NewBoundary(ctx context.Context) (voiceruntime.Boundary, error) {
	return p.module.Instantiate(ctx)
}

func (p *wasmProvider) Registry() *stream.Registry {
	return p.engine.Registry()
}

func (p *wasmProvider) Close(ctx context.Context) error {
	err := p.module.Close(ctx)
	if cerr := p.engine.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

var (
	_ Provider = (*wasmProvider)(nil)
	_ Provider = (*StubProvider)(nil)
)
