package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auricleai/voice-runtime/engine"
	"github.com/auricleai/voice-runtime/errors"
	"github.com/auricleai/voice-runtime/ownership"
	"github.com/auricleai/voice-runtime/stream"
	"github.com/auricleai/voice-runtime/telemetry"
)

// Options tunes runtime behavior. The zero value is usable.
type Options struct {
	// Logger receives diagnostics. nil disables logging.
	Logger *zap.Logger

	// Telemetry receives counters. nil disables instrumentation.
	Telemetry *telemetry.Recorder

	// FeedCapacity bounds each session's delivery feed. Values below one
	// select stream.DefaultCapacity.
	FeedCapacity int

	// QueueDepth bounds each session's pending-call queue.
	QueueDepth int

	// DebugAllocations wraps each session's engine allocator in an
	// ownership.Tracker, which panics on mispaired frees and reports
	// outstanding allocations. Meant for tests and diagnosis.
	DebugAllocations bool
}

// Runtime creates sessions against an engine provider. Safe for
// concurrent use; each session it creates is independently serialized.
type Runtime struct {
	provider engine.Provider
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	closed   bool
}

// New wraps provider. The caller keeps ownership of the provider and
// closes it after the runtime.
func New(provider engine.Provider, opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		provider: provider,
		opts:     opts,
		logger:   logger.Named("runtime"),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// NewSession instantiates one engine boundary and runs the startup
// sequence against it: the delivery handshake first, so streaming-
// capable calls are never issued before the push path exists, then the
// init_context crossing that yields the initial Context value.
func (r *Runtime) NewSession(ctx context.Context, modelPath string, wakeWords []string) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.Closed("runtime")
	}
	r.mu.Unlock()

	boundary, err := r.provider.NewBoundary(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	registry := r.provider.Registry()
	feed := stream.NewFeed(r.opts.FeedCapacity)
	handle := registry.Register(feed)

	s := &Session{
		id:        id,
		boundary:  boundary,
		memory:    boundary.Memory(),
		alloc:     boundary.Allocator(),
		feed:      feed,
		handle:    handle,
		registry:  registry,
		logger:    r.logger.With(zap.String("session_id", id.String())),
		telemetry: r.opts.Telemetry,
	}
	if r.opts.DebugAllocations {
		s.tracker = ownership.NewTracker(s.alloc)
		s.alloc = s.tracker
	}

	fail := func(err error) (*Session, error) {
		registry.Deregister(handle)
		feed.Close()
		if cerr := boundary.Close(ctx); cerr != nil {
			s.logger.Warn("close boundary after session setup failure", zap.Error(cerr))
		}
		return nil, err
	}

	if err := boundary.RegisterCallback(ctx, handle); err != nil {
		return fail(errors.Wrap(errors.PhaseSession, errors.KindEngineFault, err, "register_callback"))
	}

	initial, err := s.initContext(ctx, modelPath, wakeWords)
	if err != nil {
		return fail(err)
	}
	s.current = initial
	s.worker = newWorker(r.opts.QueueDepth)
	s.onClose = func() { r.dropSession(id) }

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.opts.Telemetry.SessionOpened()
	s.logger.Info("session opened",
		zap.String("model_path", initial.ModelPath),
		zap.Strings("wake_words", initial.WakeWords))
	return s, nil
}

func (r *Runtime) dropSession(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions != nil {
		delete(r.sessions, id)
	}
}

// Close closes every open session. The provider is not closed; its
// owner does that.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.sessions = nil
	r.mu.Unlock()

	var first error
	for _, s := range open {
		if err := s.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
