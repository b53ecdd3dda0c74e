package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	voiceruntime "github.com/auricleai/voice-runtime"
	"github.com/auricleai/voice-runtime/errors"
	"github.com/auricleai/voice-runtime/ownership"
	"github.com/auricleai/voice-runtime/protocol"
	"github.com/auricleai/voice-runtime/stream"
	"github.com/auricleai/voice-runtime/telemetry"
)

// Op selects which zero-sized operation Advance issues after the audio
// window crosses.
type Op uint8

const (
	// OpDetectWakeWords scans the window for a configured wake phrase.
	OpDetectWakeWords Op = iota

	// OpTranscribe transcribes the window, streaming fragments through
	// the delivery feed before the final text returns.
	OpTranscribe
)

func (op Op) message() protocol.Message {
	if op == OpTranscribe {
		return protocol.Transcribe{}
	}
	return protocol.DetectWakeWords{}
}

// Session is one conversation with one engine instance. It holds the
// Context value threaded through calls, the worker that serializes
// boundary crossings, and the delivery feed streaming incremental
// transcription results.
//
// The Context is a value: every state-changing call yields a fresh one
// and the session replaces its held copy. Calls on one session are
// strictly ordered by its worker; calls on different sessions do not
// block each other. All methods are safe for concurrent use.
type Session struct {
	id        uuid.UUID
	boundary  voiceruntime.Boundary
	memory    voiceruntime.Memory
	alloc     voiceruntime.Allocator
	tracker   *ownership.Tracker
	feed      *stream.Feed
	handle    int64
	registry  *stream.Registry
	worker    *worker
	logger    *zap.Logger
	telemetry *telemetry.Recorder

	mu      sync.Mutex
	current protocol.Context

	onClose   func()
	closeOnce sync.Once
	closeErr  error
}

// ID returns the session identity. It keys the single-flight guard and
// appears on every log line the session emits.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Context returns a copy of the session's current Context value.
func (s *Session) Context() protocol.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Feed returns the delivery feed carrying incremental transcription
// fragments. The feed supports a single reader; it closes with the
// session, discarding anything still buffered.
func (s *Session) Feed() *stream.Feed {
	return s.feed
}

// Tracker returns the instrumented allocator wrapper, or nil when
// allocation debugging is not enabled.
func (s *Session) Tracker() *ownership.Tracker {
	return s.tracker
}

// Dispatch sends one message across the boundary and returns the typed
// response. The call is queued to the session worker; ctx cancellation
// is honored only while the call waits its turn. An engine-reported
// Error comes back as a protocol.Error value, not a Go error; Unwrap
// converts it when the caller wants the fault raised.
func (s *Session) Dispatch(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	var (
		resp protocol.Response
		derr error
	)
	if err := s.worker.submit(ctx, func(cctx context.Context) {
		resp, derr = s.dispatch(cctx, msg)
	}); err != nil {
		return nil, err
	}
	return resp, derr
}

// Advance crosses one audio window and then the selected operation,
// both on the session worker as a single ordered unit. On success the
// session's Context is replaced with a fresh value: ModelPath and
// WakeWords carry over unchanged, and Transcript holds only this call's
// contribution (the transcribed text for OpTranscribe, empty for a
// detection pass). The returned Response is the operation's result; use
// it directly for WakeWordDetection fields.
func (s *Session) Advance(ctx context.Context, samples []float32, op Op) (protocol.Context, protocol.Response, error) {
	var (
		resp protocol.Response
		derr error
	)
	err := s.worker.submit(ctx, func(cctx context.Context) {
		var r protocol.Response
		r, derr = s.dispatch(cctx, protocol.UpdateAudioData{Samples: samples})
		if derr != nil {
			return
		}
		if _, derr = protocol.Unwrap(r); derr != nil {
			return
		}
		resp, derr = s.dispatch(cctx, op.message())
	})
	if err == nil {
		err = derr
	}
	if err != nil {
		return s.Context(), resp, err
	}

	unwrapped, err := protocol.Unwrap(resp)
	if err != nil {
		return s.Context(), resp, err
	}

	transcript := ""
	if op == OpTranscribe {
		if text, ok := unwrapped.(protocol.Text); ok {
			transcript = text.Value
		}
	}
	next := s.replaceContext(func(c *protocol.Context) {
		c.Transcript = transcript
	})
	return next, resp, nil
}

// SetWakeWords replaces the engine's active wake-word list and returns
// the fresh Context carrying it.
func (s *Session) SetWakeWords(ctx context.Context, words []string) (protocol.Context, error) {
	resp, err := s.Dispatch(ctx, protocol.SetWakeWords{Words: words})
	if err != nil {
		return s.Context(), err
	}
	if _, err := protocol.Unwrap(resp); err != nil {
		return s.Context(), err
	}
	next := s.replaceContext(func(c *protocol.Context) {
		c.WakeWords = append([]string(nil), words...)
	})
	return next, nil
}

// LoadModel points the engine at a different model file and returns the
// fresh Context carrying the new path.
func (s *Session) LoadModel(ctx context.Context, path string) (protocol.Context, error) {
	resp, err := s.Dispatch(ctx, protocol.LoadModel{Path: path})
	if err != nil {
		return s.Context(), err
	}
	if _, err := protocol.Unwrap(resp); err != nil {
		return s.Context(), err
	}
	next := s.replaceContext(func(c *protocol.Context) {
		c.ModelPath = path
	})
	return next, nil
}

// Debug round-trips a diagnostic string through the engine and returns
// the echoed text. Stateless: the session Context is untouched.
func (s *Session) Debug(ctx context.Context, text string) (string, error) {
	resp, err := s.Dispatch(ctx, protocol.Debug{Text: text})
	if err != nil {
		return "", err
	}
	unwrapped, err := protocol.Unwrap(resp)
	if err != nil {
		return "", err
	}
	echoed, ok := unwrapped.(protocol.Text)
	if !ok {
		return "", errors.InvalidInput(errors.PhaseDispatch, "debug reply is not text")
	}
	return echoed.Value, nil
}

// replaceContext builds the successor Context under the session lock:
// a clone of the current value with mutate applied, installed as the
// new current. The returned value is the caller's own copy.
func (s *Session) replaceContext(mutate func(*protocol.Context)) protocol.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current.Clone()
	mutate(&next)
	s.current = next
	return next.Clone()
}

// Close shuts the session down: the delivery handle deregisters, the
// feed closes (discarding buffered fragments), the worker drains, and
// the engine instance is released. The feed closes before the worker
// drains: an in-flight transcribe can be blocked pushing a fragment
// into a full feed with no reader, and only the feed's close releases
// it. Pushes after that point drop into the registry's discarded
// count. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.registry.Deregister(s.handle)
		if discarded := s.feed.Close(); discarded > 0 {
			s.logger.Debug("delivery feed closed with undelivered fragments",
				zap.Int("discarded", discarded))
		}
		s.worker.close()
		s.closeErr = s.boundary.Close(ctx)
		s.telemetry.SessionClosed()
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Info("session closed")
	})
	return s.closeErr
}

// initContext performs the one-time startup crossing: the model path
// and wake-word list go over as caller-owned buffers, and the engine
// returns its encoded initial Context in a callee-owned buffer. It runs
// before the worker starts, so no serialization is needed yet.
func (s *Session) initContext(ctx context.Context, modelPath string, wakeWords []string) (protocol.Context, error) {
	modelBuf, err := protocol.AppendString(nil, modelPath)
	if err != nil {
		return protocol.Context{}, err
	}
	wordsBuf, err := protocol.AppendStringSeq(nil, wakeWords)
	if err != nil {
		return protocol.Context{}, err
	}

	scope := ownership.NewScope(s.releaseCaller, s.releaseCallee)
	defer func() {
		if ferr := scope.CloseAndRelease(ctx); ferr != nil {
			s.logger.Warn("init_context buffer release failed", zap.Error(ferr))
		}
	}()

	modelPtr, err := s.writeRequest(scope, modelBuf)
	if err != nil {
		return protocol.Context{}, err
	}
	wordsPtr, err := s.writeRequest(scope, wordsBuf)
	if err != nil {
		return protocol.Context{}, err
	}

	ptr, length, err := s.boundary.InitContext(ctx,
		modelPtr, uint32(len(modelBuf)), wordsPtr, uint32(len(wordsBuf)))
	if err != nil {
		return protocol.Context{}, errors.Wrap(errors.PhaseEngine, errors.KindEngineFault, err, "init_context")
	}
	scope.TrackCallee(ptr, length)
	if ptr == 0 {
		return protocol.Context{}, errors.NullResponse("init_context")
	}

	encoded, err := s.memory.Read(ptr, length)
	if err != nil {
		return protocol.Context{}, err
	}
	initial, err := protocol.DecodeContext(encoded)
	if err != nil {
		s.telemetry.ProtocolError()
		return protocol.Context{}, err
	}
	return initial, nil
}
