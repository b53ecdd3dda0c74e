package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/auricleai/voice-runtime/errors"
	"github.com/auricleai/voice-runtime/ownership"
	"github.com/auricleai/voice-runtime/protocol"
)

// dispatch drives one request/response exchange against the boundary.
// It runs on the session worker, never on the caller's goroutine.
//
// Steps, in order: encode the message; allocate a caller-owned guest
// buffer and copy the payload in (skipped for zero-length payloads);
// cross send_message; map the null sentinel to a synthesized Error
// response; decode by the out-of-band tag. The ownership scope releases
// the request buffer through the engine's dealloc and the response
// buffer through free_buffer exactly once, on every exit path.
func (s *Session) dispatch(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	scratch := protocol.GetBuffer()
	defer protocol.PutBuffer(scratch)

	tag, payload, err := protocol.AppendMessage((*scratch)[:0], msg)
	if err != nil {
		return nil, err
	}
	*scratch = payload

	scope := ownership.NewScope(s.releaseCaller, s.releaseCallee)
	defer func() {
		if ferr := scope.CloseAndRelease(ctx); ferr != nil {
			s.logger.Warn("buffer release failed", zap.Error(ferr))
		}
	}()

	ptr, err := s.writeRequest(scope, payload)
	if err != nil {
		return nil, err
	}

	respTag, respPtr, respLen, err := s.boundary.SendMessage(ctx, uint8(tag), ptr, uint32(len(payload)))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindEngineFault, err, "send_message")
	}
	scope.TrackCallee(respPtr, respLen)
	s.telemetry.Dispatch(len(payload), int(respLen))

	if respPtr == 0 {
		s.telemetry.EngineFault()
		s.telemetry.ErrorResponse()
		s.logger.Warn("engine returned null response pointer",
			zap.String("message", tag.String()))
		return protocol.Error{Message: protocol.NullResponseDiagnostic}, nil
	}

	respBytes, err := s.memory.Read(respPtr, respLen)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.DecodeResponse(protocol.ResponseTag(respTag), respBytes)
	if err != nil {
		s.telemetry.ProtocolError()
		s.logger.Error("response decode failed",
			zap.String("message", tag.String()),
			zap.Uint8("response_tag", respTag),
			zap.Uint32("response_len", respLen),
			zap.Error(err))
		return nil, err
	}

	s.countResponse(resp)
	return resp, nil
}

// writeRequest places the encoded payload into a caller-owned guest
// buffer tracked by scope. Zero-length payloads skip allocation
// entirely and cross as (0, 0): the zero-sized message variants are
// well-formed empty encodings, and platform allocators disagree on
// what a zero-byte allocation even returns.
func (s *Session) writeRequest(scope *ownership.Scope, payload []byte) (uint32, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	size := uint32(len(payload))
	ptr, err := s.alloc.Alloc(size)
	if err != nil {
		return 0, errors.AllocationFailed(size, err)
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(size, nil)
	}
	scope.TrackCaller(ptr, size)
	if err := s.memory.Write(ptr, payload); err != nil {
		return 0, err
	}
	return ptr, nil
}

func (s *Session) countResponse(resp protocol.Response) {
	switch resp.(type) {
	case protocol.Text:
		s.telemetry.TextResponse()
	case protocol.WakeWordDetection:
		s.telemetry.DetectionResponse()
	case protocol.Error:
		s.telemetry.EngineFault()
		s.telemetry.ErrorResponse()
	}
}

func (s *Session) releaseCaller(ctx context.Context, ptr, length uint32) error {
	return s.alloc.Free(ptr, length)
}

func (s *Session) releaseCallee(ctx context.Context, ptr, length uint32) error {
	return s.boundary.FreeBuffer(ctx, ptr, length)
}
