package telemetry

import "sync/atomic"

// Recorder tracks runtime-level counters: boundary traffic, response
// outcomes, and delivery-feed flow. All methods are safe on a nil
// receiver, so components take a *Recorder without guarding it.
type Recorder struct {
	sessions       atomic.Uint64
	activeSessions atomic.Int64

	dispatches     atomic.Uint64
	bytesOut       atomic.Uint64
	bytesIn        atomic.Uint64
	protocolErrors atomic.Uint64
	engineFaults   atomic.Uint64

	textResponses      atomic.Uint64
	detectionResponses atomic.Uint64
	errorResponses     atomic.Uint64

	fragments atomic.Uint64
}

// Snapshot captures the cumulative counters recorded so far.
type Snapshot struct {
	Sessions       uint64
	ActiveSessions int64

	Dispatches     uint64
	BytesOut       uint64
	BytesIn        uint64
	ProtocolErrors uint64
	EngineFaults   uint64

	TextResponses      uint64
	DetectionResponses uint64
	ErrorResponses     uint64

	Fragments uint64
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// SessionOpened counts one session start.
func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.sessions.Add(1)
	r.activeSessions.Add(1)
}

// SessionClosed counts one session end.
func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.activeSessions.Add(-1)
}

// Dispatch counts one boundary exchange: bytesOut crossed into the
// engine, bytesIn came back in the response buffer.
func (r *Recorder) Dispatch(bytesOut, bytesIn int) {
	if r == nil {
		return
	}
	r.dispatches.Add(1)
	if bytesOut > 0 {
		r.bytesOut.Add(uint64(bytesOut))
	}
	if bytesIn > 0 {
		r.bytesIn.Add(uint64(bytesIn))
	}
}

// ProtocolError counts one decode failure.
func (r *Recorder) ProtocolError() {
	if r == nil {
		return
	}
	r.protocolErrors.Add(1)
}

// EngineFault counts one null-sentinel or engine-reported failure.
func (r *Recorder) EngineFault() {
	if r == nil {
		return
	}
	r.engineFaults.Add(1)
}

// TextResponse counts one Text result.
func (r *Recorder) TextResponse() {
	if r == nil {
		return
	}
	r.textResponses.Add(1)
}

// DetectionResponse counts one WakeWordDetection result.
func (r *Recorder) DetectionResponse() {
	if r == nil {
		return
	}
	r.detectionResponses.Add(1)
}

// ErrorResponse counts one Error result.
func (r *Recorder) ErrorResponse() {
	if r == nil {
		return
	}
	r.errorResponses.Add(1)
}

// Fragment counts one streamed fragment received by a reader.
func (r *Recorder) Fragment() {
	if r == nil {
		return
	}
	r.fragments.Add(1)
}

// Snapshot returns an immutable view of the totals. A nil recorder
// snapshots to zeros.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		Sessions:           r.sessions.Load(),
		ActiveSessions:     r.activeSessions.Load(),
		Dispatches:         r.dispatches.Load(),
		BytesOut:           r.bytesOut.Load(),
		BytesIn:            r.bytesIn.Load(),
		ProtocolErrors:     r.protocolErrors.Load(),
		EngineFaults:       r.engineFaults.Load(),
		TextResponses:      r.textResponses.Load(),
		DetectionResponses: r.detectionResponses.Load(),
		ErrorResponses:     r.errorResponses.Load(),
		Fragments:          r.fragments.Load(),
	}
}
