// Package voiceruntime hosts an unmanaged speech-processing engine behind a
// binary message-passing boundary.
//
// The engine is a WebAssembly module with its own linear memory and exported
// allocator. The host never shares an address space with it: requests are
// encoded to a compact binary form, copied into engine memory through the
// engine's allocator, and responses come back as tagged buffers the host
// decodes and then releases through the engine's free entry point. Incremental
// transcription results are pushed asynchronously through a registered
// callback into a bounded delivery feed, independent of any in-flight call.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	voiceruntime/        Root package with the boundary contracts
//	├── runtime/         High-level API: sessions, dispatch, worker
//	├── engine/          wazero-backed boundary plus an in-process stub
//	├── protocol/        Binary codec for messages, responses, contexts
//	├── ownership/       Cross-allocator allocation pairing and scopes
//	├── stream/          Asynchronous delivery feed and handle registry
//	├── errors/          Structured error types for every layer
//	├── telemetry/       Counters for dispatches, faults, stream flow
//	├── config/          YAML configuration with env overrides
//	└── audio/           WAV loading, conversion, voice activity gate
//
// # Quick Start
//
// Open an engine and run one session:
//
//	provider, err := engine.Open(ctx, engine.OpenConfig{ModulePath: "engine.wasm"})
//	if err != nil {
//	    // The provider is still usable: the in-process stub stands in.
//	    log.Printf("running on the stub engine: %v", err)
//	}
//	defer provider.Close(ctx)
//
//	rt := runtime.New(provider, runtime.Options{})
//	sess, err := rt.NewSession(ctx, "model.bin", []string{"Hey Assistant"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close(ctx)
//
//	_, resp, err := sess.Advance(ctx, samples, runtime.OpDetectWakeWords)
//
// # Thread Safety
//
// Runtime is safe for concurrent use. A Session serializes its own calls:
// two dispatches against the same session are strictly ordered, and sessions
// never share engine state. The delivery feed supports one reader.
//
// # Memory Model
//
// Buffers cross the boundary by copy, never by shared reference. Every
// allocation is released exactly once, by the side that created it: request
// buffers through the engine's exported dealloc, response buffers through
// free_buffer. The ownership package enforces this structurally; violating
// it in an engine is undefined behavior, not a recoverable error.
package voiceruntime
