// Package errors provides structured error types for the voice-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes a field path, the offending value, and a
// cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindTruncated).
//		Path("context", "wake_words").
//		Detail("need 8 bytes at offset 24, have 3").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownTag(errors.PhaseDecode, "message", 99, 5)
//	err := errors.EngineFault("model not loaded")
//
// The two caller-facing classes of dispatch failure have classifiers:
// IsProtocolError for wire-shape violations (a version mismatch between the
// two sides, fatal to the call) and IsEngineFault for failures the engine
// itself reported (recoverable per call).
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
