// Package protocol implements the binary codec for the speech engine boundary.
//
// Requests (Message), replies (Response), and session state (Context) are
// closed tagged unions. The variant tag always crosses the boundary out of
// band, as a parameter or out-parameter of the entry point, never inside
// the payload, so the receiving side can dispatch before decoding.
//
// # Wire Format
//
// Payloads are field-by-field, little-endian, with no padding:
//
//	Field kind       Encoding
//	─────────────────────────────────────────────
//	string           u64 byte length, UTF-8 bytes
//	sequence<T>      u64 count, elements
//	f32              4 bytes, IEEE-754 bits
//	bool             1 byte (0 or 1)
//	optional<u64>    1 presence byte, u64 if present
//
// Zero-sized variants (DetectWakeWords, Transcribe) encode to zero-length
// payloads; decoding a zero-length buffer for those tags succeeds. Both
// sides must agree on the tag ordinals in this package; only the ordinal
// crosses.
//
// # Decode Strictness
//
// Decoding rejects unknown tags, length prefixes that read past the end of
// the buffer, prefixes beyond the safety limits, invalid UTF-8, and
// unconsumed trailing bytes. All of these surface as protocol errors
// (errors.IsProtocolError): they indicate a version or shape mismatch
// between the two sides, never an engine failure, and must not be retried.
//
// # Response Interpretation
//
// Text and Error share a payload shape (one string) but different tags and
// different caller semantics. Unwrap applies them: an Error tag becomes an
// engine fault carrying the embedded string, anything else passes through.
package protocol
