package protocol

import (
	"encoding/binary"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/auricleai/voice-runtime/errors"
)

// Safety limits shared by both directions. Decoding validates length
// prefixes against these before allocating; encoding refuses to build a
// buffer the other side would have to reject.
const (
	MaxStringBytes = 16 << 20 // 16 MiB per string
	MaxSequenceLen = 1 << 20  // 1M elements per sequence
	MaxSampleCount = 16 << 20 // 16M samples (~17 minutes at 16 kHz)
)

// EncodeMessage serializes a message payload. The tag is returned alongside
// the bytes because it crosses the boundary out of band, never inside the
// payload. Zero-sized variants yield an empty (but well-formed) payload.
func EncodeMessage(m Message) (Tag, []byte, error) {
	return AppendMessage(nil, m)
}

// AppendMessage appends the encoded payload of m to dst and returns the tag
// and the extended buffer. dst may be nil or a recycled scratch buffer.
func AppendMessage(dst []byte, m Message) (Tag, []byte, error) {
	switch v := m.(type) {
	case LoadModel:
		out, err := appendString(dst, v.Path, "load_model", "path")
		return TagLoadModel, out, err
	case SetWakeWords:
		out, err := appendStringSeq(dst, v.Words, "set_wake_words", "words")
		return TagSetWakeWords, out, err
	case UpdateAudioData:
		out, err := appendSampleSeq(dst, v.Samples)
		return TagUpdateAudioData, out, err
	case DetectWakeWords:
		return TagDetectWakeWords, dst, nil
	case Transcribe:
		return TagTranscribe, dst, nil
	case Debug:
		out, err := appendString(dst, v.Text, "debug", "text")
		return TagDebug, out, err
	}
	return 0, dst, errors.InvalidInput(errors.PhaseEncode, "nil message")
}

// EncodeResponse serializes a response payload, tag out of band.
func EncodeResponse(r Response) (ResponseTag, []byte, error) {
	return AppendResponse(nil, r)
}

// AppendResponse appends the encoded payload of r to dst.
func AppendResponse(dst []byte, r Response) (ResponseTag, []byte, error) {
	switch v := r.(type) {
	case Text:
		out, err := appendString(dst, v.Value, "text", "value")
		return TagText, out, err
	case WakeWordDetection:
		out := appendBool(dst, v.Detected)
		out = appendOptionalU64(out, v.StartIndex)
		out = appendOptionalU64(out, v.EndIndex)
		return TagWakeWordDetection, out, nil
	case Error:
		out, err := appendString(dst, v.Message, "error", "message")
		return TagError, out, err
	}
	return 0, dst, errors.InvalidInput(errors.PhaseEncode, "nil response")
}

// EncodeContext serializes a context value.
func EncodeContext(c Context) ([]byte, error) {
	return AppendContext(nil, c)
}

// AppendString appends one length-prefixed string. The init_context
// model-path buffer crosses in this shape.
func AppendString(dst []byte, s string) ([]byte, error) {
	return appendString(dst, s, "string")
}

// AppendStringSeq appends one length-prefixed string sequence. The
// init_context wake-words buffer crosses in this shape.
func AppendStringSeq(dst []byte, words []string) ([]byte, error) {
	return appendStringSeq(dst, words, "string_seq", "elements")
}

// AppendContext appends the encoded context to dst.
func AppendContext(dst []byte, c Context) ([]byte, error) {
	out, err := appendString(dst, c.ModelPath, "context", "model_path")
	if err != nil {
		return dst, err
	}
	out, err = appendStringSeq(out, c.WakeWords, "context", "wake_words")
	if err != nil {
		return dst, err
	}
	out, err = appendString(out, c.Transcript, "context", "transcript")
	if err != nil {
		return dst, err
	}
	return out, nil
}

func appendU64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

func appendBool(dst []byte, v bool) []byte {
	if v {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func appendOptionalU64(dst []byte, v OptionalU64) []byte {
	if !v.Valid {
		return append(dst, 0)
	}
	dst = append(dst, 1)
	return appendU64(dst, v.Value)
}

func appendString(dst []byte, s string, path ...string) ([]byte, error) {
	if uint64(len(s)) > MaxStringBytes {
		return dst, errors.LimitExceeded(errors.PhaseEncode, path, "string", uint64(len(s)), MaxStringBytes)
	}
	if !utf8.ValidString(s) {
		return dst, errors.InvalidUTF8(errors.PhaseEncode, path, []byte(s))
	}
	dst = appendU64(dst, uint64(len(s)))
	return append(dst, s...), nil
}

func appendStringSeq(dst []byte, ss []string, unionName, field string) ([]byte, error) {
	if uint64(len(ss)) > MaxSequenceLen {
		return dst, errors.LimitExceeded(errors.PhaseEncode, []string{unionName, field}, "sequence", uint64(len(ss)), MaxSequenceLen)
	}
	out := appendU64(dst, uint64(len(ss)))
	var err error
	for i, s := range ss {
		out, err = appendString(out, s, unionName, field+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return dst, err
		}
	}
	return out, nil
}

func appendSampleSeq(dst []byte, samples []float32) ([]byte, error) {
	if uint64(len(samples)) > MaxSampleCount {
		return dst, errors.LimitExceeded(errors.PhaseEncode, []string{"update_audio_data", "samples"}, "sample sequence", uint64(len(samples)), MaxSampleCount)
	}
	out := appendU64(dst, uint64(len(samples)))
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(s))
	}
	return out, nil
}
