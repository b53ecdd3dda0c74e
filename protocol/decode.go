package protocol

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/auricleai/voice-runtime/errors"
)

// DecodeMessage decodes a message payload according to its out-of-band tag.
// A tag outside the known set, a length prefix that reads past the buffer,
// or unconsumed trailing bytes are protocol errors: they mean the two sides
// of the boundary were built against different shapes, never that the
// engine failed.
func DecodeMessage(tag Tag, payload []byte) (Message, error) {
	r := reader{buf: payload}
	var m Message
	switch tag {
	case TagLoadModel:
		path, err := r.str("load_model", "path")
		if err != nil {
			return nil, err
		}
		m = LoadModel{Path: path}
	case TagSetWakeWords:
		words, err := r.strSeq("set_wake_words", "words")
		if err != nil {
			return nil, err
		}
		m = SetWakeWords{Words: words}
	case TagUpdateAudioData:
		samples, err := r.sampleSeq("update_audio_data", "samples")
		if err != nil {
			return nil, err
		}
		m = UpdateAudioData{Samples: samples}
	case TagDetectWakeWords:
		m = DetectWakeWords{}
	case TagTranscribe:
		m = Transcribe{}
	case TagDebug:
		text, err := r.str("debug", "text")
		if err != nil {
			return nil, err
		}
		m = Debug{Text: text}
	default:
		return nil, errors.UnknownTag(errors.PhaseDecode, "message", uint8(tag), uint8(maxMessageTag))
	}
	if err := r.finish("message"); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeResponse decodes a response payload according to its out-of-band tag.
func DecodeResponse(tag ResponseTag, payload []byte) (Response, error) {
	r := reader{buf: payload}
	var resp Response
	switch tag {
	case TagText:
		value, err := r.str("text", "value")
		if err != nil {
			return nil, err
		}
		resp = Text{Value: value}
	case TagWakeWordDetection:
		detected, err := r.boolByte("wake_word_detection", "detected")
		if err != nil {
			return nil, err
		}
		start, err := r.optionalU64("wake_word_detection", "start_index")
		if err != nil {
			return nil, err
		}
		end, err := r.optionalU64("wake_word_detection", "end_index")
		if err != nil {
			return nil, err
		}
		resp = WakeWordDetection{Detected: detected, StartIndex: start, EndIndex: end}
	case TagError:
		message, err := r.str("error", "message")
		if err != nil {
			return nil, err
		}
		resp = Error{Message: message}
	default:
		return nil, errors.UnknownTag(errors.PhaseDecode, "response", uint8(tag), uint8(maxResponseTag))
	}
	if err := r.finish("response"); err != nil {
		return nil, err
	}
	return resp, nil
}

// DecodeContext decodes a context value (as returned by init_context).
func DecodeContext(payload []byte) (Context, error) {
	r := reader{buf: payload}
	modelPath, err := r.str("context", "model_path")
	if err != nil {
		return Context{}, err
	}
	wakeWords, err := r.strSeq("context", "wake_words")
	if err != nil {
		return Context{}, err
	}
	transcript, err := r.str("context", "transcript")
	if err != nil {
		return Context{}, err
	}
	if err := r.finish("context"); err != nil {
		return Context{}, err
	}
	return Context{ModelPath: modelPath, WakeWords: wakeWords, Transcript: transcript}, nil
}

// DecodeString decodes a buffer holding exactly one length-prefixed string.
func DecodeString(payload []byte) (string, error) {
	r := reader{buf: payload}
	s, err := r.str("string")
	if err != nil {
		return "", err
	}
	if err := r.finish("string"); err != nil {
		return "", err
	}
	return s, nil
}

// DecodeStringSeq decodes a buffer holding exactly one string sequence.
func DecodeStringSeq(payload []byte) ([]string, error) {
	r := reader{buf: payload}
	ss, err := r.strSeq("string_seq", "elements")
	if err != nil {
		return nil, err
	}
	if err := r.finish("string_seq"); err != nil {
		return nil, err
	}
	return ss, nil
}

// Unwrap applies caller-visible response semantics: an Error tag is a raised
// engine fault carrying the embedded string; any other tag is the success
// value, passed through unchanged.
func Unwrap(r Response) (Response, error) {
	if e, ok := r.(Error); ok {
		return nil, errors.EngineFault(e.Message)
	}
	return r, nil
}

// reader walks a payload, tracking the offset for diagnostics. All helpers
// validate length prefixes against both the safety limits and the remaining
// input before allocating.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int, path ...string) ([]byte, error) {
	if r.remaining() < n {
		return nil, errors.Truncated(errors.PhaseDecode, path, r.off, n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u64(path ...string) (uint64, error) {
	b, err := r.take(8, path...)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) boolByte(path ...string) (bool, error) {
	b, err := r.take(1, path...)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errors.New(errors.PhaseDecode, errors.KindInvalidInput).
		Path(path...).
		Detail("bool byte %d is neither 0 nor 1", b[0]).
		Build()
}

func (r *reader) optionalU64(path ...string) (OptionalU64, error) {
	present, err := r.boolByte(path...)
	if err != nil {
		return OptionalU64{}, err
	}
	if !present {
		return OptionalU64{}, nil
	}
	v, err := r.u64(path...)
	if err != nil {
		return OptionalU64{}, err
	}
	return SomeU64(v), nil
}

func (r *reader) str(path ...string) (string, error) {
	length, err := r.u64(path...)
	if err != nil {
		return "", err
	}
	if length > MaxStringBytes {
		return "", errors.LimitExceeded(errors.PhaseDecode, path, "string", length, MaxStringBytes)
	}
	b, err := r.take(int(length), path...)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, path, b)
	}
	// string() copies, so the result stays valid after the engine buffer
	// backing r.buf is released.
	return string(b), nil
}

func (r *reader) strSeq(path ...string) ([]string, error) {
	count, err := r.u64(path...)
	if err != nil {
		return nil, err
	}
	if count > MaxSequenceLen {
		return nil, errors.LimitExceeded(errors.PhaseDecode, path, "sequence", count, MaxSequenceLen)
	}
	// Each element needs at least its 8-byte length prefix, so the remaining
	// input bounds how much is worth pre-allocating for a hostile count.
	capHint := count
	if maxFit := uint64(r.remaining() / 8); capHint > maxFit {
		capHint = maxFit
	}
	out := make([]string, 0, capHint)
	for i := uint64(0); i < count; i++ {
		s, err := r.str(path...)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *reader) sampleSeq(path ...string) ([]float32, error) {
	count, err := r.u64(path...)
	if err != nil {
		return nil, err
	}
	if count > MaxSampleCount {
		return nil, errors.LimitExceeded(errors.PhaseDecode, path, "sample sequence", count, MaxSampleCount)
	}
	b, err := r.take(int(count)*4, path...)
	if err != nil {
		return nil, err
	}
	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func (r *reader) finish(union string) error {
	if n := r.remaining(); n != 0 {
		return errors.TrailingBytes([]string{union}, n)
	}
	return nil
}
