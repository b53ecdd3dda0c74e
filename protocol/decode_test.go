package protocol

import (
	stderrors "errors"
	"testing"

	"github.com/auricleai/voice-runtime/errors"
)

func TestDecodeMessage_UnknownTag(t *testing.T) {
	_, err := DecodeMessage(Tag(99), nil)
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
	if !errors.IsProtocolError(err) {
		t.Errorf("IsProtocolError = false for %v", err)
	}
	if errors.IsEngineFault(err) {
		t.Errorf("unknown tag must not classify as an engine fault: %v", err)
	}
	target := &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindUnknownTag}
	if !stderrors.Is(err, target) {
		t.Errorf("err = %v, want kind unknown_tag", err)
	}
}

func TestDecodeResponse_UnknownTag(t *testing.T) {
	_, err := DecodeResponse(ResponseTag(99), nil)
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
	if !errors.IsProtocolError(err) {
		t.Errorf("IsProtocolError = false for %v", err)
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		tag     Tag
		payload []byte
		kind    errors.Kind
	}{
		{
			name:    "string prefix cut short",
			tag:     TagLoadModel,
			payload: []byte{9, 0, 0},
			kind:    errors.KindTruncated,
		},
		{
			name:    "string body shorter than prefix",
			tag:     TagLoadModel,
			payload: []byte{9, 0, 0, 0, 0, 0, 0, 0, 'm'},
			kind:    errors.KindTruncated,
		},
		{
			name:    "sample body shorter than count",
			tag:     TagUpdateAudioData,
			payload: []byte{2, 0, 0, 0, 0, 0, 0, 0, 0x00, 0x00, 0x80, 0x3f},
			kind:    errors.KindTruncated,
		},
		{
			name:    "zero-sized variant with trailing byte",
			tag:     TagDetectWakeWords,
			payload: []byte{0},
			kind:    errors.KindTrailingBytes,
		},
		{
			name: "string with trailing bytes",
			tag:  TagDebug,
			payload: []byte{
				2, 0, 0, 0, 0, 0, 0, 0, 'h', 'i',
				0xde, 0xad,
			},
			kind: errors.KindTrailingBytes,
		},
		{
			name:    "string length beyond limit",
			tag:     TagLoadModel,
			payload: []byte{0, 0, 0, 0, 0, 0, 0, 1}, // 2^56
			kind:    errors.KindLimitExceeded,
		},
		{
			name:    "sequence count beyond limit",
			tag:     TagSetWakeWords,
			payload: []byte{0, 0, 0, 0, 1, 0, 0, 0}, // 2^32
			kind:    errors.KindLimitExceeded,
		},
		{
			name:    "sample count beyond limit",
			tag:     TagUpdateAudioData,
			payload: []byte{0, 0, 0, 0, 0, 0, 0, 1},
			kind:    errors.KindLimitExceeded,
		},
		{
			name: "invalid utf-8 in string",
			tag:  TagDebug,
			payload: []byte{
				2, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xfe,
			},
			kind: errors.KindInvalidUTF8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.tag, tt.payload)
			if err == nil {
				t.Fatal("expected decode error")
			}
			if !errors.IsProtocolError(err) {
				t.Errorf("IsProtocolError = false for %v", err)
			}
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("error is not *errors.Error: %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v (err: %v)", e.Kind, tt.kind, err)
			}
		})
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		tag     ResponseTag
		payload []byte
		kind    errors.Kind
	}{
		{
			name:    "detection missing bool",
			tag:     TagWakeWordDetection,
			payload: nil,
			kind:    errors.KindTruncated,
		},
		{
			name:    "detection cut inside optional",
			tag:     TagWakeWordDetection,
			payload: []byte{1, 1, 0, 0},
			kind:    errors.KindTruncated,
		},
		{
			name:    "detection bool byte out of range",
			tag:     TagWakeWordDetection,
			payload: []byte{2, 0, 0},
			kind:    errors.KindInvalidInput,
		},
		{
			name:    "detection presence byte out of range",
			tag:     TagWakeWordDetection,
			payload: []byte{1, 7, 0},
			kind:    errors.KindInvalidInput,
		},
		{
			name: "detection trailing bytes",
			tag:  TagWakeWordDetection,
			payload: []byte{
				1,
				1, 13, 0, 0, 0, 0, 0, 0, 0,
				0,
				0xff,
			},
			kind: errors.KindTrailingBytes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.tag, tt.payload)
			if err == nil {
				t.Fatal("expected decode error")
			}
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("error is not *errors.Error: %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v (err: %v)", e.Kind, tt.kind, err)
			}
		})
	}
}

func TestDecodeContext_Malformed(t *testing.T) {
	full, err := EncodeContext(Context{
		ModelPath:  "model.bin",
		WakeWords:  []string{"Wake"},
		Transcript: "hi",
	})
	if err != nil {
		t.Fatalf("EncodeContext failed: %v", err)
	}

	tests := []struct {
		name    string
		payload []byte
		kind    errors.Kind
	}{
		{"empty buffer", nil, errors.KindTruncated},
		{"cut inside model path", full[:12], errors.KindTruncated},
		{"trailing garbage", append(append([]byte{}, full...), 0x00), errors.KindTrailingBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeContext(tt.payload)
			if err == nil {
				t.Fatal("expected decode error")
			}
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("error is not *errors.Error: %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v (err: %v)", e.Kind, tt.kind, err)
			}
		})
	}
}

// A hostile count with a tiny buffer must fail on truncation without first
// allocating the full claimed capacity.
func TestDecodeMessage_HostileCountDoesNotOverAllocate(t *testing.T) {
	payload := []byte{
		0xff, 0xff, 0x0f, 0, 0, 0, 0, 0, // count just under the sequence limit
		1, 0, 0, 0, 0, 0, 0, 0, 'a', // one real element
	}
	_, err := DecodeMessage(TagSetWakeWords, payload)
	if err == nil {
		t.Fatal("expected truncation error")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("error is not *errors.Error: %v", err)
	}
	if e.Kind != errors.KindTruncated {
		t.Errorf("Kind = %v, want truncated", e.Kind)
	}
}
