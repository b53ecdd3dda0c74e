package protocol

import (
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/auricleai/voice-runtime/errors"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"load model", LoadModel{Path: "models/ggml-tiny.bin"}},
		{"load model empty path", LoadModel{Path: ""}},
		{"set wake words", SetWakeWords{Words: []string{"Hey Assistant", "Wake"}}},
		{"set wake words empty", SetWakeWords{Words: []string{}}},
		{"set wake words unicode", SetWakeWords{Words: []string{"héllo", "こんにちは"}}},
		{"update audio data", UpdateAudioData{Samples: []float32{0, 0.5, -0.5, 1, -1}}},
		{"update audio data empty", UpdateAudioData{Samples: []float32{}}},
		{"detect wake words", DetectWakeWords{}},
		{"transcribe", Transcribe{}},
		{"debug", Debug{Text: "ping"}},
		{"debug empty", Debug{Text: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, payload, err := EncodeMessage(tt.msg)
			if err != nil {
				t.Fatalf("EncodeMessage failed: %v", err)
			}
			if tag != tt.msg.Tag() {
				t.Errorf("tag = %d, want %d", tag, tt.msg.Tag())
			}

			got, err := DecodeMessage(tag, payload)
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip = %#v, want %#v", got, tt.msg)
			}
		})
	}
}

func TestZeroSizedVariantsEncodeEmpty(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"detect wake words", DetectWakeWords{}},
		{"transcribe", Transcribe{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, payload, err := EncodeMessage(tt.msg)
			if err != nil {
				t.Fatalf("EncodeMessage failed: %v", err)
			}
			if len(payload) != 0 {
				t.Errorf("payload length = %d, want 0", len(payload))
			}

			// A zero-length buffer is a valid encoding of these variants.
			got, err := DecodeMessage(tt.msg.Tag(), nil)
			if err != nil {
				t.Fatalf("DecodeMessage of empty buffer failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("decoded = %#v, want %#v", got, tt.msg)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp Response
	}{
		{"text", Text{Value: "tell me the weather"}},
		{"text empty", Text{Value: ""}},
		{"detection hit", WakeWordDetection{Detected: true, StartIndex: SomeU64(0), EndIndex: SomeU64(13)}},
		{"detection hit mid-window", WakeWordDetection{Detected: true, StartIndex: SomeU64(7), EndIndex: SomeU64(11)}},
		{"detection miss", WakeWordDetection{Detected: false}},
		{"detection without indices", WakeWordDetection{Detected: true}},
		{"error", Error{Message: "model not loaded"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, payload, err := EncodeResponse(tt.resp)
			if err != nil {
				t.Fatalf("EncodeResponse failed: %v", err)
			}
			if tag != tt.resp.Tag() {
				t.Errorf("tag = %d, want %d", tag, tt.resp.Tag())
			}

			got, err := DecodeResponse(tag, payload)
			if err != nil {
				t.Fatalf("DecodeResponse failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.resp) {
				t.Errorf("round trip = %#v, want %#v", got, tt.resp)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
	}{
		{
			name: "full",
			ctx: Context{
				ModelPath:  "model.bin",
				WakeWords:  []string{"Hey Assistant"},
				Transcript: "tell me the weather",
			},
		},
		{
			name: "fresh session",
			ctx:  Context{ModelPath: "model.bin", WakeWords: []string{"Wake"}, Transcript: ""},
		},
		{
			name: "no wake words",
			ctx:  Context{ModelPath: "m", WakeWords: []string{}, Transcript: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeContext(tt.ctx)
			if err != nil {
				t.Fatalf("EncodeContext failed: %v", err)
			}
			got, err := DecodeContext(payload)
			if err != nil {
				t.Fatalf("DecodeContext failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.ctx) {
				t.Errorf("round trip = %#v, want %#v", got, tt.ctx)
			}
		})
	}
}

func TestContextClone(t *testing.T) {
	orig := Context{
		ModelPath:  "model.bin",
		WakeWords:  []string{"Hey Assistant", "Wake"},
		Transcript: "hello",
	}

	clone := orig.Clone()
	if !reflect.DeepEqual(clone, orig) {
		t.Fatalf("clone = %#v, want %#v", clone, orig)
	}

	clone.WakeWords[0] = "mutated"
	if orig.WakeWords[0] != "Hey Assistant" {
		t.Error("mutating clone's wake words changed the original")
	}
}

func TestUnwrap(t *testing.T) {
	t.Run("error tag raises engine fault", func(t *testing.T) {
		_, err := Unwrap(Error{Message: "model not loaded"})
		if err == nil {
			t.Fatal("Unwrap of Error response returned nil error")
		}
		if !errors.IsEngineFault(err) {
			t.Errorf("IsEngineFault = false for %v", err)
		}
		var e *errors.Error
		if !stderrors.As(err, &e) {
			t.Fatalf("error is not *errors.Error: %v", err)
		}
		if e.Detail != "model not loaded" {
			t.Errorf("Detail = %q, want embedded message", e.Detail)
		}
	})

	t.Run("text passes through", func(t *testing.T) {
		resp, err := Unwrap(Text{Value: "hello"})
		if err != nil {
			t.Fatalf("Unwrap returned error: %v", err)
		}
		if got, ok := resp.(Text); !ok || got.Value != "hello" {
			t.Errorf("Unwrap = %#v, want Text{hello}", resp)
		}
	})

	t.Run("detection passes through", func(t *testing.T) {
		in := WakeWordDetection{Detected: true, StartIndex: SomeU64(0), EndIndex: SomeU64(13)}
		resp, err := Unwrap(in)
		if err != nil {
			t.Fatalf("Unwrap returned error: %v", err)
		}
		if !reflect.DeepEqual(resp, in) {
			t.Errorf("Unwrap = %#v, want %#v", resp, in)
		}
	})
}
