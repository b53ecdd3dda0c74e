package protocol

// Tag identifies a Message variant. Only the ordinal crosses the boundary,
// so values are stable: both sides compile against the same enumeration.
type Tag uint8

const (
	TagLoadModel Tag = iota
	TagSetWakeWords
	TagUpdateAudioData
	TagDetectWakeWords
	TagTranscribe
	TagDebug
)

// maxMessageTag is the highest valid Message ordinal.
const maxMessageTag = TagDebug

func (t Tag) String() string {
	switch t {
	case TagLoadModel:
		return "load_model"
	case TagSetWakeWords:
		return "set_wake_words"
	case TagUpdateAudioData:
		return "update_audio_data"
	case TagDetectWakeWords:
		return "detect_wake_words"
	case TagTranscribe:
		return "transcribe"
	case TagDebug:
		return "debug"
	}
	return "unknown"
}

// ResponseTag identifies a Response variant.
type ResponseTag uint8

const (
	TagText ResponseTag = iota
	TagWakeWordDetection
	TagError
)

// maxResponseTag is the highest valid Response ordinal.
const maxResponseTag = TagError

func (t ResponseTag) String() string {
	switch t {
	case TagText:
		return "text"
	case TagWakeWordDetection:
		return "wake_word_detection"
	case TagError:
		return "error"
	}
	return "unknown"
}

// SampleRate is the sample rate the engine expects for audio payloads.
const SampleRate = 16000

// NullResponseDiagnostic is the fixed message of the Error response the
// dispatcher synthesizes when the engine returns the null pointer sentinel.
const NullResponseDiagnostic = "engine returned null response pointer"

// Message is the closed set of requests the host sends across the boundary.
// The tag crosses out of band; payloads carry only the variant's fields.
// DetectWakeWords and Transcribe are zero-sized: their payloads are empty
// buffers, which are still well-formed encodings.
type Message interface {
	Tag() Tag
	isMessage()
}

// LoadModel points the engine at a model file.
type LoadModel struct {
	Path string
}

// SetWakeWords replaces the engine's active wake-word list.
type SetWakeWords struct {
	Words []string
}

// UpdateAudioData hands the engine a window of 16 kHz mono samples.
type UpdateAudioData struct {
	Samples []float32
}

// DetectWakeWords asks the engine to scan the current audio window.
type DetectWakeWords struct{}

// Transcribe asks the engine to transcribe the current audio window.
type Transcribe struct{}

// Debug round-trips a diagnostic string through the engine.
type Debug struct {
	Text string
}

func (LoadModel) Tag() Tag       { return TagLoadModel }
func (SetWakeWords) Tag() Tag    { return TagSetWakeWords }
func (UpdateAudioData) Tag() Tag { return TagUpdateAudioData }
func (DetectWakeWords) Tag() Tag { return TagDetectWakeWords }
func (Transcribe) Tag() Tag      { return TagTranscribe }
func (Debug) Tag() Tag           { return TagDebug }

func (LoadModel) isMessage()       {}
func (SetWakeWords) isMessage()    {}
func (UpdateAudioData) isMessage() {}
func (DetectWakeWords) isMessage() {}
func (Transcribe) isMessage()      {}
func (Debug) isMessage()           {}

// Response is the closed set of replies the engine sends back. The tag
// crosses out of band so the host can dispatch before decoding the payload.
type Response interface {
	Tag() ResponseTag
	isResponse()
}

// Text carries transcribed or echoed text.
type Text struct {
	Value string
}

// WakeWordDetection reports whether a wake phrase was found in the current
// audio window. Indices are byte offsets into the engine's transcription of
// the window; EndIndex is exclusive (start + phrase length).
type WakeWordDetection struct {
	Detected   bool
	StartIndex OptionalU64
	EndIndex   OptionalU64
}

// Error carries the engine's own failure report. It is a protocol value,
// not a Go error; Unwrap converts it to one.
type Error struct {
	Message string
}

func (Text) Tag() ResponseTag              { return TagText }
func (WakeWordDetection) Tag() ResponseTag { return TagWakeWordDetection }
func (Error) Tag() ResponseTag             { return TagError }

func (Text) isResponse()              {}
func (WakeWordDetection) isResponse() {}
func (Error) isResponse()             {}

// OptionalU64 is an optional unsigned index. The zero value is absent.
// On the wire it is a presence byte followed by the value when present.
type OptionalU64 struct {
	Valid bool
	Value uint64
}

// SomeU64 returns a present OptionalU64.
func SomeU64(v uint64) OptionalU64 {
	return OptionalU64{Valid: true, Value: v}
}

// Context is the session state threaded through calls: always by value,
// never by shared reference, because the two sides of the boundary do not
// share an address space or allocator. The engine returns the initial
// encoded Context from init_context; every later call yields a fresh value.
type Context struct {
	ModelPath  string
	WakeWords  []string
	Transcript string
}

// Clone returns a deep copy. Context values hand out copies of the
// wake-word slice so no two holders share backing storage.
func (c Context) Clone() Context {
	out := c
	if c.WakeWords != nil {
		out.WakeWords = make([]string, len(c.WakeWords))
		copy(out.WakeWords, c.WakeWords)
	}
	return out
}
