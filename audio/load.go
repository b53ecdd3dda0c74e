package audio

import (
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/auricleai/voice-runtime/errors"
	"github.com/auricleai/voice-runtime/protocol"
)

// LoadWAV reads a WAV file and returns its samples as mono float32 in
// [-1, 1] at the engine's sample rate. Multi-channel audio is downmixed
// by averaging; other sample rates are linearly resampled.
func LoadWAV(fs afero.Fs, path string) ([]float32, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseAudio, errors.KindNotFound, err, "open audio file")
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.InvalidInput(errors.PhaseAudio, "not a valid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseAudio, errors.KindInvalidInput, err, "decode PCM")
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return nil, errors.InvalidInput(errors.PhaseAudio, "missing PCM format")
	}

	mono := downmix(buf.Data, buf.Format.NumChannels, int(dec.BitDepth))
	if buf.Format.SampleRate != protocol.SampleRate {
		mono = Resample(mono, buf.Format.SampleRate, protocol.SampleRate)
	}
	return mono, nil
}

// downmix converts interleaved integer PCM to mono float32, averaging
// channels and scaling by the bit depth.
func downmix(data []int, channels, bitDepth int) []float32 {
	if channels < 1 {
		channels = 1
	}
	if bitDepth < 1 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[i*channels+c])
		}
		out[i] = float32(sum / float64(channels) / scale)
	}
	return out
}

// Resample converts samples from one rate to another by linear
// interpolation. Good enough for speech fed to a recognizer; callers
// needing higher fidelity should resample upstream.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from < 1 || to < 1 || len(samples) == 0 {
		return samples
	}
	outLen := int(int64(len(samples)) * int64(to) / int64(from))
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}

// Windows splits samples into consecutive windows of size. The final
// window may be shorter; empty input yields no windows.
func Windows(samples []float32, size int) [][]float32 {
	if size < 1 || len(samples) == 0 {
		return nil
	}
	out := make([][]float32, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, samples[start:end])
	}
	return out
}

// WindowSize converts a window duration in seconds to a sample count at
// the engine rate.
func WindowSize(seconds float64) int {
	n := int(seconds * protocol.SampleRate)
	if n < 1 {
		n = 1
	}
	return n
}
