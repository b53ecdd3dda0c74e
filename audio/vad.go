package audio

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// GateConfig tunes the voice activity gate.
type GateConfig struct {
	// EnergyThreshold is the minimum RMS level for a window to count as
	// speech candidate.
	EnergyThreshold float64

	// FlatnessCeiling rejects windows whose spectral flatness exceeds
	// it. Broadband noise approaches 1; voiced speech sits well below.
	FlatnessCeiling float64

	// HoldWindows keeps the gate open this many windows past the last
	// active one so trailing words are not clipped.
	HoldWindows int
}

// Gate decides, window by window, whether audio is worth sending across
// the boundary. It combines an RMS energy threshold with a spectral
// flatness ceiling, and holds open for a configurable number of windows
// after the last speech so word endings survive.
//
// Decisions are per-window and sample-driven, never wall-clock-driven,
// so a file processed twice gates identically.
type Gate struct {
	cfg       GateConfig
	remaining int
}

// NewGate returns a closed gate.
func NewGate(cfg GateConfig) *Gate {
	if cfg.HoldWindows < 0 {
		cfg.HoldWindows = 0
	}
	return &Gate{cfg: cfg}
}

// Active reports whether this window should be forwarded. A window with
// enough energy and low enough flatness opens the gate; subsequent
// quiet windows pass until the hold runs out.
func (g *Gate) Active(window []float32) bool {
	if g.isSpeech(window) {
		g.remaining = g.cfg.HoldWindows
		return true
	}
	if g.remaining > 0 {
		g.remaining--
		return true
	}
	return false
}

// Reset closes the gate immediately.
func (g *Gate) Reset() {
	g.remaining = 0
}

func (g *Gate) isSpeech(window []float32) bool {
	if len(window) == 0 {
		return false
	}
	if RMS(window) < g.cfg.EnergyThreshold {
		return false
	}
	if g.cfg.FlatnessCeiling > 0 && g.cfg.FlatnessCeiling < 1 {
		if spectralFlatness(window) > g.cfg.FlatnessCeiling {
			return false
		}
	}
	return true
}

// RMS returns the root mean square level of the samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// spectralFlatness is the ratio of geometric to arithmetic mean of the
// magnitude spectrum, over the positive-frequency bins excluding DC.
// Tonal content (speech) scores near 0, broadband noise near 1. The
// frame is Hann-tapered first: a tone whose period does not divide the
// frame otherwise leaks energy across every bin and reads as flat.
func spectralFlatness(window []float32) float64 {
	if len(window) < 4 {
		return 1
	}
	input := make([]float64, len(window))
	scale := 2 * math.Pi / float64(len(window)-1)
	for i, s := range window {
		taper := 0.5 * (1 - math.Cos(scale*float64(i)))
		input[i] = float64(s) * taper
	}
	spectrum := fft.FFTReal(input)

	half := len(spectrum) / 2
	if half < 2 {
		return 1
	}

	const eps = 1e-12
	var logSum, sum float64
	n := 0
	for _, bin := range spectrum[1 : half+1] {
		mag := math.Hypot(real(bin), imag(bin)) + eps
		logSum += math.Log(mag)
		sum += mag
		n++
	}
	geometric := math.Exp(logSum / float64(n))
	arithmetic := sum / float64(n)
	if arithmetic == 0 {
		return 1
	}
	return geometric / arithmetic
}
