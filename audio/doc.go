// Package audio prepares file audio for the engine: WAV decoding
// through afero, downmix and resample to 16 kHz mono float32, window
// chunking, and a deterministic voice activity gate combining RMS
// energy with spectral flatness.
//
// Microphone capture is out of scope; files stand in for a live
// source, which is why the gate is window-driven rather than
// wall-clock-driven.
package audio
