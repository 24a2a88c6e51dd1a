/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrogram parameters for the Whisper-family encoder input.
const (
	// SampleRate is the PCM rate the feature extractor expects.
	SampleRate = 16000

	// NumMels is the number of mel bands in the output grid.
	NumMels = 80

	// TargetFrames is the fixed time dimension of the output grid.
	TargetFrames = 3000

	nFFT         = 400
	hopLength    = 160
	chunkSeconds = 30
	numSamples   = chunkSeconds * SampleRate

	melFMin = 0.0
	melFMax = 8000.0
)

// ErrFeatureExtraction indicates an internal shape invariant was violated
// during spectrogram construction. It signals a defect, not bad user input.
var ErrFeatureExtraction = errors.New("feature extraction failed")

// Spectrogram is a log-mel energy grid laid out [NumMels][TargetFrames].
// The shape is constant regardless of input audio length: shorter inputs are
// zero-padded and longer inputs truncated, both on the time axis only.
type Spectrogram [][]float32

// Mels returns the number of mel bands.
func (s Spectrogram) Mels() int { return len(s) }

// Frames returns the number of time frames.
func (s Spectrogram) Frames() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

// FeatureExtractor converts 16 kHz PCM into the fixed-shape log-mel
// spectrogram the inference engine expects. Construction precomputes the mel
// filter bank, the Hann window and the FFT plan; all three are read-only
// afterwards, so a single extractor may be shared across goroutines.
type FeatureExtractor struct {
	filters [][]float64 // [freqBins][NumMels]
	window  []float64
	fft     *fourier.FFT
}

// NewFeatureExtractor creates an extractor with the reference configuration
// (400-point FFT, hop 160, 80 mel bands over 0-8000 Hz).
func NewFeatureExtractor() *FeatureExtractor {
	window := make([]float64, nFFT)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/nFFT))
	}

	return &FeatureExtractor{
		filters: melFilterBank(SampleRate, nFFT, NumMels, melFMin, melFMax),
		window:  window,
		fft:     fourier.NewFFT(nFFT),
	}
}

// Extract computes the log-mel spectrogram of samples, which must be 16 kHz
// mono PCM normalized to [-1, 1]. Input of any length is accepted: audio is
// padded with zeros or truncated to a 30 second window before framing.
func (e *FeatureExtractor) Extract(samples []float32) (Spectrogram, error) {
	padded := make([]float64, numSamples)
	for i, s := range samples {
		if i >= numSamples {
			break
		}
		padded[i] = float64(s)
	}

	frames := (numSamples-nFFT)/hopLength + 1
	if frames <= 0 || frames > TargetFrames {
		return nil, fmt.Errorf("%w: %d frames from fft=%d hop=%d", ErrFeatureExtraction, frames, nFFT, hopLength)
	}

	freqBins := nFFT/2 + 1
	frame := make([]float64, nFFT)
	coeffs := make([]complex128, freqBins)
	power := make([]float64, freqBins)

	// [frames][NumMels] mel energies, log-compressed in place.
	logMel := make([][]float64, frames)
	maxVal := math.Inf(-1)

	for f := 0; f < frames; f++ {
		start := f * hopLength
		for j := 0; j < nFFT; j++ {
			frame[j] = padded[start+j] * e.window[j]
		}

		e.fft.Coefficients(coeffs, frame)
		for j, c := range coeffs {
			power[j] = real(c)*real(c) + imag(c)*imag(c)
		}

		row := make([]float64, NumMels)
		for m := 0; m < NumMels; m++ {
			var acc float64
			for j := 0; j < freqBins; j++ {
				acc += power[j] * e.filters[j][m]
			}
			v := math.Log10(math.Max(acc, 1e-10))
			row[m] = v
			if v > maxVal {
				maxVal = v
			}
		}
		logMel[f] = row
	}

	// Whisper scaling: clamp to max-8 then map through (x+4)/4.
	floor := maxVal - 8
	out := make(Spectrogram, NumMels)
	for m := 0; m < NumMels; m++ {
		out[m] = make([]float32, TargetFrames)
		for f := 0; f < frames; f++ {
			v := math.Max(logMel[f][m], floor)
			out[m][f] = float32((v + 4) / 4)
		}
	}

	return out, nil
}
