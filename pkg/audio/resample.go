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
)

// ErrInvalidInput indicates malformed PCM input (empty buffer, non-positive
// sample rates). Callers should not retry.
var ErrInvalidInput = errors.New("invalid audio input")

// Sinc interpolation parameters. These match the conversion quality used by
// the reference model's preprocessing: half-length 256, 256x oversampled
// kernel table with linear interpolation between entries, Blackman-Harris
// windowing, cutoff at 0.95x the narrower Nyquist frequency.
const (
	sincHalfLen  = 256
	oversampling = 256
	cutoffFactor = 0.95
)

// Resample converts mono PCM from fromRate to toRate using band-limited
// windowed-sinc interpolation. The output holds round(len * toRate/fromRate)
// samples. A same-rate conversion returns a copy of the input.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty sample buffer", ErrInvalidInput)
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("%w: sample rates must be positive (%d -> %d)", ErrInvalidInput, fromRate, toRate)
	}

	if fromRate == toRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	ratio := float64(toRate) / float64(fromRate)
	cutoff := cutoffFactor
	if ratio < 1 {
		// When downsampling the passband must stop below the output
		// Nyquist frequency, not the input one.
		cutoff *= ratio
	}

	table := sincTable(cutoff)
	step := float64(fromRate) / float64(toRate)
	outLen := int(math.Round(float64(len(samples)) * ratio))
	out := make([]float32, outLen)

	for i := range out {
		pos := float64(i) * step
		center := int(pos)
		frac := pos - float64(center)

		var acc float64
		for k := -sincHalfLen + 1; k <= sincHalfLen; k++ {
			idx := center + k
			if idx < 0 || idx >= len(samples) {
				continue
			}
			t := math.Abs(float64(k)-frac) * oversampling
			ti := int(t)
			if ti >= len(table)-1 {
				continue
			}
			tf := t - float64(ti)
			coef := table[ti] + (table[ti+1]-table[ti])*tf
			acc += float64(samples[idx]) * coef
		}
		out[i] = float32(acc)
	}

	return out, nil
}

// sincTable precomputes one side of the windowed-sinc kernel, sampled at
// oversampling points per input sample period.
func sincTable(cutoff float64) []float64 {
	n := sincHalfLen * oversampling
	table := make([]float64, n+1)
	for i := range table {
		t := float64(i) / oversampling
		table[i] = cutoff * normSinc(cutoff*t) * blackmanHarris(t/sincHalfLen)
	}
	return table
}

// normSinc is the normalized sinc function sin(pi*x)/(pi*x).
func normSinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackmanHarris evaluates the 4-term Blackman-Harris window for x in [0, 1]
// measured from the kernel center outward.
func blackmanHarris(x float64) float64 {
	const (
		a0 = 0.35875
		a1 = 0.48829
		a2 = 0.14128
		a3 = 0.01168
	)
	y := 2 * math.Pi * (0.5 + x/2)
	return a0 - a1*math.Cos(y) + a2*math.Cos(2*y) - a3*math.Cos(3*y)
}
