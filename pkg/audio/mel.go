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

import "math"

// hzToMel converts a frequency in Hz to the mel scale.
func hzToMel(f float64) float64 {
	return 2595 * math.Log10(1+f/700)
}

// melToHz converts a mel-scale value back to Hz.
func melToHz(m float64) float64 {
	return 700 * (math.Pow(10, m/2595) - 1)
}

// melFilterBank builds a dense [freqBins][numMels] triangular filter matrix.
// Anchor frequencies are equally spaced on the mel scale; each band rises
// linearly from its left anchor to its center and falls to its right anchor.
// Bands carry Slaney-style normalization: every filter is scaled by
// 2 / (rightHz - leftHz) so wider bands do not accumulate more energy.
//
// The matrix is a pure function of its parameters and is shared read-only by
// every feature extraction call.
func melFilterBank(sampleRate, nfft float64, numMels int, fMin, fMax float64) [][]float64 {
	bins := int(nfft)/2 + 1
	fftFreqs := make([]float64, bins)
	for i := range fftFreqs {
		fftFreqs[i] = float64(i) * sampleRate / nfft
	}

	melMin := hzToMel(fMin)
	melMax := hzToMel(fMax)
	anchors := make([]float64, numMels+2)
	for i := range anchors {
		m := melMin + (melMax-melMin)*float64(i)/float64(numMels+1)
		anchors[i] = melToHz(m)
	}

	weights := make([][]float64, bins)
	for j := range weights {
		weights[j] = make([]float64, numMels)
	}

	for m := 0; m < numMels; m++ {
		left := anchors[m]
		center := anchors[m+1]
		right := anchors[m+2]
		norm := 2 / (right - left)

		for j, freq := range fftFreqs {
			switch {
			case freq >= left && freq < center:
				weights[j][m] = norm * (freq - left) / (center - left)
			case freq >= center && freq < right:
				weights[j][m] = norm * (right - freq) / (right - center)
			}
		}
	}

	return weights
}
