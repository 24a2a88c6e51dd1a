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
	"math"
	"testing"
)

func TestExtract_OutputShapeIsConstant(t *testing.T) {
	extractor := NewFeatureExtractor()

	tests := []struct {
		name    string
		samples int
	}{
		{"empty input", 0},
		{"single sample", 1},
		{"one second", SampleRate},
		{"exactly thirty seconds", 30 * SampleRate},
		{"longer than thirty seconds", 45 * SampleRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mel, err := extractor.Extract(make([]float32, tt.samples))
			if err != nil {
				t.Fatalf("Extract() error = %v, want nil", err)
			}
			if mel.Mels() != NumMels {
				t.Errorf("Mels() = %d, want %d", mel.Mels(), NumMels)
			}
			if mel.Frames() != TargetFrames {
				t.Errorf("Frames() = %d, want %d", mel.Frames(), TargetFrames)
			}
		})
	}
}

func TestExtract_SilenceValue(t *testing.T) {
	extractor := NewFeatureExtractor()

	mel, err := extractor.Extract(nil)
	if err != nil {
		t.Fatalf("Extract() error = %v, want nil", err)
	}

	// Silence hits the 1e-10 energy floor in every band, so after the
	// (log10 + 4) / 4 mapping every computed frame holds the same value.
	want := float32((-10.0 + 4) / 4)
	computedFrames := (30*SampleRate-400)/160 + 1
	for m := 0; m < mel.Mels(); m++ {
		for f := 0; f < computedFrames; f++ {
			if math.Abs(float64(mel[m][f]-want)) > 1e-6 {
				t.Fatalf("mel[%d][%d] = %v, want %v", m, f, mel[m][f], want)
			}
		}
		// Frames past the hop grid stay zero padded.
		for f := computedFrames; f < TargetFrames; f++ {
			if mel[m][f] != 0 {
				t.Fatalf("mel[%d][%d] = %v, want 0 (padding)", m, f, mel[m][f])
			}
		}
	}
}

func TestExtract_DynamicRangeIsClamped(t *testing.T) {
	extractor := NewFeatureExtractor()

	// A 440 Hz tone gives strongly uneven band energies, exercising the
	// clamp to eight decibel decades below the maximum.
	samples := make([]float32, SampleRate)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}

	mel, err := extractor.Extract(samples)
	if err != nil {
		t.Fatalf("Extract() error = %v, want nil", err)
	}

	computedFrames := (30*SampleRate-400)/160 + 1
	maxVal := float32(math.Inf(-1))
	minVal := float32(math.Inf(1))
	for m := 0; m < mel.Mels(); m++ {
		for f := 0; f < computedFrames; f++ {
			if mel[m][f] > maxVal {
				maxVal = mel[m][f]
			}
			if mel[m][f] < minVal {
				minVal = mel[m][f]
			}
		}
	}

	// After clamping to max-8 and scaling by 1/4 the spread is at most 2.
	if spread := maxVal - minVal; spread > 2.0001 {
		t.Errorf("value spread = %v, want <= 2", spread)
	}
	if math.Abs(float64(minVal-(maxVal-2))) > 1e-5 {
		t.Errorf("minVal = %v, want clamp floor %v", minVal, maxVal-2)
	}
}

func TestExtract_ToneActivatesMatchingBand(t *testing.T) {
	extractor := NewFeatureExtractor()

	// Energy of a 1 kHz tone must concentrate in a low-mid band rather
	// than spreading evenly.
	samples := make([]float32, SampleRate)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*1000*float64(i)/SampleRate))
	}

	mel, err := extractor.Extract(samples)
	if err != nil {
		t.Fatalf("Extract() error = %v, want nil", err)
	}

	// Compare band energies on one frame well inside the tone.
	const frame = 50
	best := 0
	for m := 1; m < mel.Mels(); m++ {
		if mel[m][frame] > mel[best][frame] {
			best = m
		}
	}

	// 1 kHz sits in the lower half of an 80-band 0-8 kHz mel scale.
	if best == 0 || best >= NumMels/2 {
		t.Errorf("peak band = %d, want in (0, %d)", best, NumMels/2)
	}
}

func TestMelFilterBank_Shape(t *testing.T) {
	filters := melFilterBank(SampleRate, nFFT, NumMels, melFMin, melFMax)

	wantBins := nFFT/2 + 1
	if len(filters) != wantBins {
		t.Fatalf("len(filters) = %d, want %d", len(filters), wantBins)
	}
	for j, row := range filters {
		if len(row) != NumMels {
			t.Fatalf("len(filters[%d]) = %d, want %d", j, len(row), NumMels)
		}
		for m, w := range row {
			if w < 0 {
				t.Fatalf("filters[%d][%d] = %v, want >= 0", j, m, w)
			}
		}
	}
}

func TestMelFilterBank_CentersAscend(t *testing.T) {
	filters := melFilterBank(SampleRate, nFFT, NumMels, melFMin, melFMax)

	prev := -1
	for m := 0; m < NumMels; m++ {
		peakBin := -1
		peak := 0.0
		for j := range filters {
			if filters[j][m] > peak {
				peak = filters[j][m]
				peakBin = j
			}
		}
		if peakBin < 0 {
			t.Fatalf("filter %d has no positive weight", m)
		}
		if peakBin < prev {
			t.Fatalf("filter %d peaks at bin %d, before filter %d at bin %d", m, peakBin, m-1, prev)
		}
		prev = peakBin
	}
}
