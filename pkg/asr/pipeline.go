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

// Package asr assembles the transcription pipeline: audio in, text out.
// It ties the feature extractor, the inference engine, the greedy decoder
// and the token vocabulary together behind a single Transcribe call, and
// offers a streaming Session that segments live audio with voice activity
// detection before transcribing each utterance.
package asr

import (
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-asr/pkg/audio"
	"github.com/loqalabs/loqa-asr/pkg/decoder"
	"github.com/loqalabs/loqa-asr/pkg/vocab"
)

// Result is one finished transcription. Tokens includes the leading
// start-of-transcript id; Text is the decoded string without control tokens.
type Result struct {
	Text   string
	Tokens []int64
}

// TokenCount returns the number of generated text tokens.
func (r Result) TokenCount() int {
	if len(r.Tokens) == 0 {
		return 0
	}
	return len(r.Tokens) - 1
}

// Pipeline turns raw audio into text. It is safe for concurrent use:
// encoding is serialized on its own mutex and the decoder serializes the
// generation loop internally, so two goroutines can call Transcribe without
// corrupting engine state.
type Pipeline struct {
	engine    decoder.Engine
	extractor *audio.FeatureExtractor
	vocab     *vocab.Vocabulary
	dec       *decoder.Decoder

	encMu sync.Mutex
}

// NewPipeline builds a pipeline over an inference engine and vocabulary.
func NewPipeline(engine decoder.Engine, v *vocab.Vocabulary, cfg decoder.Config) *Pipeline {
	return &Pipeline{
		engine:    engine,
		extractor: audio.NewFeatureExtractor(),
		vocab:     v,
		dec:       decoder.New(engine, cfg),
	}
}

// Transcribe runs the full pipeline on one utterance. Audio at any sample
// rate is accepted and resampled to the model rate first.
func (p *Pipeline) Transcribe(samples []float32, sampleRate int) (Result, error) {
	if len(samples) == 0 {
		return Result{}, fmt.Errorf("transcribe: %w: empty audio", audio.ErrInvalidInput)
	}

	resampled, err := audio.Resample(samples, sampleRate, audio.SampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}

	mel, err := p.extractor.Extract(resampled)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}

	p.encMu.Lock()
	ctx, err := p.engine.Encode(mel)
	p.encMu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: %w: encode: %v", decoder.ErrEngine, err)
	}

	tokens, err := p.dec.Decode(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}

	return Result{
		Text:   p.vocab.Decode(tokens),
		Tokens: tokens,
	}, nil
}

// TranscribeSegment transcribes one voice-activity segment of 16 kHz PCM.
func (p *Pipeline) TranscribeSegment(segment []int16) (Result, error) {
	samples := make([]float32, len(segment))
	for i, s := range segment {
		samples[i] = float32(s) / 32768.0
	}
	return p.Transcribe(samples, audio.SampleRate)
}

// TranscribeFile transcribes a WAV file from disk.
func (p *Pipeline) TranscribeFile(path string) (Result, error) {
	samples, rate, err := audio.ReadWAVFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe file: %w", err)
	}
	return p.Transcribe(samples, rate)
}

// Close releases the underlying inference engine.
func (p *Pipeline) Close() error {
	return p.engine.Close()
}
