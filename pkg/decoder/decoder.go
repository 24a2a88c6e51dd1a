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

// Package decoder drives autoregressive greedy token generation against an
// externally supplied inference engine.
package decoder

import (
	"errors"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-asr/pkg/audio"
)

// Reference model constants (Whisper large-family decoder).
const (
	// StartOfTranscript is the id seeding every token sequence.
	StartOfTranscript int64 = 50258
	// EndOfTranscript terminates generation and is never appended.
	EndOfTranscript int64 = 50257
	// MaxTokens bounds the number of decode steps per utterance.
	MaxTokens = 448
	// NumLayers is the decoder's self-attention layer count.
	NumLayers = 32
	// ModelDim is the decoder's hidden dimension.
	ModelDim = 1280
)

// ErrEngine indicates the inference engine call failed or returned malformed
// tensors. The current utterance is aborted; no partial tokens are salvaged.
var ErrEngine = errors.New("inference engine failure")

// Context holds the encoder's per-layer cross-attention tensors for one
// utterance. It is produced by Engine.Encode, owned by a single decode
// session and immutable for that session's lifetime.
type Context struct {
	Layers int
	Frames int
	Dim    int

	// Keys and Values are laid out [Layers][Frames][Dim], flattened.
	Keys   []float32
	Values []float32
}

// Cache is the decoder's preallocated self-attention key/value arena, laid
// out [Layers][MaxLen][Dim] and mutated in place by the engine, one position
// per step. Len tracks valid positions written so far; the physical buffer
// is never reallocated.
type Cache struct {
	Layers int
	MaxLen int
	Dim    int
	Len    int

	Keys   []float32
	Values []float32
}

// NewCache allocates an all-zero cache for one decode session.
func NewCache(layers, maxLen, dim int) *Cache {
	size := layers * maxLen * dim
	return &Cache{
		Layers: layers,
		MaxLen: maxLen,
		Dim:    dim,
		Keys:   make([]float32, size),
		Values: make([]float32, size),
	}
}

// Engine scores audio and tokens into numeric tensors. Implementations wrap
// whatever runtime actually executes the model; the core only drives it.
//
// A single engine instance permits at most one in-flight call at a time.
// The decoder serializes its own access; anything else sharing the instance
// must do the same.
type Engine interface {
	// Encode runs the encoder over one spectrogram and returns the
	// cross-attention context consumed by every decode step.
	Encode(mel audio.Spectrogram) (*Context, error)

	// DecodeStep scores the next token given the last token, the step
	// offset, the running self-attention cache (updated in place, its
	// logical length advanced by one) and the utterance context. It
	// returns one score per vocabulary entry.
	DecodeStep(token int64, offset int, cache *Cache, ctx *Context) ([]float32, error)

	// Close releases engine resources.
	Close() error
}

// Config bounds a decoder. The zero value is not usable; DefaultConfig
// matches the reference model.
type Config struct {
	StartToken int64
	EndToken   int64
	MaxTokens  int
	Layers     int
	Dim        int
}

// DefaultConfig returns the reference model bounds.
func DefaultConfig() Config {
	return Config{
		StartToken: StartOfTranscript,
		EndToken:   EndOfTranscript,
		MaxTokens:  MaxTokens,
		Layers:     NumLayers,
		Dim:        ModelDim,
	}
}

// Decoder runs the greedy generation loop. The mutex is held for the entire
// multi-step loop of one utterance so the cache sequence the engine sees is
// never interleaved with another utterance's steps.
type Decoder struct {
	engine Engine
	cfg    Config
	mu     sync.Mutex
}

// New creates a decoder over engine with the given bounds.
func New(engine Engine, cfg Config) *Decoder {
	return &Decoder{engine: engine, cfg: cfg}
}

// Decode generates the token sequence for one encoded utterance. The result
// always starts with the start-of-transcript id and never contains the
// end-of-transcript id. Hitting the length bound is a normal termination.
func (d *Decoder) Decode(ctx *Context) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tokens := []int64{d.cfg.StartToken}
	cache := NewCache(d.cfg.Layers, d.cfg.MaxTokens, d.cfg.Dim)

	for step := 0; step < d.cfg.MaxTokens; step++ {
		logits, err := d.engine.DecodeStep(tokens[len(tokens)-1], step, cache, ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: decode step %d: %v", ErrEngine, step, err)
		}
		if len(logits) == 0 {
			return nil, fmt.Errorf("%w: decode step %d returned empty logits", ErrEngine, step)
		}

		next := argmax(logits)
		if next == d.cfg.EndToken {
			break
		}
		tokens = append(tokens, next)
	}

	return tokens, nil
}

// argmax returns the index of the highest score. Only a strictly greater
// value replaces the running best, so the earliest maximum wins ties.
func argmax(logits []float32) int64 {
	best := 0
	bestVal := logits[0]
	for i, v := range logits {
		if v > bestVal {
			best = i
			bestVal = v
		}
	}
	return int64(best)
}
