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

// Package vad segments a continuous PCM stream into speech utterances.
//
// The segmenter is a pure state machine: it consumes fixed-size chunks plus
// a per-chunk speech probability supplied by an external classifier, and
// emits finalized segments. It performs no classification, no I/O and no
// scheduling, which keeps it testable without any streaming machinery.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// DefaultChunkSize is the chunk length used by the Silero-family classifiers
// at 16 kHz (32 ms per chunk).
const DefaultChunkSize = 512

// ErrInvalidConfig indicates a malformed segmenter configuration.
var ErrInvalidConfig = errors.New("invalid segmenter configuration")

// Config holds segmenter tuning. All durations are wall-clock audio time.
type Config struct {
	SampleRate      int
	ChunkSize       int
	SpeechThreshold float32

	// SilenceDuration is the continuous silence required to close a
	// segment once recording.
	SilenceDuration time.Duration

	// MaxSpeechDuration forces a close after this much speech, without
	// tail trimming.
	MaxSpeechDuration time.Duration

	// RollbackDuration is how much pre-speech audio is kept and prepended
	// to a new segment, recovering onset the classifier reacted late to.
	RollbackDuration time.Duration

	// MinSpeechDuration discards finalized segments shorter than this.
	MinSpeechDuration time.Duration

	// NotifySilenceAfter, when non-zero, emits a one-shot silence
	// notification after that much continuous silence while waiting.
	NotifySilenceAfter time.Duration
}

// DefaultConfig returns the reference tuning: 16 kHz, 512-sample chunks,
// threshold 0.5, 500 ms close, 10 s force close, 200 ms rollback, 250 ms
// minimum, notifications disabled.
func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		ChunkSize:         DefaultChunkSize,
		SpeechThreshold:   0.5,
		SilenceDuration:   500 * time.Millisecond,
		MaxSpeechDuration: 10 * time.Second,
		RollbackDuration:  200 * time.Millisecond,
		MinSpeechDuration: 250 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		return fmt.Errorf("%w: speech threshold must be in [0, 1], got %f", ErrInvalidConfig, c.SpeechThreshold)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("%w: silence duration must be positive, got %v", ErrInvalidConfig, c.SilenceDuration)
	}
	if c.MaxSpeechDuration <= 0 {
		return fmt.Errorf("%w: max speech duration must be positive, got %v", ErrInvalidConfig, c.MaxSpeechDuration)
	}
	if c.MinSpeechDuration <= 0 {
		return fmt.Errorf("%w: min speech duration must be positive, got %v", ErrInvalidConfig, c.MinSpeechDuration)
	}
	if c.RollbackDuration < 0 {
		return fmt.Errorf("%w: rollback duration must not be negative, got %v", ErrInvalidConfig, c.RollbackDuration)
	}
	if c.NotifySilenceAfter < 0 {
		return fmt.Errorf("%w: silence notification timeout must not be negative, got %v", ErrInvalidConfig, c.NotifySilenceAfter)
	}
	return nil
}

// OutputKind discriminates segmenter outputs.
type OutputKind int

const (
	// OutputNone means the chunk was absorbed without producing anything.
	OutputNone OutputKind = iota
	// OutputSegment carries a finalized speech segment.
	OutputSegment
	// OutputSilenceNotification marks that the waiting-silence timeout
	// elapsed. Emitted at most once until the state changes.
	OutputSilenceNotification
)

// Output is the per-chunk result of the segmenter.
type Output struct {
	Kind    OutputKind
	Segment []int16
}

type state int

const (
	stateWaiting state = iota
	stateRecording
)

// Segmenter accumulates PCM chunks into speech segments with lookback and
// hysteresis. It is not safe for concurrent use; a streaming session owns
// exactly one segmenter and drives it sequentially.
type Segmenter struct {
	cfg Config

	state         state
	segment       []int16
	rollback      []int16
	silenceChunks int
	speechChunks  int
	droppedChunks int
	notified      bool

	chunkMs         float64
	rollbackSamples int
}

// NewSegmenter creates a segmenter, validating the configuration.
func NewSegmenter(cfg Config) (*Segmenter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Segmenter{
		cfg:             cfg,
		chunkMs:         float64(cfg.ChunkSize) / float64(cfg.SampleRate) * 1000,
		rollbackSamples: int(cfg.RollbackDuration.Seconds() * float64(cfg.SampleRate)),
	}, nil
}

// SetNotifySilenceAfter reconfigures the waiting-silence timeout at runtime.
// A zero duration disables notifications and re-arms the one-shot flag.
func (s *Segmenter) SetNotifySilenceAfter(d time.Duration) {
	s.cfg.NotifySilenceAfter = d
	if d == 0 {
		s.notified = false
	}
}

// ProcessChunk feeds one fixed-size chunk and its speech probability through
// the state machine. Probabilities are only compared against the threshold,
// never validated.
func (s *Segmenter) ProcessChunk(chunk []int16, probability float32) Output {
	switch s.state {
	case stateWaiting:
		return s.processWaiting(chunk, probability)
	case stateRecording:
		return s.processRecording(chunk, probability)
	}
	return Output{}
}

func (s *Segmenter) processWaiting(chunk []int16, probability float32) Output {
	s.rollback = append(s.rollback, chunk...)
	if excess := len(s.rollback) - s.rollbackSamples; excess > 0 {
		s.rollback = append(s.rollback[:0], s.rollback[excess:]...)
	}

	if probability > s.cfg.SpeechThreshold {
		s.state = stateRecording
		s.segment = append(s.segment, s.rollback...)
		s.rollback = s.rollback[:0]
		s.silenceChunks = 0
		s.speechChunks = 0
		s.droppedChunks = 0
		s.notified = false
		return Output{}
	}

	if s.cfg.NotifySilenceAfter > 0 {
		s.droppedChunks++
		dropped := float64(s.droppedChunks) * s.chunkMs
		if dropped >= float64(s.cfg.NotifySilenceAfter.Milliseconds()) && !s.notified {
			s.notified = true
			return Output{Kind: OutputSilenceNotification}
		}
	}
	return Output{}
}

func (s *Segmenter) processRecording(chunk []int16, probability float32) Output {
	s.segment = append(s.segment, chunk...)
	s.speechChunks++

	if probability > s.cfg.SpeechThreshold {
		s.silenceChunks = 0
		speechMs := float64(s.speechChunks) * s.chunkMs
		if speechMs >= float64(s.cfg.MaxSpeechDuration.Milliseconds()) {
			return s.finalize(false)
		}
	} else {
		s.silenceChunks++
		silenceMs := float64(s.silenceChunks) * s.chunkMs
		if silenceMs >= float64(s.cfg.SilenceDuration.Milliseconds()) {
			return s.finalize(true)
		}
	}
	return Output{}
}

// finalize closes the in-progress segment. A silence-triggered close trims
// the trailing silent chunks; a max-duration close keeps everything, since
// no trailing silence exists by construction.
func (s *Segmenter) finalize(trimTail bool) Output {
	if len(s.segment) == 0 {
		s.Reset()
		return Output{}
	}

	var segment []int16
	if trimTail {
		silenceLen := s.silenceChunks * s.cfg.ChunkSize
		validLen := len(s.segment) - silenceLen
		if validLen > 0 {
			segment = append(segment, s.segment[:validLen]...)
		}
	} else {
		segment = append(segment, s.segment...)
	}

	if s.belowMinDuration(segment) {
		segment = nil
	}

	s.Reset()

	if len(segment) == 0 {
		return Output{}
	}
	return Output{Kind: OutputSegment, Segment: segment}
}

// Finish flushes any in-progress segment at end of stream. No tail trimming
// is applied; the minimum-duration filter still holds.
func (s *Segmenter) Finish() Output {
	if len(s.segment) == 0 {
		return Output{}
	}
	if s.belowMinDuration(s.segment) {
		s.Reset()
		return Output{}
	}

	segment := append([]int16(nil), s.segment...)
	s.Reset()
	return Output{Kind: OutputSegment, Segment: segment}
}

// Reset returns the segmenter to Waiting with empty buffers and counters.
func (s *Segmenter) Reset() {
	s.segment = s.segment[:0]
	s.rollback = s.rollback[:0]
	s.silenceChunks = 0
	s.speechChunks = 0
	s.droppedChunks = 0
	s.notified = false
	s.state = stateWaiting
}

func (s *Segmenter) belowMinDuration(segment []int16) bool {
	durationMs := float64(len(segment)) / float64(s.cfg.SampleRate) * 1000
	return durationMs < float64(s.cfg.MinSpeechDuration.Milliseconds())
}
