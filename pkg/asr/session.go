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

package asr

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-asr/internal/events"
	"github.com/loqalabs/loqa-asr/internal/logging"
	"github.com/loqalabs/loqa-asr/pkg/audio"
	"github.com/loqalabs/loqa-asr/pkg/vad"
)

// Classifier scores one audio chunk with a speech probability in [0, 1].
// Implementations wrap an external VAD model; the segmenter only consumes
// the score.
type Classifier interface {
	Probability(chunk []int16) (float32, error)
}

// TranscriptSink persists finished transcript events.
type TranscriptSink interface {
	Insert(event *events.TranscriptEvent) error
}

// TranscriptPublisher announces finished transcript events and silence
// notifications on the message bus.
type TranscriptPublisher interface {
	PublishTranscript(event *events.TranscriptEvent) error
	PublishSilence(sessionID string) error
}

// SessionOption configures optional session behavior.
type SessionOption func(*Session)

// WithSink persists every finished utterance to the given store.
func WithSink(sink TranscriptSink) SessionOption {
	return func(s *Session) { s.sink = sink }
}

// WithPublisher publishes every finished utterance to the message bus.
func WithPublisher(pub TranscriptPublisher) SessionOption {
	return func(s *Session) { s.publisher = pub }
}

// WithTranscriptHandler calls fn for every finished utterance.
func WithTranscriptHandler(fn func(*events.TranscriptEvent)) SessionOption {
	return func(s *Session) { s.onTranscript = fn }
}

// WithSilenceHandler calls fn once when the stream opens with prolonged
// silence. The notification fires at most once per recording cycle.
func WithSilenceHandler(fn func()) SessionOption {
	return func(s *Session) { s.onSilence = fn }
}

// Session drives a live audio stream through voice activity segmentation
// and transcription. Chunks are processed strictly in arrival order; one
// session is single-threaded by construction.
type Session struct {
	id         string
	pipeline   *Pipeline
	classifier Classifier
	seg        *vad.Segmenter

	sink         TranscriptSink
	publisher    TranscriptPublisher
	onTranscript func(*events.TranscriptEvent)
	onSilence    func()
}

// NewSession creates a streaming session over a pipeline and a speech
// classifier. The segmenter configuration controls utterance boundaries.
func NewSession(pipeline *Pipeline, classifier Classifier, cfg vad.Config, opts ...SessionOption) (*Session, error) {
	seg, err := vad.NewSegmenter(cfg)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		id:         uuid.NewString(),
		pipeline:   pipeline,
		classifier: classifier,
		seg:        seg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the session identifier attached to every transcript event.
func (s *Session) ID() string {
	return s.id
}

// Run consumes chunks until the channel closes or ctx is canceled. A closed
// channel flushes the segmenter so trailing speech is not lost; cancellation
// discards any partial segment. Classifier failures abort the session, but a
// failed transcription of one utterance is recorded and the stream continues.
func (s *Session) Run(ctx context.Context, chunks <-chan []int16) error {
	logging.LogSegmenterEvent(s.id, "session_started")

	for {
		select {
		case <-ctx.Done():
			logging.LogSegmenterEvent(s.id, "session_canceled")
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				s.handleOutput(s.seg.Finish())
				logging.LogSegmenterEvent(s.id, "session_finished")
				return nil
			}
			if err := s.Process(chunk); err != nil {
				return err
			}
		}
	}
}

// Process feeds one chunk through the classifier and segmenter. It returns
// an error only when the classifier fails; finished utterances are handled
// internally.
func (s *Session) Process(chunk []int16) error {
	prob, err := s.classifier.Probability(chunk)
	if err != nil {
		return fmt.Errorf("session %s: classifier: %w", s.id, err)
	}
	s.handleOutput(s.seg.ProcessChunk(chunk, prob))
	return nil
}

// Finish flushes the segmenter and transcribes any pending speech.
func (s *Session) Finish() {
	s.handleOutput(s.seg.Finish())
}

func (s *Session) handleOutput(out vad.Output) {
	switch out.Kind {
	case vad.OutputSegment:
		s.transcribeSegment(out.Segment)
	case vad.OutputSilenceNotification:
		logging.LogSegmenterEvent(s.id, "silence_notification")
		if s.publisher != nil {
			if err := s.publisher.PublishSilence(s.id); err != nil {
				logging.LogError(err, "Failed to publish silence notification",
					zap.String("session_id", s.id))
			}
		}
		if s.onSilence != nil {
			s.onSilence()
		}
	}
}

func (s *Session) transcribeSegment(segment []int16) {
	logging.LogAudioProcessing(s.id, "segment_ready",
		zap.Int("samples", len(segment)))

	event := events.NewTranscriptEvent(s.id)

	result, err := s.pipeline.TranscribeSegment(segment)

	samples := make([]float32, len(segment))
	for i, v := range segment {
		samples[i] = float32(v) / 32768.0
	}
	event.SetAudioMetadata(samples, audio.SampleRate)

	if err != nil {
		event.SetError(err)
		logging.LogError(err, "Transcription failed",
			zap.String("session_id", s.id),
			zap.Int("samples", len(segment)))
	} else {
		event.SetTranscription(result.Text, result.TokenCount())
		logging.LogTranscriptEvent(event, "Utterance transcribed",
			zap.Int("token_count", result.TokenCount()),
			zap.Int64("processing_ms", event.ProcessingTime))
	}

	if s.sink != nil {
		if err := s.sink.Insert(event); err != nil {
			logging.LogError(err, "Failed to store transcript event",
				zap.String("uuid", event.UUID))
		}
	}
	if s.publisher != nil && event.Success {
		if err := s.publisher.PublishTranscript(event); err != nil {
			logging.LogError(err, "Failed to publish transcript event",
				zap.String("uuid", event.UUID))
		}
	}
	if s.onTranscript != nil {
		s.onTranscript(event)
	}
}
