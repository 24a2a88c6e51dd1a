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
	"errors"
	"testing"
	"time"

	"github.com/loqalabs/loqa-asr/internal/events"
	"github.com/loqalabs/loqa-asr/pkg/vad"
)

// markerClassifier treats any chunk whose first sample is non-zero as speech.
type markerClassifier struct {
	err error
}

func (c *markerClassifier) Probability(chunk []int16) (float32, error) {
	if c.err != nil {
		return 0, c.err
	}
	if len(chunk) > 0 && chunk[0] != 0 {
		return 0.9, nil
	}
	return 0.1, nil
}

// memorySink collects inserted events in memory.
type memorySink struct {
	events []*events.TranscriptEvent
	err    error
}

func (s *memorySink) Insert(event *events.TranscriptEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

// memoryPublisher records published events and silence notifications.
type memoryPublisher struct {
	transcripts []*events.TranscriptEvent
	silences    []string
}

func (p *memoryPublisher) PublishTranscript(event *events.TranscriptEvent) error {
	p.transcripts = append(p.transcripts, event)
	return nil
}

func (p *memoryPublisher) PublishSilence(sessionID string) error {
	p.silences = append(p.silences, sessionID)
	return nil
}

func sessionChunks(speech, silence int) chan []int16 {
	ch := make(chan []int16, speech+silence)
	for i := 0; i < speech; i++ {
		chunk := make([]int16, vad.DefaultChunkSize)
		for j := range chunk {
			chunk[j] = 1000
		}
		ch <- chunk
	}
	for i := 0; i < silence; i++ {
		ch <- make([]int16, vad.DefaultChunkSize)
	}
	close(ch)
	return ch
}

func TestSession_EndToEnd(t *testing.T) {
	engine := &stubEngine{script: []int64{1, 2}}
	pipeline := NewPipeline(engine, testVocab(), testDecoderConfig())

	sink := &memorySink{}
	publisher := &memoryPublisher{}
	var handled []*events.TranscriptEvent

	session, err := NewSession(pipeline, &markerClassifier{}, vad.DefaultConfig(),
		WithSink(sink),
		WithPublisher(publisher),
		WithTranscriptHandler(func(e *events.TranscriptEvent) {
			handled = append(handled, e)
		}),
	)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	// 10 speech chunks then 16 silent ones close the segment mid-stream.
	if err := session.Run(context.Background(), sessionChunks(10, 16)); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	if len(handled) != 1 {
		t.Fatalf("handled events = %d, want 1", len(handled))
	}
	event := handled[0]
	if !event.Success {
		t.Errorf("Success = false, want true (error: %s)", event.ErrorMessage)
	}
	if event.Transcription != "hello world" {
		t.Errorf("Transcription = %q, want %q", event.Transcription, "hello world")
	}
	if event.SessionID != session.ID() {
		t.Errorf("SessionID = %q, want %q", event.SessionID, session.ID())
	}
	if event.TokenCount != 2 {
		t.Errorf("TokenCount = %d, want 2", event.TokenCount)
	}
	if event.AudioHash == "" {
		t.Error("AudioHash is empty, want a digest")
	}

	if len(sink.events) != 1 {
		t.Errorf("stored events = %d, want 1", len(sink.events))
	}
	if len(publisher.transcripts) != 1 {
		t.Errorf("published events = %d, want 1", len(publisher.transcripts))
	}
}

func TestSession_StreamEndFlushesPendingSpeech(t *testing.T) {
	engine := &stubEngine{script: []int64{1}}
	pipeline := NewPipeline(engine, testVocab(), testDecoderConfig())

	var handled []*events.TranscriptEvent
	session, err := NewSession(pipeline, &markerClassifier{}, vad.DefaultConfig(),
		WithTranscriptHandler(func(e *events.TranscriptEvent) {
			handled = append(handled, e)
		}),
	)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	// Speech with no trailing silence; only the end-of-stream flush can
	// emit it.
	if err := session.Run(context.Background(), sessionChunks(10, 0)); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	if len(handled) != 1 {
		t.Fatalf("handled events = %d, want 1", len(handled))
	}
	if handled[0].Transcription != "hello" {
		t.Errorf("Transcription = %q, want %q", handled[0].Transcription, "hello")
	}
}

func TestSession_ClassifierErrorAborts(t *testing.T) {
	pipeline := NewPipeline(&stubEngine{}, testVocab(), testDecoderConfig())

	wantErr := errors.New("model not loaded")
	session, err := NewSession(pipeline, &markerClassifier{err: wantErr}, vad.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	err = session.Run(context.Background(), sessionChunks(1, 0))
	if !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestSession_TranscriptionFailureDoesNotAbort(t *testing.T) {
	pipeline := NewPipeline(&stubEngine{failAll: true}, testVocab(), testDecoderConfig())

	sink := &memorySink{}
	publisher := &memoryPublisher{}
	session, err := NewSession(pipeline, &markerClassifier{}, vad.DefaultConfig(),
		WithSink(sink), WithPublisher(publisher))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	if err := session.Run(context.Background(), sessionChunks(10, 16)); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	// The failed utterance is stored for diagnosis but never published.
	if len(sink.events) != 1 {
		t.Fatalf("stored events = %d, want 1", len(sink.events))
	}
	if sink.events[0].Success {
		t.Error("Success = true, want false")
	}
	if sink.events[0].ErrorMessage == "" {
		t.Error("ErrorMessage is empty, want the failure reason")
	}
	if len(publisher.transcripts) != 0 {
		t.Errorf("published events = %d, want 0", len(publisher.transcripts))
	}
}

func TestSession_CancellationStopsRun(t *testing.T) {
	pipeline := NewPipeline(&stubEngine{}, testVocab(), testDecoderConfig())

	session, err := NewSession(pipeline, &markerClassifier{}, vad.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered and never written: only cancellation can end the run.
	err = session.Run(ctx, make(chan []int16))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestSession_SilenceNotification(t *testing.T) {
	pipeline := NewPipeline(&stubEngine{}, testVocab(), testDecoderConfig())

	cfg := vad.DefaultConfig()
	cfg.NotifySilenceAfter = 320 * time.Millisecond // 10 chunks

	publisher := &memoryPublisher{}
	silences := 0
	session, err := NewSession(pipeline, &markerClassifier{}, cfg,
		WithPublisher(publisher),
		WithSilenceHandler(func() { silences++ }),
	)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	if err := session.Run(context.Background(), sessionChunks(0, 30)); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}

	if silences != 1 {
		t.Errorf("silence callbacks = %d, want 1", silences)
	}
	if len(publisher.silences) != 1 {
		t.Errorf("published silences = %d, want 1", len(publisher.silences))
	}
}
