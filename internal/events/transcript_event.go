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

package events

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// TranscriptEvent represents one transcribed utterance with full traceability
type TranscriptEvent struct {
	// Core identification
	UUID      string    `json:"uuid" db:"uuid"`
	SessionID string    `json:"session_id" db:"session_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Audio metadata
	AudioHash     string  `json:"audio_hash" db:"audio_hash"`
	AudioDuration float64 `json:"audio_duration" db:"audio_duration"`
	SampleRate    int     `json:"sample_rate" db:"sample_rate"`

	// Processing results
	Transcription  string `json:"transcription" db:"transcription"`
	TokenCount     int    `json:"token_count" db:"token_count"`
	ProcessingTime int64  `json:"processing_time_ms" db:"processing_time_ms"`
	Success        bool   `json:"success" db:"success"`
	ErrorMessage   string `json:"error_message,omitempty" db:"error_message"`
}

// NewTranscriptEvent creates a new TranscriptEvent with generated UUID and
// current timestamp
func NewTranscriptEvent(sessionID string) *TranscriptEvent {
	return &TranscriptEvent{
		UUID:      uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now(),
		Success:   true,
	}
}

// GetUUID returns the event UUID, satisfying the logging helpers
func (te *TranscriptEvent) GetUUID() string {
	return te.UUID
}

// SetAudioMetadata sets audio-related metadata for the event
func (te *TranscriptEvent) SetAudioMetadata(samples []float32, sampleRate int) {
	te.AudioHash = calculateAudioHash(samples)
	te.AudioDuration = float64(len(samples)) / float64(sampleRate)
	te.SampleRate = sampleRate
}

// SetTranscription sets the transcription result and marks processing as
// complete
func (te *TranscriptEvent) SetTranscription(text string, tokenCount int) {
	te.Transcription = text
	te.TokenCount = tokenCount
	te.ProcessingTime = time.Since(te.Timestamp).Milliseconds()
}

// SetError marks the event as failed with an error message
func (te *TranscriptEvent) SetError(err error) {
	te.Success = false
	te.ErrorMessage = err.Error()
	te.ProcessingTime = time.Since(te.Timestamp).Milliseconds()
}

// calculateAudioHash generates a SHA-256 hash of the audio data for
// duplicate detection
func calculateAudioHash(samples []float32) string {
	hasher := sha256.New()

	buf := make([]byte, 4)
	for _, sample := range samples {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(sample))
		hasher.Write(buf)
	}

	return hex.EncodeToString(hasher.Sum(nil))
}

// IsValid performs basic validation on the transcript event
func (te *TranscriptEvent) IsValid() error {
	if te.UUID == "" {
		return fmt.Errorf("UUID is required")
	}

	if te.SessionID == "" {
		return fmt.Errorf("sessionID is required")
	}

	if te.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if te.AudioDuration < 0 {
		return fmt.Errorf("audio duration must not be negative")
	}

	return nil
}

// String returns a human-readable representation of the transcript event
func (te *TranscriptEvent) String() string {
	return fmt.Sprintf("TranscriptEvent{UUID: %s, SessionID: %s, Transcription: %q, Tokens: %d, Success: %t}",
		te.UUID, te.SessionID, te.Transcription, te.TokenCount, te.Success)
}
