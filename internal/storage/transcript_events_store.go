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

package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-asr/internal/events"
	"github.com/loqalabs/loqa-asr/internal/logging"
	"go.uber.org/zap"
)

// TranscriptEventsStore handles database operations for transcript events
type TranscriptEventsStore struct {
	db *Database
}

// NewTranscriptEventsStore creates a new transcript events store
func NewTranscriptEventsStore(db *Database) *TranscriptEventsStore {
	return &TranscriptEventsStore{db: db}
}

// Insert stores a new transcript event in the database
func (s *TranscriptEventsStore) Insert(event *events.TranscriptEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid transcript event: %w", err)
	}

	query := `
		INSERT INTO transcript_events (
			uuid, session_id, timestamp,
			audio_hash, audio_duration, sample_rate,
			transcription, token_count, processing_time_ms, success, error_message
		) VALUES (
			?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?, ?
		)`

	_, err := s.db.DB().Exec(query,
		event.UUID, event.SessionID, event.Timestamp,
		event.AudioHash, event.AudioDuration, event.SampleRate,
		event.Transcription, event.TokenCount, event.ProcessingTime, event.Success, event.ErrorMessage,
	)

	if err != nil {
		return fmt.Errorf("failed to insert transcript event: %w", err)
	}

	logging.LogDatabaseOperation("INSERT", "transcript_events",
		zap.String("event_uuid", event.UUID),
		zap.String("session_id", event.SessionID),
	)
	return nil
}

// GetByUUID retrieves a transcript event by its UUID
func (s *TranscriptEventsStore) GetByUUID(uuid string) (*events.TranscriptEvent, error) {
	query := `
		SELECT uuid, session_id, timestamp,
			   audio_hash, audio_duration, sample_rate,
			   transcription, token_count, processing_time_ms, success, error_message
		FROM transcript_events
		WHERE uuid = ?`

	row := s.db.DB().QueryRow(query, uuid)
	return s.scanTranscriptEvent(row)
}

// List retrieves transcript events with pagination and filtering
func (s *TranscriptEventsStore) List(options ListOptions) ([]*events.TranscriptEvent, error) {
	query, args := s.buildListQuery(options)

	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript events: %w", err)
	}
	defer rows.Close()

	var eventsList []*events.TranscriptEvent
	for rows.Next() {
		event, err := s.scanTranscriptEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript event: %w", err)
		}
		eventsList = append(eventsList, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcript events: %w", err)
	}

	return eventsList, nil
}

// Count returns the total number of transcript events matching the filter
func (s *TranscriptEventsStore) Count(options ListOptions) (int64, error) {
	// Build count query using same filters
	options.Limit = 0
	options.Offset = 0
	query, args := s.buildListQuery(options)

	countQuery := "SELECT COUNT(*) FROM (" + query + ") as filtered"

	var count int64
	err := s.db.DB().QueryRow(countQuery, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transcript events: %w", err)
	}

	return count, nil
}

// GetRecentBySession retrieves recent events for a specific session
func (s *TranscriptEventsStore) GetRecentBySession(sessionID string, limit int) ([]*events.TranscriptEvent, error) {
	options := ListOptions{
		SessionID: sessionID,
		Limit:     limit,
	}
	return s.List(options)
}

// GetByAudioHash finds events with the same audio hash (potential duplicates)
func (s *TranscriptEventsStore) GetByAudioHash(audioHash string) ([]*events.TranscriptEvent, error) {
	options := ListOptions{
		AudioHash: audioHash,
	}
	return s.List(options)
}

// Delete removes a transcript event by UUID
func (s *TranscriptEventsStore) Delete(uuid string) error {
	result, err := s.db.DB().Exec("DELETE FROM transcript_events WHERE uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("failed to delete transcript event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("transcript event not found: %s", uuid)
	}

	return nil
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	// Filtering
	SessionID string
	AudioHash string
	Success   *bool // nil = all, true = success only, false = errors only
	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int
}

// buildListQuery constructs the SQL query based on ListOptions
func (s *TranscriptEventsStore) buildListQuery(options ListOptions) (string, []interface{}) {
	query := `
		SELECT uuid, session_id, timestamp,
			   audio_hash, audio_duration, sample_rate,
			   transcription, token_count, processing_time_ms, success, error_message
		FROM transcript_events WHERE 1=1`

	var args []interface{}

	// Apply filters
	if options.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, options.SessionID)
	}

	if options.AudioHash != "" {
		query += " AND audio_hash = ?"
		args = append(args, options.AudioHash)
	}

	if options.Success != nil {
		query += " AND success = ?"
		args = append(args, *options.Success)
	}

	if options.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, options.StartTime)
	}

	if options.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, options.EndTime)
	}

	query += " ORDER BY timestamp DESC"

	// Apply pagination
	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)

		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return query, args
}

// scanner abstracts sql.Row and sql.Rows for scanTranscriptEvent
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTranscriptEvent scans a database row into a TranscriptEvent
func (s *TranscriptEventsStore) scanTranscriptEvent(row scanner) (*events.TranscriptEvent, error) {
	var event events.TranscriptEvent

	err := row.Scan(
		&event.UUID, &event.SessionID, &event.Timestamp,
		&event.AudioHash, &event.AudioDuration, &event.SampleRate,
		&event.Transcription, &event.TokenCount, &event.ProcessingTime, &event.Success, &event.ErrorMessage,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transcript event not found")
		}
		return nil, err
	}

	return &event, nil
}
