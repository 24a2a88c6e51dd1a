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
	"fmt"

	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/logging"
	"github.com/loqalabs/loqa-asr/internal/messaging"
	"github.com/loqalabs/loqa-asr/internal/storage"
	"github.com/loqalabs/loqa-asr/pkg/decoder"
	"github.com/loqalabs/loqa-asr/pkg/vad"
	"github.com/loqalabs/loqa-asr/pkg/vocab"
)

// Service is the fully assembled transcription stack: pipeline plus the
// optional persistence and messaging sinks, all driven by environment
// configuration. Embedders that want to wire components by hand can use
// NewPipeline and NewSession directly instead.
type Service struct {
	cfg      *config.Config
	pipeline *Pipeline
	db       *storage.Database
	store    *storage.TranscriptEventsStore
	nats     *messaging.NATSService
}

// NewService assembles a service around an inference engine using cfg.
// Storage and NATS are only brought up when enabled in the configuration.
func NewService(engine decoder.Engine, cfg *config.Config) (*Service, error) {
	if err := logging.InitializeWithConfig(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	if cfg.Model.VocabPath == "" {
		return nil, fmt.Errorf("vocabulary path is required")
	}
	v, err := vocab.Load(cfg.Model.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary: %w", err)
	}

	svc := &Service{
		cfg: cfg,
		pipeline: NewPipeline(engine, v, decoder.Config{
			StartToken: cfg.Model.StartToken,
			EndToken:   cfg.Model.EndToken,
			MaxTokens:  cfg.Model.MaxTokens,
			Layers:     cfg.Model.Layers,
			Dim:        cfg.Model.ModelDim,
		}),
	}

	if cfg.Storage.Enabled {
		db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Storage.DBPath})
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript store: %w", err)
		}
		svc.db = db
		svc.store = storage.NewTranscriptEventsStore(db)
	}

	if cfg.NATS.Enabled {
		nats, err := messaging.NewNATSServiceWithOptions(
			cfg.NATS.URL, cfg.NATS.Subject, cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait)
		if err != nil {
			svc.closePartial()
			return nil, err
		}
		if err := nats.Connect(); err != nil {
			svc.closePartial()
			return nil, err
		}
		svc.nats = nats
	}

	return svc, nil
}

// Pipeline returns the underlying transcription pipeline.
func (s *Service) Pipeline() *Pipeline {
	return s.pipeline
}

// Store returns the transcript event store, or nil when storage is disabled.
func (s *Service) Store() *storage.TranscriptEventsStore {
	return s.store
}

// VADConfig returns the segmenter tuning from the service configuration.
func (s *Service) VADConfig() vad.Config {
	return vad.Config{
		SampleRate:         s.cfg.VAD.SampleRate,
		ChunkSize:          s.cfg.VAD.ChunkSize,
		SpeechThreshold:    s.cfg.VAD.SpeechThreshold,
		SilenceDuration:    s.cfg.VAD.SilenceDuration,
		MaxSpeechDuration:  s.cfg.VAD.MaxSpeechDuration,
		RollbackDuration:   s.cfg.VAD.RollbackDuration,
		MinSpeechDuration:  s.cfg.VAD.MinSpeechDuration,
		NotifySilenceAfter: s.cfg.VAD.NotifySilenceAfter,
	}
}

// NewSession opens a streaming session with the configured sinks attached.
func (s *Service) NewSession(classifier Classifier, opts ...SessionOption) (*Session, error) {
	attached := make([]SessionOption, 0, len(opts)+2)
	if s.store != nil {
		attached = append(attached, WithSink(s.store))
	}
	if s.nats != nil {
		attached = append(attached, WithPublisher(s.nats))
	}
	attached = append(attached, opts...)

	return NewSession(s.pipeline, classifier, s.VADConfig(), attached...)
}

// Close shuts down the engine, the transcript store and the NATS connection.
func (s *Service) Close() error {
	var firstErr error
	if err := s.pipeline.Close(); err != nil {
		firstErr = err
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.nats != nil {
		s.nats.Close()
	}
	logging.Close()
	return firstErr
}

// closePartial tears down whatever came up before a construction failure.
func (s *Service) closePartial() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logging.LogError(err, "Failed to close transcript store during teardown")
		}
	}
}
