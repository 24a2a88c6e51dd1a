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

package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-asr/internal/events"
	"github.com/loqalabs/loqa-asr/internal/security"
)

// NATS subjects for transcription events
const (
	SubjectTranscripts   = "loqa.asr.transcripts"
	SubjectSilenceEvents = "loqa.asr.silence"
)

// SilenceEvent signals that no speech was detected on a session
// for the configured notification window.
type SilenceEvent struct {
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
}

// NATSService publishes transcription results to the NATS message bus
type NATSService struct {
	url           string
	subject       string
	maxReconnects int
	reconnectWait time.Duration
	conn          *nats.Conn
}

// NewNATSService creates a new NATS service instance from the environment
func NewNATSService() (*NATSService, error) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	return NewNATSServiceWithOptions(natsURL, SubjectTranscripts, -1, 2*time.Second)
}

// NewNATSServiceWithOptions creates a NATS service with explicit connection
// settings. A non-positive maxReconnects retries indefinitely.
func NewNATSServiceWithOptions(url, subject string, maxReconnects int, reconnectWait time.Duration) (*NATSService, error) {
	if url == "" {
		return nil, fmt.Errorf("NATS URL must not be empty")
	}
	if subject == "" {
		subject = SubjectTranscripts
	}
	if maxReconnects <= 0 {
		maxReconnects = -1
	}
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}

	return &NATSService{
		url:           url,
		subject:       subject,
		maxReconnects: maxReconnects,
		reconnectWait: reconnectWait,
	}, nil
}

// Connect establishes connection to NATS server
func (ns *NATSService) Connect() error {
	log.Printf("🔌 Connecting to NATS at %s", ns.url)

	// Connection options with retry logic
	opts := []nats.Option{
		nats.Name("loqa-asr"),
		nats.ReconnectWait(ns.reconnectWait),
		nats.MaxReconnects(ns.maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️  NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("🔄 NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Println("🔌 NATS connection closed")
		}),
	}

	conn, err := nats.Connect(ns.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.conn = conn
	log.Printf("✅ Connected to NATS server at %s", conn.ConnectedUrl())
	return nil
}

// PublishTranscript publishes a finished transcription event
func (ns *NATSService) PublishTranscript(event *events.TranscriptEvent) error {
	if ns.conn == nil {
		return fmt.Errorf("NATS connection not established")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript event: %w", err)
	}

	if err := ns.conn.Publish(ns.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", ns.subject, err)
	}

	log.Printf("📤 Published transcript to NATS - Session: %s, Tokens: %d",
		security.SanitizeLogInput(event.SessionID), event.TokenCount)
	return nil
}

// PublishSilence publishes a silence notification for a session
func (ns *NATSService) PublishSilence(sessionID string) error {
	if ns.conn == nil {
		return fmt.Errorf("NATS connection not established")
	}

	event := SilenceEvent{
		SessionID: sessionID,
		Timestamp: time.Now().Unix(),
	}

	data, err := json.Marshal(&event)
	if err != nil {
		return fmt.Errorf("failed to marshal silence event: %w", err)
	}

	if err := ns.conn.Publish(SubjectSilenceEvents, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", SubjectSilenceEvents, err)
	}

	return nil
}

// SubscribeToTranscripts subscribes to transcription events
func (ns *NATSService) SubscribeToTranscripts(handler func(*events.TranscriptEvent)) (*nats.Subscription, error) {
	if ns.conn == nil {
		return nil, fmt.Errorf("NATS connection not established")
	}

	return ns.conn.Subscribe(ns.subject, func(msg *nats.Msg) {
		var event events.TranscriptEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("❌ Error unmarshaling transcript event: %v", err)
			return
		}

		log.Printf("📥 Received transcript from NATS - Session: %s", security.SanitizeLogInput(event.SessionID))
		handler(&event)
	})
}

// Close closes the NATS connection
func (ns *NATSService) Close() {
	if ns.conn != nil {
		ns.conn.Close()
		log.Println("🔌 NATS connection closed")
	}
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	return ns.conn != nil && ns.conn.IsConnected()
}

// GetStats returns connection statistics
func (ns *NATSService) GetStats() nats.Statistics {
	if ns.conn != nil {
		return ns.conn.Stats()
	}
	return nats.Statistics{}
}
