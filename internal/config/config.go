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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the loqa-asr pipeline
type Config struct {
	Model   ModelConfig
	VAD     VADConfig
	Storage StorageConfig
	NATS    NATSConfig
	Logging LoggingConfig
}

// ModelConfig holds decoder bounds for the loaded model
type ModelConfig struct {
	StartToken int64
	EndToken   int64
	MaxTokens  int
	Layers     int
	ModelDim   int
	VocabPath  string
}

// VADConfig holds voice-activity segmentation configuration
type VADConfig struct {
	SampleRate         int
	ChunkSize          int
	SpeechThreshold    float32
	SilenceDuration    time.Duration
	MaxSpeechDuration  time.Duration
	RollbackDuration   time.Duration
	MinSpeechDuration  time.Duration
	NotifySilenceAfter time.Duration
}

// StorageConfig holds transcript persistence configuration
type StorageConfig struct {
	Enabled bool
	DBPath  string
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	Enabled       bool
	URL           string
	Subject       string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Model: ModelConfig{
			StartToken: int64(getEnvInt("ASR_START_TOKEN", 50258)),
			EndToken:   int64(getEnvInt("ASR_END_TOKEN", 50257)),
			MaxTokens:  getEnvInt("ASR_MAX_TOKENS", 448),
			Layers:     getEnvInt("ASR_MODEL_LAYERS", 32),
			ModelDim:   getEnvInt("ASR_MODEL_DIM", 1280),
			VocabPath:  getEnvString("ASR_VOCAB_PATH", ""),
		},
		VAD: VADConfig{
			SampleRate:         getEnvInt("ASR_SAMPLE_RATE", 16000),
			ChunkSize:          getEnvInt("ASR_VAD_CHUNK_SIZE", 512),
			SpeechThreshold:    getEnvFloat32("ASR_VAD_THRESHOLD", 0.5),
			SilenceDuration:    getEnvDuration("ASR_VAD_SILENCE", 500*time.Millisecond),
			MaxSpeechDuration:  getEnvDuration("ASR_VAD_MAX_SPEECH", 10*time.Second),
			RollbackDuration:   getEnvDuration("ASR_VAD_ROLLBACK", 200*time.Millisecond),
			MinSpeechDuration:  getEnvDuration("ASR_VAD_MIN_SPEECH", 250*time.Millisecond),
			NotifySilenceAfter: getEnvDuration("ASR_VAD_NOTIFY_SILENCE", 0),
		},
		Storage: StorageConfig{
			Enabled: getEnvBool("ASR_STORAGE_ENABLED", false),
			DBPath:  getEnvString("ASR_DB_PATH", "./data/loqa-asr.db"),
		},
		NATS: NATSConfig{
			Enabled:       getEnvBool("ASR_NATS_ENABLED", false),
			URL:           getEnvString("NATS_URL", "nats://localhost:4222"),
			Subject:       getEnvString("ASR_NATS_SUBJECT", "loqa.asr.transcripts"),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model max tokens must be positive: %d", c.Model.MaxTokens)
	}

	if c.Model.Layers <= 0 {
		return fmt.Errorf("model layer count must be positive: %d", c.Model.Layers)
	}

	if c.Model.ModelDim <= 0 {
		return fmt.Errorf("model dimension must be positive: %d", c.Model.ModelDim)
	}

	if c.VAD.SampleRate <= 0 {
		return fmt.Errorf("VAD sample rate must be positive: %d", c.VAD.SampleRate)
	}

	if c.VAD.ChunkSize <= 0 {
		return fmt.Errorf("VAD chunk size must be positive: %d", c.VAD.ChunkSize)
	}

	if c.VAD.SpeechThreshold < 0 || c.VAD.SpeechThreshold > 1 {
		return fmt.Errorf("VAD speech threshold must be in [0, 1]: %f", c.VAD.SpeechThreshold)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("NATS URL must be provided when NATS is enabled")
	}

	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("database path must be provided when storage is enabled")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatValue)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
