package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

var (
	ErrMissingBrokerURL = errors.New("room broker URL is required")
	ErrMissingTokenKey  = errors.New("room token signing key is required")
	ErrMissingBucket    = errors.New("audio storage bucket is required")
	ErrMissingTable     = errors.New("meetings table name is required")
	ErrMissingSTTURL    = errors.New("transcription service URL is required")
)

// PipelineConfig holds timeouts for the notes pipeline stages.
type PipelineConfig struct {
	StageTimeout time.Duration // Bound on a single transcription or generation call
	FlushWait    time.Duration // How long Run waits for an in-flight capture flush
}

type Config struct {
	// Room broker
	BrokerURL   string
	TokenKey    string // HS256 signing key for meeting tokens
	TokenTTL    time.Duration
	DisplayName string

	// Persistence and storage
	MeetingsTable string
	AudioBucket   string
	AWSRegion     string

	// Collaborator services
	STTURL   string
	LLMURL   string
	LLMKey   string
	LLMModel string

	// Optional event fanout
	NATSURL string

	// Capture
	ChunkInterval time.Duration
	SampleRate    int

	// Pipeline
	Pipeline PipelineConfig

	LogLevel string
}

// Load builds a Config from environment variables with sensible defaults.
func Load() *Config {
	cfg := &Config{
		TokenTTL:      2 * time.Hour,
		DisplayName:   "host",
		AWSRegion:     "us-east-1",
		ChunkInterval: time.Second,
		SampleRate:    48000,
		Pipeline: PipelineConfig{
			StageTimeout: 5 * time.Minute,
			FlushWait:    10 * time.Second,
		},
		LogLevel: "info",
	}

	if v := os.Getenv("ROOM_BROKER_URL"); v != "" {
		cfg.BrokerURL = v
	}
	if v := os.Getenv("ROOM_TOKEN_KEY"); v != "" {
		cfg.TokenKey = v
	}
	if v := os.Getenv("ROOM_TOKEN_TTL_S"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			cfg.TokenTTL = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("DISPLAY_NAME"); v != "" {
		cfg.DisplayName = v
	}
	if v := os.Getenv("MEETINGS_TABLE"); v != "" {
		cfg.MeetingsTable = v
	}
	if v := os.Getenv("AUDIO_BUCKET"); v != "" {
		cfg.AudioBucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}
	if v := os.Getenv("STT_URL"); v != "" {
		cfg.STTURL = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLMURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("CAPTURE_CHUNK_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.ChunkInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("AUDIO_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			cfg.SampleRate = rate
		}
	}
	if v := os.Getenv("PIPELINE_STAGE_TIMEOUT_S"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			cfg.Pipeline.StageTimeout = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("PIPELINE_FLUSH_WAIT_S"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			cfg.Pipeline.FlushWait = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return ErrMissingBrokerURL
	}
	if c.TokenKey == "" {
		return ErrMissingTokenKey
	}
	if c.AudioBucket == "" {
		return ErrMissingBucket
	}
	if c.MeetingsTable == "" {
		return ErrMissingTable
	}
	if c.STTURL == "" {
		return ErrMissingSTTURL
	}
	return nil
}
