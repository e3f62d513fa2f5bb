package config

import (
	"errors"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("ROOM_BROKER_URL", "https://rooms.test")
	t.Setenv("ROOM_TOKEN_KEY", "secret")
	t.Setenv("AUDIO_BUCKET", "meeting-audio")
	t.Setenv("MEETINGS_TABLE", "meetings")
	t.Setenv("STT_URL", "https://stt.test")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ChunkInterval != time.Second {
		t.Errorf("chunk interval = %v, want 1s", cfg.ChunkInterval)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("sample rate = %d, want 48000", cfg.SampleRate)
	}
	if cfg.Pipeline.StageTimeout != 5*time.Minute {
		t.Errorf("stage timeout = %v, want 5m", cfg.Pipeline.StageTimeout)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Errorf("token ttl = %v, want 2h", cfg.TokenTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CAPTURE_CHUNK_MS", "250")
	t.Setenv("PIPELINE_STAGE_TIMEOUT_S", "30")
	t.Setenv("ROOM_TOKEN_TTL_S", "600")

	cfg := Load()
	if cfg.ChunkInterval != 250*time.Millisecond {
		t.Errorf("chunk interval = %v, want 250ms", cfg.ChunkInterval)
	}
	if cfg.Pipeline.StageTimeout != 30*time.Second {
		t.Errorf("stage timeout = %v, want 30s", cfg.Pipeline.StageTimeout)
	}
	if cfg.TokenTTL != 10*time.Minute {
		t.Errorf("token ttl = %v, want 10m", cfg.TokenTTL)
	}
}

func TestValidateMissingFields(t *testing.T) {
	cases := []struct {
		name  string
		unset string
		want  error
	}{
		{"broker", "ROOM_BROKER_URL", ErrMissingBrokerURL},
		{"token key", "ROOM_TOKEN_KEY", ErrMissingTokenKey},
		{"bucket", "AUDIO_BUCKET", ErrMissingBucket},
		{"table", "MEETINGS_TABLE", ErrMissingTable},
		{"stt", "STT_URL", ErrMissingSTTURL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.unset, "")
			if err := Load().Validate(); !errors.Is(err, tc.want) {
				t.Errorf("validate err = %v, want %v", err, tc.want)
			}
		})
	}
}
