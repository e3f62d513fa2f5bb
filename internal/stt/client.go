// Package stt is the client for the transcription service. The service
// fetches the stored capture, transcribes it, and persists the transcript
// on the meeting record itself; the client only reports success or failure.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meeting-notes-lab/internal/logging"
)

// Transcriber invokes transcription for a meeting's stored audio.
type Transcriber interface {
	Transcribe(ctx context.Context, meetingID, audioPath string) error
}

type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{},
	}
}

type transcribeRequest struct {
	MeetingID string `json:"meeting_id"`
	AudioPath string `json:"audio_path"`
}

// Transcribe POSTs the audio pointer to the service and retries transient
// failures with exponential backoff. The per-call deadline comes from ctx.
func (c *Client) Transcribe(ctx context.Context, meetingID, audioPath string) error {
	body, _ := json.Marshal(transcribeRequest{MeetingID: meetingID, AudioPath: audioPath})

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/transcribe", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		sendTs := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logging.Warnw("transcription request failed", "meeting.id", meetingID, "err", err, "attempt", attempt)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("transcription server error status=%d", resp.StatusCode)
			logging.Warnw("transcription server error", "meeting.id", meetingID, "status", resp.StatusCode, "attempt", attempt)
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("transcription failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
		logging.Infow("transcription complete", "meeting.id", meetingID, "status", resp.StatusCode,
			"latency_ms", time.Since(sendTs).Milliseconds())
		return nil
	}
	return fmt.Errorf("transcription failed after retries: %w", lastErr)
}
