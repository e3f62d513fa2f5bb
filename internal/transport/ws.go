package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meeting-notes-lab/internal/logging"
)

const (
	writeTimeout = 5 * time.Second
	eventBuffer  = 1024
)

// WSDialer joins rooms over the provider's websocket signalling endpoint.
type WSDialer struct {
	dialer *websocket.Dialer
}

func NewWSDialer() *WSDialer {
	return &WSDialer{dialer: websocket.DefaultDialer}
}

func (d *WSDialer) Dial(ctx context.Context, url, token string) (Session, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	conn, resp, err := d.dialer.DialContext(ctx, url, hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("join room: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("join room: %w", err)
	}
	s := &wsSession{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// wsSession decodes the provider's JSON frames into typed events. Binary
// frames carry opus audio prefixed with a JSON header line; everything the
// reader cannot parse is logged and skipped so a malformed frame never
// kills the stream.
type wsSession struct {
	conn   *websocket.Conn
	events chan Event

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func (s *wsSession) Events() <-chan Event { return s.events }

func (s *wsSession) readLoop() {
	defer close(s.events)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// deliberate close; report a clean leave
			default:
				logging.Warnw("transport read failed", "err", err)
				s.deliver(Event{Type: EventError, Message: err.Error()})
			}
			s.deliver(Event{Type: EventLeft})
			return
		}
		if msgType == websocket.BinaryMessage {
			s.handleBinary(data)
			continue
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			logging.Debugw("skipping unparseable transport frame", "err", err, "bytes", len(data))
			continue
		}
		if evt.Type == "" {
			continue
		}
		s.deliver(evt)
	}
}

// handleBinary parses an audio frame: a newline-terminated JSON header
// (track id, participant id) followed by the opus payload.
func (s *wsSession) handleBinary(data []byte) {
	idx := -1
	for i, b := range data {
		if b == '\n' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return
	}
	var hdr struct {
		TrackID       string `json:"track_id"`
		ParticipantID string `json:"participant_id"`
	}
	if err := json.Unmarshal(data[:idx], &hdr); err != nil {
		logging.Debugw("skipping audio frame with bad header", "err", err)
		return
	}
	payload := make([]byte, len(data)-idx-1)
	copy(payload, data[idx+1:])
	s.deliver(Event{
		Type:    EventAudioFrame,
		Track:   &Track{ID: hdr.TrackID, Kind: TrackAudio, ParticipantID: hdr.ParticipantID},
		Payload: payload,
	})
}

func (s *wsSession) deliver(evt Event) {
	select {
	case s.events <- evt:
	default:
		// Audio frames are droppable under backpressure; lifecycle events
		// block so ordering is preserved.
		if evt.Type == EventAudioFrame {
			logging.Warnw("dropping audio frame; event queue full")
			return
		}
		s.events <- evt
	}
}

func (s *wsSession) send(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return nil
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

type command struct {
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (s *wsSession) SetLocalAudio(enabled bool) error {
	return s.send(command{Type: "set-audio", Enabled: &enabled})
}

func (s *wsSession) SetLocalVideo(enabled bool) error {
	return s.send(command{Type: "set-video", Enabled: &enabled})
}

func (s *wsSession) StartRecording() error {
	return s.send(command{Type: "start-recording"})
}

func (s *wsSession) StopRecording() error {
	return s.send(command{Type: "stop-recording"})
}

func (s *wsSession) Leave() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsSession) Destroy() error {
	return s.Leave()
}
