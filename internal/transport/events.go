// Package transport abstracts the real-time media session: joining a room,
// the lifecycle event stream, local media toggles, and provider-side
// recording control.
package transport

// TrackKind distinguishes the media a track carries.
type TrackKind string

const (
	TrackAudio  TrackKind = "audio"
	TrackCamera TrackKind = "camera"
	TrackScreen TrackKind = "screen"
)

// EventType enumerates the lifecycle events a session delivers.
type EventType string

const (
	EventJoined             EventType = "joined"
	EventLeft               EventType = "left"
	EventParticipantJoined  EventType = "participant-joined"
	EventParticipantLeft    EventType = "participant-left"
	EventParticipantUpdated EventType = "participant-updated"
	EventTrackStarted       EventType = "track-started"
	EventTrackStopped       EventType = "track-stopped"
	EventRecordingStarted   EventType = "recording-started"
	EventRecordingStopped   EventType = "recording-stopped"
	EventAudioFrame         EventType = "audio-frame"
	EventError              EventType = "error"
)

// Participant is the provider's view of a peer in the room. IDs are scoped
// to the life of a connection.
type Participant struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Local        bool   `json:"local"`
	AudioEnabled bool   `json:"audio_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
	// VideoTrackID is set when the participant currently publishes video.
	VideoTrackID string `json:"video_track_id,omitempty"`
}

// Track is a live media handle delivered by the provider.
type Track struct {
	ID            string    `json:"id"`
	Kind          TrackKind `json:"kind"`
	ParticipantID string    `json:"participant_id"`
}

// Event is one entry in a session's lifecycle stream. Fields other than
// Type are populated depending on the event; handlers must treat every
// field as optional since providers do not guarantee complete payloads.
type Event struct {
	Type        EventType    `json:"type"`
	Participant *Participant `json:"participant,omitempty"`
	Track       *Track       `json:"track,omitempty"`
	// Payload carries opus-encoded audio for EventAudioFrame.
	Payload []byte `json:"payload,omitempty"`
	// Message carries a human-readable description for EventError.
	Message string `json:"message,omitempty"`
}
