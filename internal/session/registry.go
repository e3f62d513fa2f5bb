package session

import (
	"sync"

	"github.com/meeting-notes-lab/internal/logging"
	"github.com/meeting-notes-lab/internal/transport"
)

// PreviewSink is a rendering surface a video track can be bound to. The
// core only manages bindings; rendering lives with the embedding
// application.
type PreviewSink interface {
	Bind(trackID string)
	Clear()
}

type noopSink struct{}

func (noopSink) Bind(trackID string) {}
func (noopSink) Clear()              {}

// ParticipantState is the in-memory view of one connected peer. IDs are
// session-scoped. The local participant is held separately and never
// appears in the peer list.
type ParticipantState struct {
	ID           string
	DisplayName  string
	IsMuted      bool
	IsVideoOff   bool
	IsLocal      bool
	AudioTrackID string
	VideoTrackID string
}

// ScreenShare holds the at-most-one active screen-share track. A racing
// second share overwrites the first rather than queueing.
type ScreenShare struct {
	TrackID       string
	ParticipantID string
}

// Registry keeps participant and track state in sync with the transport's
// lifecycle events. The transport does not guarantee ordering or
// deduplication across events, so every handler tolerates duplicates,
// unknown ids, and missing payload fields.
type Registry struct {
	mu            sync.Mutex
	participants  map[string]*ParticipantState
	local         *ParticipantState
	screen        *ScreenShare
	localPreview  PreviewSink
	screenPreview PreviewSink
}

func NewRegistry() *Registry {
	return &Registry{
		participants:  make(map[string]*ParticipantState),
		localPreview:  noopSink{},
		screenPreview: noopSink{},
	}
}

// SetPreviews installs the rendering surfaces for the local camera and the
// shared screen. Nil sinks keep the current binding target.
func (r *Registry) SetPreviews(local, screen PreviewSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if local != nil {
		r.localPreview = local
	}
	if screen != nil {
		r.screenPreview = screen
	}
}

func (r *Registry) handleParticipantJoined(p *transport.Participant) {
	if p == nil || p.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state := &ParticipantState{
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		IsMuted:      !p.AudioEnabled,
		IsVideoOff:   !p.VideoEnabled,
		IsLocal:      p.Local,
		VideoTrackID: p.VideoTrackID,
	}
	if p.Local {
		r.local = state
		return
	}
	r.participants[p.ID] = state
	logging.Debugw("participant joined", logging.ParticipantFields(p.ID, p.DisplayName)...)
}

func (r *Registry) handleParticipantLeft(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, id)
}

func (r *Registry) handleParticipantUpdated(p *transport.Participant) {
	if p == nil || p.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Local || (r.local != nil && r.local.ID == p.ID) {
		if r.local == nil {
			r.local = &ParticipantState{ID: p.ID, IsLocal: true}
		}
		r.local.IsMuted = !p.AudioEnabled
		r.local.IsVideoOff = !p.VideoEnabled
		if p.VideoTrackID != "" {
			r.local.VideoTrackID = p.VideoTrackID
			r.localPreview.Bind(p.VideoTrackID)
		} else if !p.VideoEnabled {
			// no track and video explicitly off: drop the binding so the
			// preview doesn't show stale frames
			r.local.VideoTrackID = ""
			r.localPreview.Clear()
		}
		return
	}
	state, ok := r.participants[p.ID]
	if !ok {
		// late or duplicate event for a departed peer
		return
	}
	state.IsMuted = !p.AudioEnabled
	state.IsVideoOff = !p.VideoEnabled
	if p.DisplayName != "" {
		state.DisplayName = p.DisplayName
	}
	if p.VideoTrackID != "" {
		state.VideoTrackID = p.VideoTrackID
	}
}

func (r *Registry) handleTrackStarted(t *transport.Track) {
	if t == nil || t.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch t.Kind {
	case transport.TrackScreen:
		r.screen = &ScreenShare{TrackID: t.ID, ParticipantID: t.ParticipantID}
		r.screenPreview.Bind(t.ID)
		logging.Infow("screen share started", "track", t.ID, "participant.id", t.ParticipantID)
	case transport.TrackCamera:
		if r.local != nil && r.local.ID == t.ParticipantID {
			r.local.VideoTrackID = t.ID
			r.local.IsVideoOff = false
			r.localPreview.Bind(t.ID)
			return
		}
		if state, ok := r.participants[t.ParticipantID]; ok {
			state.VideoTrackID = t.ID
			state.IsVideoOff = false
		}
	case transport.TrackAudio:
		if r.local != nil && r.local.ID == t.ParticipantID {
			r.local.AudioTrackID = t.ID
			return
		}
		if state, ok := r.participants[t.ParticipantID]; ok {
			state.AudioTrackID = t.ID
		}
	}
}

func (r *Registry) handleTrackStopped(t *transport.Track) {
	if t == nil || t.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Camera stops are communicated via participant updates, not track
	// stop; only the active screen share reacts here.
	if r.screen != nil && r.screen.TrackID == t.ID {
		r.screen = nil
		r.screenPreview.Clear()
		logging.Infow("screen share stopped", "track", t.ID)
	}
}

// AudioTrackIDs returns the ids of every currently known audio track,
// including the local one.
func (r *Registry) AudioTrackIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	if r.local != nil && r.local.AudioTrackID != "" {
		ids = append(ids, r.local.AudioTrackID)
	}
	for _, p := range r.participants {
		if p.AudioTrackID != "" {
			ids = append(ids, p.AudioTrackID)
		}
	}
	return ids
}

// Participants returns a copy of the remote peer list.
func (r *Registry) Participants() []ParticipantState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ParticipantState, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}

// Local returns a copy of the local participant state, if connected.
func (r *Registry) Local() (ParticipantState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local == nil {
		return ParticipantState{}, false
	}
	return *r.local, true
}

// ScreenShareState returns the active screen share, if any.
func (r *Registry) ScreenShareState() (ScreenShare, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.screen == nil {
		return ScreenShare{}, false
	}
	return *r.screen, true
}

// setLocalFlags applies an optimistic local toggle ahead of the
// transport's confirming participant-updated event.
func (r *Registry) setLocalFlags(muted, videoOff *bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local == nil {
		return
	}
	if muted != nil {
		r.local.IsMuted = *muted
	}
	if videoOff != nil {
		r.local.IsVideoOff = *videoOff
	}
}

// Reset drops all in-memory state; called on connection teardown. Preview
// bindings are cleared so no stale frames survive a reconnect.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = make(map[string]*ParticipantState)
	r.local = nil
	r.screen = nil
	r.localPreview.Clear()
	r.screenPreview.Clear()
}
