package session

import (
	"context"
	"errors"
	"sync"

	"github.com/meeting-notes-lab/internal/capture"
	"github.com/meeting-notes-lab/internal/meeting"
	"github.com/meeting-notes-lab/internal/pipeline"
)

// ErrNotConnected is returned for operations that need a live session.
var ErrNotConnected = errors.New("no active session")

// Notifier receives lifecycle announcements. Implementations must tolerate
// being called from multiple goroutines.
type Notifier interface {
	SessionStarted(meetingID, room string)
	SessionEnded(meetingID string)
	NotesStatus(meetingID, status string)
}

type noopNotifier struct{}

func (noopNotifier) SessionStarted(meetingID, room string) {}
func (noopNotifier) SessionEnded(meetingID string)         {}
func (noopNotifier) NotesStatus(meetingID, status string)  {}

// Orchestrator is the composition root for one meeting: it exposes the
// public session surface and read-only observable state. All business
// rules live in the machine, registry, capture buffer, and pipeline.
type Orchestrator struct {
	meetingID string
	machine   *Machine
	registry  *Registry
	capture   *capture.Buffer
	pipeline  *pipeline.Pipeline
	store     meeting.Store
	notifier  Notifier

	errMu     sync.Mutex
	lastError string
}

func NewOrchestrator(meetingID string, machine *Machine, registry *Registry, buf *capture.Buffer, pipe *pipeline.Pipeline, store meeting.Store, notifier Notifier) *Orchestrator {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	o := &Orchestrator{
		meetingID: meetingID,
		machine:   machine,
		registry:  registry,
		capture:   buf,
		pipeline:  pipe,
		store:     store,
		notifier:  notifier,
	}
	machine.SetErrorHandler(o.recordError)
	return o
}

func (o *Orchestrator) recordError(msg string) {
	o.errMu.Lock()
	o.lastError = msg
	o.errMu.Unlock()
}

// StartVideoMeeting creates a room as host and connects.
func (o *Orchestrator) StartVideoMeeting(ctx context.Context) error {
	if err := o.machine.Start(ctx, o.meetingID); err != nil {
		return err
	}
	if rec, err := o.store.Get(ctx, o.meetingID); err == nil {
		o.notifier.SessionStarted(o.meetingID, rec.RoomName)
	}
	return nil
}

// JoinVideoMeeting connects to the meeting's existing room.
func (o *Orchestrator) JoinVideoMeeting(ctx context.Context) error {
	if err := o.machine.Join(ctx, o.meetingID); err != nil {
		return err
	}
	if rec, err := o.store.Get(ctx, o.meetingID); err == nil {
		o.notifier.SessionStarted(o.meetingID, rec.RoomName)
	}
	return nil
}

func (o *Orchestrator) ToggleMute() error  { return o.machine.ToggleMute() }
func (o *Orchestrator) ToggleVideo() error { return o.machine.ToggleVideo() }

func (o *Orchestrator) StartRecording(ctx context.Context) error {
	return o.machine.StartRecording(ctx)
}

func (o *Orchestrator) StopRecording(ctx context.Context) error {
	return o.machine.StopRecording(ctx)
}

// StartAudioCapture opens a client-side capture over every audio track
// currently known. Reports capture.ErrNoAudioTracks when tracks have not
// been negotiated yet; the caller may retry once participants publish.
func (o *Orchestrator) StartAudioCapture() error {
	if o.machine.Status() != StatusConnected {
		return ErrNotConnected
	}
	return o.capture.Start(o.meetingID, o.registry.AudioTrackIDs())
}

// StopAudioCapture finalizes the capture and blocks until the recording is
// flushed to durable storage.
func (o *Orchestrator) StopAudioCapture(ctx context.Context) error {
	return o.capture.Stop(ctx)
}

// RunNotesPipeline drives transcription and notes generation for the
// meeting. Final status is announced whether the run succeeds or fails.
func (o *Orchestrator) RunNotesPipeline(ctx context.Context) error {
	err := o.pipeline.Run(ctx, o.meetingID)
	if rec, rerr := o.store.Get(ctx, o.meetingID); rerr == nil {
		o.notifier.NotesStatus(o.meetingID, string(rec.NotesStatus))
	}
	return err
}

// LeaveCall tears the session down, flushing any in-progress capture
// before the transport is released. Safe to call with no session.
func (o *Orchestrator) LeaveCall(ctx context.Context) error {
	hadSession := o.machine.Status() != StatusIdle
	err := o.machine.Leave(ctx)
	if hadSession {
		o.notifier.SessionEnded(o.meetingID)
	}
	return err
}

// EndCall is the host-side teardown; it shares LeaveCall's semantics.
func (o *Orchestrator) EndCall(ctx context.Context) error {
	return o.LeaveCall(ctx)
}

// Snapshot is the read-only observable state the surrounding application
// renders from.
type Snapshot struct {
	MeetingID    string
	Status       string
	Participants []ParticipantState
	Local        *ParticipantState
	ScreenShare  *ScreenShare
	IsCapturing  bool
	CaptureStats capture.Stats
	IsRecording  bool
	NotesStatus  meeting.NotesStatus
	LastError    string
}

func (o *Orchestrator) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		MeetingID:    o.meetingID,
		Status:       o.machine.Status().String(),
		Participants: o.registry.Participants(),
		IsCapturing:  o.capture.Capturing(),
		CaptureStats: o.capture.GetStats(),
		IsRecording:  o.machine.Recording(),
	}
	if local, ok := o.registry.Local(); ok {
		snap.Local = &local
	}
	if share, ok := o.registry.ScreenShareState(); ok {
		snap.ScreenShare = &share
	}
	if rec, err := o.store.Get(ctx, o.meetingID); err == nil {
		snap.NotesStatus = rec.NotesStatus
	}
	o.errMu.Lock()
	snap.LastError = o.lastError
	o.errMu.Unlock()
	return snap
}
