// Package session owns the live meeting session: the connection state
// machine, participant and track bookkeeping, and the composition root the
// embedding application drives.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meeting-notes-lab/internal/broker"
	"github.com/meeting-notes-lab/internal/capture"
	"github.com/meeting-notes-lab/internal/logging"
	"github.com/meeting-notes-lab/internal/meeting"
	"github.com/meeting-notes-lab/internal/transport"
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const loopDrainTimeout = 5 * time.Second

// Machine drives Idle -> Connecting -> Connected -> Idle. A second start or
// join while already connecting or connected is a no-op; those calls come
// from UI re-entrancy, not genuine faults.
type Machine struct {
	broker   broker.RoomBroker
	dialer   transport.Dialer
	store    meeting.Store
	capture  *capture.Buffer
	registry *Registry
	onError  func(msg string)

	mu        sync.Mutex
	status    Status
	meetingID string
	sess      transport.Session
	recording bool
	leaving   bool
	loopDone  chan struct{}
}

func NewMachine(rb broker.RoomBroker, dialer transport.Dialer, store meeting.Store, buf *capture.Buffer, registry *Registry) *Machine {
	return &Machine{
		broker:   rb,
		dialer:   dialer,
		store:    store,
		capture:  buf,
		registry: registry,
	}
}

// SetErrorHandler installs the callback transport-level errors are surfaced
// through. Errors do not tear down the session by themselves.
func (m *Machine) SetErrorHandler(fn func(msg string)) {
	m.onError = fn
}

// Status returns the current connection state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// MeetingID returns the meeting the machine is (or was last) attached to.
func (m *Machine) MeetingID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meetingID
}

// Start creates a room for the meeting as host and connects to it. Valid
// only from idle; otherwise a no-op.
func (m *Machine) Start(ctx context.Context, meetingID string) error {
	if !m.beginConnect(meetingID) {
		logging.Warnw("start ignored; session already active", "meeting.id", meetingID, "status", m.Status().String())
		return nil
	}
	room, err := m.broker.CreateRoom(ctx, meetingID)
	if err != nil {
		m.abortConnect()
		return fmt.Errorf("start meeting: %w", err)
	}
	// mark the room active on the record before joining so other clients
	// can discover it
	if err := m.store.Patch(ctx, meetingID, meeting.Patch{
		RoomName: meeting.StringPtr(room.Name),
		RoomURL:  meeting.StringPtr(room.URL),
	}); err != nil {
		m.abortConnect()
		return fmt.Errorf("start meeting: %w", err)
	}
	if err := m.connect(ctx, room); err != nil {
		_ = m.store.Patch(ctx, meetingID, meeting.Patch{
			RoomName: meeting.StringPtr(""),
			RoomURL:  meeting.StringPtr(""),
		})
		return err
	}
	return nil
}

// Join connects to the meeting's existing room as a participant. Fails if
// no room is active.
func (m *Machine) Join(ctx context.Context, meetingID string) error {
	if !m.beginConnect(meetingID) {
		logging.Warnw("join ignored; session already active", "meeting.id", meetingID, "status", m.Status().String())
		return nil
	}
	room, err := m.broker.JoinRoom(ctx, meetingID)
	if err != nil {
		m.abortConnect()
		return fmt.Errorf("join meeting: %w", err)
	}
	return m.connect(ctx, room)
}

func (m *Machine) beginConnect(meetingID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusIdle {
		return false
	}
	m.status = StatusConnecting
	m.meetingID = meetingID
	return true
}

func (m *Machine) abortConnect() {
	m.mu.Lock()
	m.status = StatusIdle
	m.mu.Unlock()
}

func (m *Machine) connect(ctx context.Context, room broker.Room) error {
	sess, err := m.dialer.Dial(ctx, room.URL, room.Token)
	if err != nil {
		m.abortConnect()
		return fmt.Errorf("connect: %w", err)
	}
	done := make(chan struct{})
	m.mu.Lock()
	// a leave issued while the dial was in flight wins: release the
	// session instead of installing it under an idle machine
	if m.leaving || m.status != StatusConnecting {
		m.mu.Unlock()
		_ = sess.Leave()
		_ = sess.Destroy()
		logging.Warnw("discarding session dialed after leave", "meeting.id", m.MeetingID())
		return fmt.Errorf("connect: session closed during join")
	}
	m.sess = sess
	m.loopDone = done
	m.mu.Unlock()
	go m.runLoop(sess, done)
	logging.Infow("session connecting", logging.MeetingFields(m.MeetingID(), room.Name)...)
	return nil
}

// runLoop consumes the transport's event stream in delivery order. All
// registry mutations happen here, so handlers only need to be idempotent,
// not synchronized against each other.
func (m *Machine) runLoop(sess transport.Session, done chan struct{}) {
	defer close(done)
	for evt := range sess.Events() {
		switch evt.Type {
		case transport.EventJoined:
			m.mu.Lock()
			m.status = StatusConnected
			m.mu.Unlock()
			logging.Infow("session connected", "meeting.id", m.MeetingID())
		case transport.EventParticipantJoined:
			m.registry.handleParticipantJoined(evt.Participant)
		case transport.EventParticipantLeft:
			if evt.Participant != nil {
				m.registry.handleParticipantLeft(evt.Participant.ID)
			}
		case transport.EventParticipantUpdated:
			m.registry.handleParticipantUpdated(evt.Participant)
		case transport.EventTrackStarted:
			m.registry.handleTrackStarted(evt.Track)
		case transport.EventTrackStopped:
			m.registry.handleTrackStopped(evt.Track)
		case transport.EventAudioFrame:
			if evt.Track != nil {
				m.capture.HandleFrame(evt.Track.ID, evt.Payload)
			}
		case transport.EventRecordingStarted:
			logging.Infow("provider recording confirmed", "meeting.id", m.MeetingID())
		case transport.EventRecordingStopped:
			logging.Infow("provider recording stopped", "meeting.id", m.MeetingID())
		case transport.EventError:
			logging.Warnw("transport error", "meeting.id", m.MeetingID(), "msg", evt.Message)
			m.reportError(evt.Message)
		case transport.EventLeft:
			// final event; the channel closes after this
		}
	}

	m.mu.Lock()
	leaving := m.leaving
	m.mu.Unlock()
	if !leaving {
		// involuntary disconnect: run the same teardown leaveCall would,
		// flushing any in-progress capture first
		logging.Warnw("transport stream ended unexpectedly", "meeting.id", m.MeetingID())
		m.cleanup(context.Background(), nil)
	}
}

func (m *Machine) reportError(msg string) {
	if m.onError != nil && msg != "" {
		m.onError(msg)
	}
}

// ToggleMute flips the local audio flag and issues the transport call. The
// local state update is optimistic; the transport confirms via a
// participant-updated event.
func (m *Machine) ToggleMute() error {
	sess := m.connectedSession()
	if sess == nil {
		return nil
	}
	muted := true
	if local, ok := m.registry.Local(); ok {
		muted = !local.IsMuted
	}
	m.registry.setLocalFlags(&muted, nil)
	if err := sess.SetLocalAudio(!muted); err != nil {
		m.reportError(err.Error())
		return fmt.Errorf("toggle mute: %w", err)
	}
	return nil
}

// ToggleVideo flips the local camera flag and issues the transport call.
func (m *Machine) ToggleVideo() error {
	sess := m.connectedSession()
	if sess == nil {
		return nil
	}
	videoOff := true
	if local, ok := m.registry.Local(); ok {
		videoOff = !local.IsVideoOff
	}
	m.registry.setLocalFlags(nil, &videoOff)
	if err := sess.SetLocalVideo(!videoOff); err != nil {
		m.reportError(err.Error())
		return fmt.Errorf("toggle video: %w", err)
	}
	return nil
}

// StartRecording starts the provider-side recording and persists the
// status. Recording failures are reported but leave the connection alone.
func (m *Machine) StartRecording(ctx context.Context) error {
	sess := m.connectedSession()
	if sess == nil {
		return nil
	}
	if err := sess.StartRecording(); err != nil {
		m.reportError(err.Error())
		return fmt.Errorf("start recording: %w", err)
	}
	m.mu.Lock()
	m.recording = true
	meetingID := m.meetingID
	m.mu.Unlock()
	if err := m.store.Patch(ctx, meetingID, meeting.Patch{
		RecordingStatus: meeting.RecordingStatusPtr(meeting.RecordingActive),
	}); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	return nil
}

// StopRecording stops the provider-side recording and marks the record as
// processing.
func (m *Machine) StopRecording(ctx context.Context) error {
	sess := m.connectedSession()
	if sess == nil {
		return nil
	}
	if err := sess.StopRecording(); err != nil {
		m.reportError(err.Error())
		return fmt.Errorf("stop recording: %w", err)
	}
	m.mu.Lock()
	m.recording = false
	meetingID := m.meetingID
	m.mu.Unlock()
	if err := m.store.Patch(ctx, meetingID, meeting.Patch{
		RecordingStatus: meeting.RecordingStatusPtr(meeting.RecordingProcessing),
	}); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	return nil
}

// Recording reports whether a provider-side recording was started by this
// machine and not yet stopped.
func (m *Machine) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

func (m *Machine) connectedSession() transport.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusConnected || m.sess == nil {
		return nil
	}
	return m.sess
}

// Leave tears the session down: flush any in-progress capture, stop
// recording, release the transport, clear state. Safe to call when no
// session exists and safe to call twice; it runs on both explicit user
// action and involuntary teardown.
func (m *Machine) Leave(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusIdle && m.sess == nil {
		m.mu.Unlock()
		return nil
	}
	if m.leaving {
		m.mu.Unlock()
		return nil
	}
	m.leaving = true
	sess := m.sess
	done := m.loopDone
	m.mu.Unlock()

	return m.cleanup(ctx, func() {
		if sess != nil {
			_ = sess.Leave()
			_ = sess.Destroy()
		}
		if done != nil {
			select {
			case <-done:
			case <-time.After(loopDrainTimeout):
				logging.Warnw("event loop did not drain before timeout")
			}
		}
	})
}

// cleanup performs the ordered teardown shared by Leave and involuntary
// disconnects. The capture flush is awaited before the transport session is
// released so no captured audio is lost.
func (m *Machine) cleanup(ctx context.Context, releaseTransport func()) error {
	var firstErr error

	if m.capture.Capturing() {
		if err := m.capture.Stop(ctx); err != nil {
			logging.Errorw("capture flush during teardown failed", "meeting.id", m.MeetingID(), "err", err)
			firstErr = err
		}
	}

	m.mu.Lock()
	recording := m.recording
	sess := m.sess
	meetingID := m.meetingID
	m.mu.Unlock()

	if recording && sess != nil {
		_ = sess.StopRecording()
		if err := m.store.Patch(ctx, meetingID, meeting.Patch{
			RecordingStatus: meeting.RecordingStatusPtr(meeting.RecordingProcessing),
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if releaseTransport != nil {
		releaseTransport()
	}

	if meetingID != "" {
		if err := m.store.Patch(ctx, meetingID, meeting.Patch{
			RoomName: meeting.StringPtr(""),
			RoomURL:  meeting.StringPtr(""),
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.registry.Reset()

	m.mu.Lock()
	m.status = StatusIdle
	m.sess = nil
	m.recording = false
	m.leaving = false
	m.loopDone = nil
	m.mu.Unlock()

	logging.Infow("session ended", "meeting.id", meetingID)
	return firstErr
}
