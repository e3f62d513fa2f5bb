// Package notify publishes meeting lifecycle and pipeline status events so
// other services in the product can react without polling the record. The
// publisher is optional; a nil *Publisher is a no-op.
package notify

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/meeting-notes-lab/internal/logging"
)

const (
	SubjectSessionStarted = "meeting.session.started"
	SubjectSessionEnded   = "meeting.session.ended"
	SubjectNotesStatus    = "meeting.notes.status"
)

type Publisher struct {
	conn *nats.Conn
}

// Connect dials the NATS server. Returns (nil, nil) for an empty URL so
// callers can wire the publisher unconditionally.
func Connect(url string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.Name("meeting-notes-lab"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn}, nil
}

type event struct {
	MeetingID string    `json:"meeting_id"`
	Room      string    `json:"room,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

func (p *Publisher) publish(subject string, evt event) {
	if p == nil || p.conn == nil {
		return
	}
	evt.At = time.Now().UTC()
	data, _ := json.Marshal(evt)
	if err := p.conn.Publish(subject, data); err != nil {
		// fanout is best-effort; the record remains the source of truth
		logging.Warnw("notify publish failed", "subject", subject, "err", err)
	}
}

func (p *Publisher) SessionStarted(meetingID, room string) {
	p.publish(SubjectSessionStarted, event{MeetingID: meetingID, Room: room})
}

func (p *Publisher) SessionEnded(meetingID string) {
	p.publish(SubjectSessionEnded, event{MeetingID: meetingID})
}

func (p *Publisher) NotesStatus(meetingID, status string) {
	p.publish(SubjectNotesStatus, event{MeetingID: meetingID, Status: status})
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
