package meeting

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by stores when no record exists for a meeting id.
var ErrNotFound = errors.New("meeting record not found")

// Store reads and writes meeting records. The orchestrator is the only
// in-band writer of recording/pipeline fields, so Patch does not need
// optimistic locking beyond the pipeline's attempt token.
type Store interface {
	Get(ctx context.Context, meetingID string) (*Record, error)
	Patch(ctx context.Context, meetingID string, patch Patch) error
}

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Put inserts or replaces a record wholesale.
func (m *MemoryStore) Put(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
}

func (m *MemoryStore) Get(ctx context.Context, meetingID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[meetingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Patch(ctx context.Context, meetingID string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[meetingID]
	if !ok {
		return ErrNotFound
	}
	applyPatch(rec, patch)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func applyPatch(rec *Record, patch Patch) {
	if patch.RoomName != nil {
		rec.RoomName = *patch.RoomName
	}
	if patch.RoomURL != nil {
		rec.RoomURL = *patch.RoomURL
	}
	if patch.RecordingStatus != nil {
		rec.RecordingStatus = *patch.RecordingStatus
	}
	if patch.AudioFileURL != nil {
		rec.AudioFileURL = *patch.AudioFileURL
	}
	if patch.AudioTranscript != nil {
		rec.AudioTranscript = *patch.AudioTranscript
	}
	if patch.AINotes != nil {
		rec.AINotes = *patch.AINotes
	}
	if patch.NotesStatus != nil {
		rec.NotesStatus = *patch.NotesStatus
	}
	if patch.NotesAttempt != nil {
		rec.NotesAttempt = *patch.NotesAttempt
	}
}
