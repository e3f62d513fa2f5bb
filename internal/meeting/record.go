package meeting

import "time"

// RecordingStatus tracks the provider-side (server) recording of a meeting.
type RecordingStatus string

const (
	RecordingNone       RecordingStatus = "none"
	RecordingActive     RecordingStatus = "recording"
	RecordingProcessing RecordingStatus = "processing"
)

// NotesStatus drives the transcribe -> summarize pipeline. It is persisted so
// a reload or crash mid-pipeline leaves an accurate resumption point.
type NotesStatus string

const (
	NotesNone         NotesStatus = "none"
	NotesAudioSaved   NotesStatus = "audio_saved"
	NotesTranscribing NotesStatus = "transcribing"
	NotesGenerating   NotesStatus = "generating"
	NotesDraft        NotesStatus = "draft"
	NotesError        NotesStatus = "error"
)

// InProgress reports whether the status marks an active pipeline stage.
func (s NotesStatus) InProgress() bool {
	return s == NotesTranscribing || s == NotesGenerating
}

// Record is the persisted state of a meeting. The record is created before
// any live session starts and outlives all in-memory session state.
//
// RoomName/RoomURL are present only while a session is open; empty values
// mean no active room. NotesAttempt identifies the pipeline run that owns
// the current in-progress status, so a stale run can detect it lost
// ownership and abort instead of racing on the status field.
type Record struct {
	ID              string          `dynamodbav:"id" json:"id"`
	RoomName        string          `dynamodbav:"room_name,omitempty" json:"room_name,omitempty"`
	RoomURL         string          `dynamodbav:"room_url,omitempty" json:"room_url,omitempty"`
	RecordingStatus RecordingStatus `dynamodbav:"recording_status" json:"recording_status"`
	AudioFileURL    string          `dynamodbav:"audio_file_url,omitempty" json:"audio_file_url,omitempty"`
	AudioTranscript string          `dynamodbav:"audio_transcript,omitempty" json:"audio_transcript,omitempty"`
	AINotes         string          `dynamodbav:"ai_notes,omitempty" json:"ai_notes,omitempty"`
	NotesStatus     NotesStatus     `dynamodbav:"ai_notes_status" json:"ai_notes_status"`
	NotesAttempt    string          `dynamodbav:"ai_notes_attempt,omitempty" json:"ai_notes_attempt,omitempty"`
	UpdatedAt       time.Time       `dynamodbav:"updated_at" json:"updated_at"`
}

// HasActiveRoom reports whether the record points at an open room.
func (r *Record) HasActiveRoom() bool {
	return r.RoomURL != "" && r.RoomName != ""
}

// Patch is a partial update to a Record. Nil fields are left untouched.
type Patch struct {
	RoomName        *string
	RoomURL         *string
	RecordingStatus *RecordingStatus
	AudioFileURL    *string
	AudioTranscript *string
	AINotes         *string
	NotesStatus     *NotesStatus
	NotesAttempt    *string
}

// StringPtr is a convenience for building patches.
func StringPtr(s string) *string { return &s }

// RecordingStatusPtr is a convenience for building patches.
func RecordingStatusPtr(s RecordingStatus) *RecordingStatus { return &s }

// NotesStatusPtr is a convenience for building patches.
func NotesStatusPtr(s NotesStatus) *NotesStatus { return &s }
