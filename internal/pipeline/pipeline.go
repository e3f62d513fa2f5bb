// Package pipeline sequences transcription and AI-notes generation against
// the meeting record's persisted status field, tolerating partial
// completion and re-entry after a crash.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meeting-notes-lab/internal/logging"
	"github.com/meeting-notes-lab/internal/meeting"
	"github.com/meeting-notes-lab/internal/stt"
)

var (
	// ErrBusy is returned when a run is already active for the meeting in
	// this process. Concurrent runs would race on the persisted status and
	// double-bill the AI services.
	ErrBusy = errors.New("notes pipeline already running for this meeting")
	// ErrNothingToTranscribe is returned when neither stored audio nor a
	// prior transcript exists.
	ErrNothingToTranscribe = errors.New("nothing to transcribe")
	// ErrStaleAttempt is returned when another run claimed the pipeline
	// after this one started; the stale run aborts without writing.
	ErrStaleAttempt = errors.New("pipeline run superseded by a newer attempt")
)

// CaptureFlusher is the slice of the capture buffer the pipeline needs: it
// stops and flushes an in-progress capture so the freshest recording is
// transcribed.
type CaptureFlusher interface {
	Capturing() bool
	Stop(ctx context.Context) error
}

// NotesGenerator produces AI notes for a meeting from its persisted
// transcript and writes them back to the record.
type NotesGenerator interface {
	Generate(ctx context.Context, meetingID string) error
}

type Pipeline struct {
	store        meeting.Store
	transcriber  stt.Transcriber
	generator    NotesGenerator
	capture      CaptureFlusher
	stageTimeout time.Duration
	flushWait    time.Duration

	mu      sync.Mutex
	running map[string]struct{}
}

func New(store meeting.Store, transcriber stt.Transcriber, generator NotesGenerator, capture CaptureFlusher, stageTimeout, flushWait time.Duration) *Pipeline {
	if stageTimeout <= 0 {
		stageTimeout = 5 * time.Minute
	}
	if flushWait <= 0 {
		flushWait = 10 * time.Second
	}
	return &Pipeline{
		store:        store,
		transcriber:  transcriber,
		generator:    generator,
		capture:      capture,
		stageTimeout: stageTimeout,
		flushWait:    flushWait,
	}
}

// Run drives the meeting from stored audio to draft notes:
// audio_saved -> transcribing -> generating -> draft, with error reachable
// from any in-progress stage. Each status transition is persisted before
// the stage starts so a crash leaves an accurate resumption point, and a
// meeting that already has a transcript skips transcription on re-run.
func (p *Pipeline) Run(ctx context.Context, meetingID string) error {
	if !p.claim(meetingID) {
		return ErrBusy
	}
	defer p.release(meetingID)

	// include the freshest audio: stop and flush an active capture first,
	// with a bounded wait
	if p.capture != nil && p.capture.Capturing() {
		flushCtx, cancel := context.WithTimeout(ctx, p.flushWait)
		err := p.capture.Stop(flushCtx)
		cancel()
		if err != nil {
			logging.Warnw("capture flush before pipeline failed", "meeting.id", meetingID, "err", err)
		}
	}

	rec, err := p.store.Get(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("notes pipeline: %w", err)
	}
	if rec.NotesStatus.InProgress() {
		// a previous attempt died mid-stage; this run takes over
		logging.Warnw("taking over stalled pipeline", "meeting.id", meetingID, "status", string(rec.NotesStatus))
	}

	hasTranscript := rec.AudioTranscript != ""
	if rec.AudioFileURL == "" && !hasTranscript {
		return ErrNothingToTranscribe
	}

	attempt := uuid.NewString()

	if !hasTranscript {
		if err := p.setStage(ctx, meetingID, attempt, meeting.NotesTranscribing, true); err != nil {
			return err
		}
		stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
		err := p.transcriber.Transcribe(stageCtx, meetingID, rec.AudioFileURL)
		cancel()
		if err != nil {
			p.markError(ctx, meetingID, attempt)
			return fmt.Errorf("transcription: %w", err)
		}
	}

	if err := p.setStage(ctx, meetingID, attempt, meeting.NotesGenerating, hasTranscript); err != nil {
		return err
	}
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	err = p.generator.Generate(stageCtx, meetingID)
	cancel()
	if err != nil {
		p.markError(ctx, meetingID, attempt)
		return fmt.Errorf("notes generation: %w", err)
	}

	if err := p.setStage(ctx, meetingID, attempt, meeting.NotesDraft, false); err != nil {
		return err
	}
	logging.Infow("notes pipeline complete", "meeting.id", meetingID, "attempt", attempt)
	return nil
}

func (p *Pipeline) claim(meetingID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running == nil {
		p.running = make(map[string]struct{})
	}
	if _, busy := p.running[meetingID]; busy {
		return false
	}
	p.running[meetingID] = struct{}{}
	return true
}

func (p *Pipeline) release(meetingID string) {
	p.mu.Lock()
	delete(p.running, meetingID)
	p.mu.Unlock()
}

// setStage persists a status transition. The first transition of a run
// claims the attempt token; later ones verify this run still owns it, so a
// stale invocation aborts instead of racing a newer run on the record.
func (p *Pipeline) setStage(ctx context.Context, meetingID, attempt string, status meeting.NotesStatus, claim bool) error {
	if !claim {
		rec, err := p.store.Get(ctx, meetingID)
		if err != nil {
			return fmt.Errorf("notes pipeline: %w", err)
		}
		if rec.NotesAttempt != attempt {
			return ErrStaleAttempt
		}
	}
	patch := meeting.Patch{NotesStatus: meeting.NotesStatusPtr(status)}
	if claim {
		patch.NotesAttempt = meeting.StringPtr(attempt)
	}
	if err := p.store.Patch(ctx, meetingID, patch); err != nil {
		return fmt.Errorf("notes pipeline: persist %s: %w", string(status), err)
	}
	logging.Infow("pipeline stage", "meeting.id", meetingID, "status", string(status), "attempt", attempt)
	return nil
}

// markError records a stage failure. Audio and any prior transcript are
// left untouched so a retry resumes at the right stage. A stale attempt
// writes nothing.
func (p *Pipeline) markError(ctx context.Context, meetingID, attempt string) {
	rec, err := p.store.Get(ctx, meetingID)
	if err != nil {
		logging.Errorw("failed to read record while marking pipeline error", "meeting.id", meetingID, "err", err)
		return
	}
	if rec.NotesAttempt != attempt {
		return
	}
	if err := p.store.Patch(ctx, meetingID, meeting.Patch{
		NotesStatus: meeting.NotesStatusPtr(meeting.NotesError),
	}); err != nil {
		logging.Errorw("failed to persist pipeline error status", "meeting.id", meetingID, "err", err)
	}
}
