// Package capture mixes participant audio tracks into a single recording
// per capture session, buffers it in fixed-interval chunks, and flushes the
// result to durable storage when the capture stops.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meeting-notes-lab/internal/logging"
	"github.com/meeting-notes-lab/internal/meeting"
	"github.com/meeting-notes-lab/internal/storage"
)

var (
	ErrNoAudioTracks = errors.New("no audio available")
	ErrCaptureActive = errors.New("capture already active")
	ErrNotCapturing  = errors.New("no capture in progress")
)

// maxFrameSamples bounds one decoded Opus frame (120 ms at 48 kHz mono).
const maxFrameSamples = 5760

// Decoder decodes one encoded audio frame into pcm and returns the number
// of samples written.
type Decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// DecoderFactory builds a per-track decoder.
type DecoderFactory func() (Decoder, error)

// Stats counts capture activity for the current or most recent session.
type Stats struct {
	StartedAt      time.Time
	FramesReceived uint64
	FramesDropped  uint64
	BytesBuffered  int
}

type trackBuf struct {
	dec     Decoder
	pending []int16
}

// Buffer is the audio capture session owner. At most one capture is active
// at a time; chunks are retained across a failed flush so a retry does not
// require re-capturing.
type Buffer struct {
	store         meeting.Store
	objects       storage.ObjectStore
	newDecoder    DecoderFactory
	sampleRate    int
	chunkInterval time.Duration

	mu         sync.Mutex
	active     bool
	flushing   bool
	generation uint64
	meetingID  string
	tracks     map[string]*trackBuf
	chunks     [][]int16
	stats      Stats
	stopTick   chan struct{}
}

func NewBuffer(store meeting.Store, objects storage.ObjectStore, factory DecoderFactory, sampleRate int, chunkInterval time.Duration) *Buffer {
	if factory == nil {
		factory = OpusDecoderFactory
	}
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if chunkInterval <= 0 {
		chunkInterval = time.Second
	}
	return &Buffer{
		store:         store,
		objects:       objects,
		newDecoder:    factory,
		sampleRate:    sampleRate,
		chunkInterval: chunkInterval,
	}
}

// Start opens a capture over the given audio tracks. Tracks negotiated
// after the capture starts are not added; callers stop and restart to pick
// them up.
func (b *Buffer) Start(meetingID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return ErrNoAudioTracks
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// a session counts as active until its flush settles, so a new capture
	// cannot race the previous one's upload
	if b.active || b.flushing {
		return ErrCaptureActive
	}
	if len(b.chunks) > 0 {
		logging.Warnw("discarding unflushed capture", "meeting.id", b.meetingID)
	}

	tracks := make(map[string]*trackBuf, len(trackIDs))
	for _, id := range trackIDs {
		dec, err := b.newDecoder()
		if err != nil {
			return fmt.Errorf("open decoder for track %s: %w", id, err)
		}
		tracks[id] = &trackBuf{dec: dec}
	}

	b.active = true
	b.generation++
	b.meetingID = meetingID
	b.tracks = tracks
	b.chunks = nil
	b.stats = Stats{StartedAt: time.Now()}
	b.stopTick = make(chan struct{})

	go b.tickLoop(b.stopTick)

	logging.Infow("audio capture started", "meeting.id", meetingID, "tracks", len(trackIDs))
	return nil
}

func (b *Buffer) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(b.chunkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			if b.active {
				b.cutChunk()
			}
			b.mu.Unlock()
		}
	}
}

// HandleFrame feeds one encoded frame for a track into the capture. Frames
// for unknown tracks or while no capture is active are dropped silently
// since the transport keeps delivering during teardown.
func (b *Buffer) HandleFrame(trackID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return
	}
	tb, ok := b.tracks[trackID]
	if !ok {
		return
	}
	pcm := make([]int16, maxFrameSamples)
	n, err := tb.dec.Decode(payload, pcm)
	if err != nil {
		b.stats.FramesDropped++
		logging.Debugw("audio decode error", "track", trackID, "err", err)
		return
	}
	tb.pending = append(tb.pending, pcm[:n]...)
	b.stats.FramesReceived++
	b.stats.BytesBuffered += n * 2
}

// cutChunk mixes all pending per-track samples into one chunk. Callers hold
// b.mu. Tracks are summed sample-wise with clamping; shorter tracks
// contribute silence past their end.
func (b *Buffer) cutChunk() {
	maxLen := 0
	for _, tb := range b.tracks {
		if len(tb.pending) > maxLen {
			maxLen = len(tb.pending)
		}
	}
	if maxLen == 0 {
		return
	}
	mixed := make([]int16, maxLen)
	for _, tb := range b.tracks {
		for i, s := range tb.pending {
			v := int32(mixed[i]) + int32(s)
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			mixed[i] = int16(v)
		}
		tb.pending = tb.pending[:0]
	}
	b.chunks = append(b.chunks, mixed)
}

// Capturing reports whether a capture session is active.
func (b *Buffer) Capturing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// GetStats returns a copy of the capture counters.
func (b *Buffer) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Stop finalizes the capture and flushes the mixed recording to storage,
// then records the stored path and advances the notes status. Buffered
// chunks survive a failed flush; RetryFlush re-attempts without a new
// capture. Stop blocks until the flush finishes so callers can safely
// release the transport afterwards.
func (b *Buffer) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return ErrNotCapturing
	}
	close(b.stopTick)
	b.cutChunk()
	b.active = false
	b.flushing = true
	b.tracks = nil
	samples := 0
	for _, c := range b.chunks {
		samples += len(c)
	}
	gen := b.generation
	meetingID := b.meetingID
	b.mu.Unlock()

	logging.Infow("audio capture stopped", logging.CaptureFields(meetingID, samples, samples*1000/b.sampleRate)...)
	return b.flush(ctx, gen)
}

// RetryFlush re-uploads a capture whose flush failed. No-op when nothing
// is retained.
func (b *Buffer) RetryFlush(ctx context.Context) error {
	b.mu.Lock()
	if b.active || b.flushing || len(b.chunks) == 0 {
		b.mu.Unlock()
		return ErrNotCapturing
	}
	b.flushing = true
	gen := b.generation
	b.mu.Unlock()
	return b.flush(ctx, gen)
}

// flush uploads the session identified by gen. The generation check makes a
// stale flush a no-op so it can never touch a later session's state.
func (b *Buffer) flush(ctx context.Context, gen uint64) error {
	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return nil
	}
	var all []int16
	for _, c := range b.chunks {
		all = append(all, c...)
	}
	meetingID := b.meetingID
	b.mu.Unlock()

	if len(all) == 0 {
		b.settle(gen, true)
		return nil
	}

	wav := buildWAV(pcmToBytes(all), b.sampleRate, 1, 16)
	key := fmt.Sprintf("meetings/%s/capture-%s-%s.wav",
		meetingID,
		time.Now().UTC().Format("20060102T150405Z"),
		uuid.NewString()[:8])

	path, err := b.objects.Upload(ctx, key, wav, "audio/wav")
	if err != nil {
		// keep chunks so RetryFlush can run without re-capturing
		logging.Errorw("capture flush failed", "meeting.id", meetingID, "key", key, "err", err)
		b.settle(gen, false)
		return fmt.Errorf("flush capture: %w", err)
	}

	if err := b.store.Patch(ctx, meetingID, meeting.Patch{
		AudioFileURL: meeting.StringPtr(path),
		NotesStatus:  meeting.NotesStatusPtr(meeting.NotesAudioSaved),
	}); err != nil {
		logging.Errorw("failed to record capture path", "meeting.id", meetingID, "err", err)
		b.settle(gen, false)
		return fmt.Errorf("record capture path: %w", err)
	}

	logging.Infow("capture flushed", "meeting.id", meetingID, "path", path, "bytes", len(wav))
	b.settle(gen, true)
	return nil
}

// settle ends a session's flush. State is dropped only on success; a failed
// flush keeps the chunks for RetryFlush.
func (b *Buffer) settle(gen uint64, clearState bool) {
	b.mu.Lock()
	if b.generation == gen {
		b.flushing = false
		if clearState {
			b.chunks = nil
			b.meetingID = ""
		}
	}
	b.mu.Unlock()
}
