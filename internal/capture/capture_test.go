package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meeting-notes-lab/internal/meeting"
)

type constDecoder struct{ sample int16 }

func (d constDecoder) Decode(data []byte, pcm []int16) (int, error) {
	n := len(data)
	if n > len(pcm) {
		n = len(pcm)
	}
	for i := 0; i < n; i++ {
		pcm[i] = d.sample
	}
	return n, nil
}

type failingDecoder struct{}

func (failingDecoder) Decode(data []byte, pcm []int16) (int, error) {
	return 0, errors.New("corrupt frame")
}

type fakeObjects struct {
	mu      sync.Mutex
	fail    bool
	uploads map[string][]byte
}

func (f *fakeObjects) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("upload refused")
	}
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[key] = data
	return "s3://test-bucket/" + key, nil
}

func (f *fakeObjects) only(t *testing.T) (string, []byte) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(f.uploads))
	}
	for k, v := range f.uploads {
		return k, v
	}
	return "", nil
}

func newTestBuffer(sample int16) (*Buffer, *meeting.MemoryStore, *fakeObjects) {
	store := meeting.NewMemoryStore()
	store.Put(&meeting.Record{ID: "m1", NotesStatus: meeting.NotesNone})
	objects := &fakeObjects{}
	factory := func() (Decoder, error) { return constDecoder{sample: sample}, nil }
	// hour-long ticks so chunking happens only on Stop
	return NewBuffer(store, objects, factory, 48000, time.Hour), store, objects
}

func TestStartRequiresAudioTracks(t *testing.T) {
	b, _, _ := newTestBuffer(100)
	if err := b.Start("m1", nil); !errors.Is(err, ErrNoAudioTracks) {
		t.Fatalf("err = %v, want ErrNoAudioTracks", err)
	}
	if b.Capturing() {
		t.Error("buffer active after rejected start")
	}
}

func TestDoubleStartRejected(t *testing.T) {
	b, _, _ := newTestBuffer(100)
	if err := b.Start("m1", []string{"tr1"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Start("m1", []string{"tr2"}); !errors.Is(err, ErrCaptureActive) {
		t.Fatalf("err = %v, want ErrCaptureActive", err)
	}
	_ = b.Stop(context.Background())
}

func TestStopWithoutCapture(t *testing.T) {
	b, _, _ := newTestBuffer(100)
	if err := b.Stop(context.Background()); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("err = %v, want ErrNotCapturing", err)
	}
}

func TestStopMixesTracksAndRecordsPath(t *testing.T) {
	ctx := context.Background()
	// 20000 per track sums to 40000, which must clamp at int16 max
	b, store, objects := newTestBuffer(20000)
	if err := b.Start("m1", []string{"tr1", "tr2"}); err != nil {
		t.Fatal(err)
	}
	b.HandleFrame("tr1", []byte{1, 2, 3, 4})
	b.HandleFrame("tr2", []byte{1, 2, 3, 4})

	if err := b.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	key, wav := objects.only(t)
	if !strings.HasPrefix(key, "meetings/m1/capture-") || !strings.HasSuffix(key, ".wav") {
		t.Errorf("unexpected object key %q", key)
	}
	if len(wav) != 44+4*2 {
		t.Fatalf("wav size = %d, want 44-byte header plus 4 mixed samples", len(wav))
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("bad wav header: % x", wav[:12])
	}
	first := int16(binary.LittleEndian.Uint16(wav[44:46]))
	if first != 32767 {
		t.Errorf("first mixed sample = %d, want clamped 32767", first)
	}

	rec, _ := store.Get(ctx, "m1")
	if rec.AudioFileURL != "s3://test-bucket/"+key {
		t.Errorf("audio path = %q", rec.AudioFileURL)
	}
	if rec.NotesStatus != meeting.NotesAudioSaved {
		t.Errorf("notes status = %q, want audio_saved", rec.NotesStatus)
	}
	if b.Capturing() {
		t.Error("buffer still active after stop")
	}
}

func TestFramesForUnknownTrackDropped(t *testing.T) {
	b, _, _ := newTestBuffer(100)
	if err := b.Start("m1", []string{"tr1"}); err != nil {
		t.Fatal(err)
	}
	b.HandleFrame("unknown", []byte{1, 2, 3})

	if got := b.GetStats().FramesReceived; got != 0 {
		t.Errorf("frames received = %d, want 0", got)
	}
	_ = b.Stop(context.Background())
}

func TestDecodeFailureCountsAsDropped(t *testing.T) {
	store := meeting.NewMemoryStore()
	store.Put(&meeting.Record{ID: "m1"})
	factory := func() (Decoder, error) { return failingDecoder{}, nil }
	b := NewBuffer(store, &fakeObjects{}, factory, 48000, time.Hour)
	if err := b.Start("m1", []string{"tr1"}); err != nil {
		t.Fatal(err)
	}
	b.HandleFrame("tr1", []byte{1, 2, 3})

	stats := b.GetStats()
	if stats.FramesDropped != 1 || stats.FramesReceived != 0 {
		t.Errorf("stats = %+v, want one dropped frame", stats)
	}
	_ = b.Stop(context.Background())
}

func TestFailedFlushRetainsChunksForRetry(t *testing.T) {
	ctx := context.Background()
	b, store, objects := newTestBuffer(100)
	if err := b.Start("m1", []string{"tr1"}); err != nil {
		t.Fatal(err)
	}
	b.HandleFrame("tr1", []byte{1, 2, 3, 4})

	objects.fail = true
	if err := b.Stop(ctx); err == nil {
		t.Fatal("expected flush failure")
	}
	rec, _ := store.Get(ctx, "m1")
	if rec.AudioFileURL != "" {
		t.Errorf("audio path recorded despite failed upload: %q", rec.AudioFileURL)
	}
	if b.Capturing() {
		t.Error("buffer should be inactive after stop even when the flush fails")
	}

	objects.fail = false
	if err := b.RetryFlush(ctx); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	rec, _ = store.Get(ctx, "m1")
	if rec.AudioFileURL == "" {
		t.Error("audio path not recorded after retry")
	}
	if rec.NotesStatus != meeting.NotesAudioSaved {
		t.Errorf("notes status = %q, want audio_saved", rec.NotesStatus)
	}

	// nothing retained anymore
	if err := b.RetryFlush(ctx); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("second retry err = %v, want ErrNotCapturing", err)
	}
}

// gatedObjects blocks uploads until released so tests can hold a flush
// in flight.
type gatedObjects struct {
	fakeObjects
	entered chan struct{}
	release chan struct{}
}

func (g *gatedObjects) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.fakeObjects.Upload(ctx, key, data, contentType)
}

func TestStartRejectedWhileFlushInFlight(t *testing.T) {
	ctx := context.Background()
	store := meeting.NewMemoryStore()
	store.Put(&meeting.Record{ID: "m1", NotesStatus: meeting.NotesNone})
	store.Put(&meeting.Record{ID: "m2", NotesStatus: meeting.NotesNone})
	objects := &gatedObjects{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	factory := func() (Decoder, error) { return constDecoder{sample: 100}, nil }
	b := NewBuffer(store, objects, factory, 48000, time.Hour)

	if err := b.Start("m1", []string{"tr1"}); err != nil {
		t.Fatal(err)
	}
	b.HandleFrame("tr1", []byte{1, 2, 3, 4})

	stopped := make(chan error, 1)
	go func() { stopped <- b.Stop(ctx) }()
	<-objects.entered

	// the first session has not flushed yet, so a new capture must wait
	if err := b.Start("m2", []string{"tr2"}); !errors.Is(err, ErrCaptureActive) {
		t.Fatalf("start during flush err = %v, want ErrCaptureActive", err)
	}

	close(objects.release)
	if err := <-stopped; err != nil {
		t.Fatalf("stop: %v", err)
	}
	rec, _ := store.Get(ctx, "m1")
	if rec.AudioFileURL == "" {
		t.Error("first session's capture path not recorded")
	}

	// once the flush settles, the next session runs with its own state intact
	if err := b.Start("m2", []string{"tr2"}); err != nil {
		t.Fatalf("start after flush: %v", err)
	}
	b.HandleFrame("tr2", []byte{5, 6, 7, 8})
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	rec, _ = store.Get(ctx, "m2")
	if rec.AudioFileURL == "" {
		t.Error("second session's capture path not recorded")
	}
	if rec.NotesStatus != meeting.NotesAudioSaved {
		t.Errorf("second session notes status = %q, want audio_saved", rec.NotesStatus)
	}
}

func TestStopWithNoFramesSkipsUpload(t *testing.T) {
	ctx := context.Background()
	b, store, objects := newTestBuffer(100)
	if err := b.Start("m1", []string{"tr1"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	objects.mu.Lock()
	uploads := len(objects.uploads)
	objects.mu.Unlock()
	if uploads != 0 {
		t.Errorf("uploads = %d, want none for an empty capture", uploads)
	}
	rec, _ := store.Get(ctx, "m1")
	if rec.NotesStatus != meeting.NotesNone {
		t.Errorf("notes status = %q, want none", rec.NotesStatus)
	}
}
