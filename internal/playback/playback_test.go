package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSink records writes and can block to simulate slow hardware.
type fakeSink struct {
	mu      sync.Mutex
	started int
	stopped int
	closed  int
	written int
	block   chan struct{} // when set, Write blocks until closed
	first   chan struct{} // signalled on first Write
	once    sync.Once
}

func (f *fakeSink) Start() error { f.mu.Lock(); f.started++; f.mu.Unlock(); return nil }
func (f *fakeSink) Stop() error  { f.mu.Lock(); f.stopped++; f.mu.Unlock(); return nil }
func (f *fakeSink) Close() error { f.mu.Lock(); f.closed++; f.mu.Unlock(); return nil }

func (f *fakeSink) Write(pcm []byte) error {
	if f.first != nil {
		f.once.Do(func() { close(f.first) })
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.written += len(pcm)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) writtenBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func makeWAV(t *testing.T, samples int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Data:           make([]int, samples),
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = i % 128
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestUnlockIsIdempotentAndLazy(t *testing.T) {
	sink := &fakeSink{}
	created := 0
	gate := NewGate(func() (Sink, error) {
		created++
		return sink, nil
	}, newLogger())

	if gate.Unlocked() {
		t.Fatal("gate must start locked")
	}
	if created != 0 {
		t.Fatal("sink must not be created before unlock")
	}
	if err := gate.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := gate.Unlock(); err != nil {
		t.Fatalf("second unlock: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected one sink, created %d", created)
	}
	if !gate.Unlocked() {
		t.Fatal("gate must report unlocked")
	}
	// priming pushed one inaudible buffer
	if sink.writtenBytes() == 0 {
		t.Fatal("expected priming write")
	}
}

func TestUnlockFactoryFailureLeavesGateLocked(t *testing.T) {
	gate := NewGate(func() (Sink, error) {
		return nil, errors.New("no device")
	}, newLogger())
	if err := gate.Unlock(); err == nil {
		t.Fatal("expected unlock error")
	}
	if gate.Unlocked() {
		t.Fatal("gate must remain locked after failed unlock")
	}
}

func TestWaitUnlocked(t *testing.T) {
	gate := NewGate(func() (Sink, error) { return &fakeSink{}, nil }, newLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := gate.WaitUnlocked(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while locked, got %v", err)
	}

	if err := gate.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := gate.WaitUnlocked(context.Background()); err != nil {
		t.Fatalf("wait after unlock: %v", err)
	}
}

func TestPlayBlockedBeforeUnlock(t *testing.T) {
	gate := NewGate(func() (Sink, error) { return &fakeSink{}, nil }, newLogger())
	ctrl := NewController(gate, 64, newLogger())

	err := ctrl.Play(context.Background(), makeWAV(t, 256))
	if !errors.Is(err, ErrPlaybackBlocked) {
		t.Fatalf("expected ErrPlaybackBlocked, got %v", err)
	}
}

func TestPlayDecodesAndWrites(t *testing.T) {
	sink := &fakeSink{}
	gate := NewGate(func() (Sink, error) { return sink, nil }, newLogger())
	if err := gate.Unlock(); err != nil {
		t.Fatal(err)
	}
	ctrl := NewController(gate, 64, newLogger())

	primed := sink.writtenBytes()
	if err := ctrl.Play(context.Background(), makeWAV(t, 256)); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := sink.writtenBytes() - primed; got != 256*2 {
		t.Fatalf("expected 512 PCM bytes written, got %d", got)
	}
}

func TestStopHaltsPlayback(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sink := &fakeSink{block: release, first: started}
	gate := &Gate{factory: nil, sink: sink, unlocked: true, ch: make(chan struct{}), log: newLogger()}
	close(gate.ch)
	ctrl := NewController(gate, 16, newLogger())

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Play(context.Background(), makeWAV(t, 1024))
	}()

	<-started
	ctrl.Stop()
	ctrl.Stop() // idempotent
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stopped playback must not error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not stop")
	}
	// only the first chunk went out before the stop took effect
	if sink.writtenBytes() >= 1024*2 {
		t.Fatalf("expected truncated playback, wrote %d bytes", sink.writtenBytes())
	}
}

func TestPlayRejectsConcurrentUse(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sink := &fakeSink{block: release, first: started}
	gate := NewGate(func() (Sink, error) { return sink, nil }, newLogger())

	// unlock without priming interference: prime blocks too, so release it
	unlockDone := make(chan error, 1)
	go func() { unlockDone <- gate.Unlock() }()
	<-started
	release <- struct{}{}
	if err := <-unlockDone; err != nil {
		t.Fatal(err)
	}

	ctrl := NewController(gate, 16, newLogger())
	payload := makeWAV(t, 1024)

	playDone := make(chan error, 1)
	go func() { playDone <- ctrl.Play(context.Background(), payload) }()

	// wait until the first chunk is in flight
	for {
		ctrl.mu.Lock()
		active := ctrl.active
		ctrl.mu.Unlock()
		if active {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := ctrl.Play(context.Background(), payload); !errors.Is(err, ErrPlaybackBusy) {
		t.Fatalf("expected ErrPlaybackBusy, got %v", err)
	}

	close(release)
	if err := <-playDone; err != nil {
		t.Fatalf("first playback failed: %v", err)
	}
}

func TestStopBeforePlayIsNoop(t *testing.T) {
	gate := NewGate(func() (Sink, error) { return &fakeSink{}, nil }, newLogger())
	ctrl := NewController(gate, 64, newLogger())
	ctrl.Stop()
	ctrl.Stop()
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := decode(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := decode([]byte("definitely not audio")); err == nil {
		t.Fatal("expected error for junk payload")
	}
}

func TestDecodeWAVHeader(t *testing.T) {
	clip, err := decode(makeWAV(t, 100))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if clip.SampleRate != 8000 || clip.Channels != 1 {
		t.Fatalf("unexpected format: %d Hz, %d ch", clip.SampleRate, clip.Channels)
	}
	if len(clip.PCM) != 200 {
		t.Fatalf("expected 200 PCM bytes, got %d", len(clip.PCM))
	}
}
