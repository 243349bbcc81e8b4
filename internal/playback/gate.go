package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPlaybackBlocked is returned when audio output is attempted before
// the unlock gesture has been performed.
var ErrPlaybackBlocked = errors.New("audio output locked: unlock gesture required")

// Gate is the session's one handle to the audio output device. The
// device is created lazily on the first Unlock and reused for every
// utterance afterwards. Unlock must be driven by a genuine user
// gesture on the client; the pipeline only records the fact.
type Gate struct {
	mu       sync.Mutex
	factory  SinkFactory
	sink     Sink
	unlocked bool
	ch       chan struct{}
	log      *slog.Logger
}

func NewGate(factory SinkFactory, log *slog.Logger) *Gate {
	return &Gate{
		factory: factory,
		ch:      make(chan struct{}),
		log:     log.With(slog.String("component", "audio-gate")),
	}
}

// Unlock opens the output device and primes it with a single silent
// buffer. Calling it again is a no-op.
func (g *Gate) Unlock() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unlocked {
		return nil
	}

	sink, err := g.factory()
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}
	if err := prime(sink); err != nil {
		sink.Close()
		return fmt.Errorf("prime audio output: %w", err)
	}

	g.sink = sink
	g.unlocked = true
	close(g.ch)
	g.log.Info("audio output unlocked")
	return nil
}

// prime pushes one inaudible buffer through the device so the platform
// registers output as user-activated.
func prime(sink Sink) error {
	if err := sink.Start(); err != nil {
		return err
	}
	if err := sink.Write(make([]byte, 2)); err != nil {
		sink.Stop()
		return err
	}
	return sink.Stop()
}

// Unlocked reports whether the unlock gesture has happened.
func (g *Gate) Unlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked
}

// WaitUnlocked blocks until the gate unlocks or ctx is done.
func (g *Gate) WaitUnlocked(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Output returns the shared device handle, or ErrPlaybackBlocked while
// the gate is still locked.
func (g *Gate) Output() (Sink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.unlocked {
		return nil, ErrPlaybackBlocked
	}
	return g.sink, nil
}

// Close tears down the device handle at session end.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sink == nil {
		return nil
	}
	err := g.sink.Close()
	g.sink = nil
	return err
}
