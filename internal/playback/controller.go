package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPlaybackBusy means Play was called while another playback was
// active. The dispatcher's sequential loop never triggers it; hitting
// this error indicates a caller bug.
var ErrPlaybackBusy = errors.New("playback already active")

// Controller decodes one audio payload at a time and plays it through
// the gate's output device to completion.
type Controller struct {
	gate            *Gate
	framesPerBuffer int
	log             *slog.Logger

	mu      sync.Mutex
	active  bool
	stopCh  chan struct{}
	stopped bool
}

func NewController(gate *Gate, framesPerBuffer int, log *slog.Logger) *Controller {
	return &Controller{
		gate:            gate,
		framesPerBuffer: framesPerBuffer,
		log:             log.With(slog.String("component", "playback")),
	}
}

// Play decodes the payload (WAV or MP3) and streams it to the output
// device. It returns once the audio finished, was stopped, or ctx was
// cancelled. Requires the gate to be unlocked.
func (c *Controller) Play(ctx context.Context, payload []byte) error {
	sink, err := c.gate.Output()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrPlaybackBusy
	}
	c.active = true
	c.stopped = false
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	}()

	clip, err := decode(payload)
	if err != nil {
		return err
	}

	if err := sink.Start(); err != nil {
		return err
	}
	defer sink.Stop()

	chunkBytes := c.framesPerBuffer * clip.Channels * 2
	if chunkBytes <= 0 {
		chunkBytes = len(clip.PCM)
	}
	pcm := clip.PCM
	for len(pcm) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		default:
		}
		n := chunkBytes
		if n > len(pcm) {
			n = len(pcm)
		}
		if err := sink.Write(pcm[:n]); err != nil {
			return err
		}
		pcm = pcm[n:]
	}
	return nil
}

// Stop halts in-progress playback immediately. Safe to call at any
// time, any number of times.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.stopped {
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.log.Debug("playback stopped")
}
