package tutor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quizowl/quizowl-tutor/internal/synth"
)

// Gate is the unlock surface the dispatcher and session need from the
// audio layer.
type Gate interface {
	Unlock() error
	Unlocked() bool
	WaitUnlocked(ctx context.Context) error
	Close() error
}

// Player plays one decoded payload to completion.
type Player interface {
	Play(ctx context.Context, payload []byte) error
	Stop()
}

// DispatcherConfig carries the per-turn synthesis parameters.
type DispatcherConfig struct {
	SessionID string
	Voice     string
	Format    string
}

// Dispatcher drains segmented sentences strictly in order: fetch one,
// play it to completion, advance. No second synthesis request exists
// while another utterance is fetching or playing, so out-of-order
// playback cannot occur regardless of synthesis latency.
type Dispatcher struct {
	cfg    DispatcherConfig
	gate   Gate
	synth  synth.Synthesizer
	player Player
	events Events
	log    *slog.Logger

	mu          sync.Mutex
	queue       []*Utterance
	nextSeq     int
	inputClosed bool
	wake        chan struct{}
}

func NewDispatcher(cfg DispatcherConfig, gate Gate, syn synth.Synthesizer, player Player, events Events, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		gate:   gate,
		synth:  syn,
		player: player,
		events: events,
		log:    log.With(slog.String("component", "dispatcher"), slog.String("session_id", cfg.SessionID)),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue appends one segmented sentence and assigns its sequence
// index. The text event fires immediately so the UI can display the
// sentence before (or without) its audio.
func (d *Dispatcher) Enqueue(text string) *Utterance {
	d.mu.Lock()
	u := &Utterance{Seq: d.nextSeq, Text: text, Status: StatusPending}
	d.nextSeq++
	d.queue = append(d.queue, u)
	d.mu.Unlock()

	d.events.emitText(u.Seq, u.Text)
	d.notify()
	return u
}

// CloseInput signals that segmentation has ended; Run terminates once
// the queue drains.
func (d *Dispatcher) CloseInput() {
	d.mu.Lock()
	d.inputClosed = true
	d.mu.Unlock()
	d.notify()
}

func (d *Dispatcher) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// next blocks until an utterance is available. Returns nil once input
// is closed and the queue is empty, or when ctx is cancelled.
func (d *Dispatcher) next(ctx context.Context) *Utterance {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			u := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return u
		}
		closed := d.inputClosed
		d.mu.Unlock()
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
		}
	}
}

// Run executes the sequential loop until the stream is exhausted or ctx
// is cancelled. Cancellation aborts the in-flight synthesis call, stops
// playback and discards everything still pending; it surfaces as
// ctx.Err(), which the session treats as a clean termination.
func (d *Dispatcher) Run(ctx context.Context) error {
	blockedNotified := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		u := d.next(ctx)
		if u == nil {
			return ctx.Err()
		}

		// No synthesis request may be issued while the gate is locked.
		if !d.gate.Unlocked() {
			if !blockedNotified {
				blockedNotified = true
				d.events.emitError(ErrorKindPlaybackBlocked, "audio locked: waiting for unlock gesture")
				d.log.Info("dispatcher paused until unlock", slog.Int("seq", u.Seq))
			}
			if err := d.gate.WaitUnlocked(ctx); err != nil {
				return err
			}
		}

		u.Status = StatusFetching
		audio, err := d.synth.Synthesize(ctx, synth.Request{
			SessionID: d.cfg.SessionID,
			Text:      u.Text,
			Voice:     d.cfg.Voice,
			Format:    d.cfg.Format,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.Status = StatusFailed
			d.log.Warn("synthesis failed, continuing text-only", slog.Int("seq", u.Seq), slog.String("error", err.Error()))
			d.events.emitError(ErrorKindSynthesis, err.Error())
			d.events.emitEnd(u.Seq, false)
			continue
		}
		u.Status = StatusReady

		d.events.emitStart(u.Seq)
		u.Status = StatusPlaying
		if err := d.player.Play(ctx, audio); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.Status = StatusFailed
			d.log.Warn("playback failed", slog.Int("seq", u.Seq), slog.String("error", err.Error()))
			d.events.emitEnd(u.Seq, false)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		u.Status = StatusPlayed
		d.events.emitEnd(u.Seq, true)
	}
}
