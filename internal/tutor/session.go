package tutor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quizowl/quizowl-tutor/internal/explain"
	"github.com/quizowl/quizowl-tutor/internal/segment"
	"github.com/quizowl/quizowl-tutor/internal/synth"
)

// ErrLimitExceeded rejects an ask once the session has used all of its
// questions. The rejection is synchronous and makes no network calls.
var ErrLimitExceeded = errors.New("question limit reached")

// ErrTurnActive rejects an ask while a previous turn is still running.
var ErrTurnActive = errors.New("a tutor turn is already in progress")

// State tracks the session through one conversational turn.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StatePlaying
	StateLimitReached
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StatePlaying:
		return "playing"
	case StateLimitReached:
		return "limit_reached"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SessionConfig bounds one tutor session.
type SessionConfig struct {
	MaxQuestions int
	AskTimeout   time.Duration
	Voice        string
	Format       string
	System       string
	Model        string
	MaxTokens    int
	Temperature  float64
}

// Session orchestrates one tutoring conversation: it owns the unlock
// gate and at most one dispatcher run at a time, and enforces the
// question budget. Created when the tutoring UI opens; Close tears it
// down when the UI closes.
type Session struct {
	id       string
	cfg      SessionConfig
	streamer explain.Streamer
	synth    synth.Synthesizer
	gate     Gate
	player   Player
	events   Events
	log      *slog.Logger

	parent context.Context

	mu            sync.Mutex
	state         State
	questionCount int
	cancelTurn    context.CancelFunc
	turnDone      chan struct{}
	closed        bool
}

func NewSession(parent context.Context, id string, cfg SessionConfig, streamer explain.Streamer, syn synth.Synthesizer, gate Gate, player Player, events Events, log *slog.Logger) *Session {
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 3
	}
	return &Session{
		id:       id,
		cfg:      cfg,
		streamer: streamer,
		synth:    syn,
		gate:     gate,
		player:   player,
		events:   events,
		log:      log.With(slog.String("component", "tutor-session"), slog.String("session_id", id)),
		parent:   parent,
		state:    StateIdle,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) QuestionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionCount
}

func (s *Session) MaxQuestions() int { return s.cfg.MaxQuestions }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Unlock records the client's audio-unlock gesture.
func (s *Session) Unlock() error {
	return s.gate.Unlock()
}

// Ask starts one tutor turn. It rejects synchronously when the
// question budget is spent or a turn is still running; otherwise it
// increments the count, opens the explanation stream and returns while
// the turn proceeds in the background. Completion is signalled through
// the TurnComplete event.
func (s *Session) Ask(question string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session closed")
	}
	if s.cancelTurn != nil {
		s.mu.Unlock()
		return ErrTurnActive
	}
	if s.questionCount >= s.cfg.MaxQuestions {
		s.state = StateLimitReached
		s.mu.Unlock()
		s.events.emitLimitReached()
		return ErrLimitExceeded
	}
	s.questionCount++
	s.state = StateStreaming

	var turnCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.AskTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(s.parent, s.cfg.AskTimeout)
	} else {
		turnCtx, cancel = context.WithCancel(s.parent)
	}
	s.cancelTurn = cancel
	done := make(chan struct{})
	s.turnDone = done
	s.mu.Unlock()

	s.log.Info("tutor turn started", slog.Int("question", s.questionCount), slog.Int("max", s.cfg.MaxQuestions))
	go s.runTurn(turnCtx, question, done)
	return nil
}

// Cancel aborts the in-flight turn: the active synthesis request is
// aborted, playback stops and pending utterances are discarded.
// Cancelling is not an error and is safe to call at any time.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelTurn
	done := s.turnDone
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.player.Stop()
	if done != nil {
		<-done
	}
}

// Close cancels any active turn and releases the audio device. The
// session is unusable afterwards.
func (s *Session) Close() error {
	s.Cancel()
	s.mu.Lock()
	s.closed = true
	s.state = StateCancelled
	s.mu.Unlock()
	return s.gate.Close()
}

func (s *Session) runTurn(ctx context.Context, question string, done chan struct{}) {
	defer close(done)

	// The dispatcher sees a wrapped event set so the session can track
	// the Streaming→Playing transition on the first playback.
	events := s.events
	wrapped := events
	wrapped.UtteranceStart = func(seq int) {
		s.mu.Lock()
		if s.state == StateStreaming {
			s.state = StatePlaying
		}
		s.mu.Unlock()
		events.emitStart(seq)
	}

	dispatcher := NewDispatcher(DispatcherConfig{
		SessionID: s.id,
		Voice:     s.cfg.Voice,
		Format:    s.cfg.Format,
	}, s.gate, s.synth, s.player, wrapped, s.log)

	runDone := make(chan error, 1)
	go func() {
		runDone <- dispatcher.Run(ctx)
	}()

	seg := segment.New()
	streamErr := s.streamer.Stream(ctx, explain.Request{
		SessionID:   s.id,
		Question:    question,
		System:      s.cfg.System,
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}, func(d explain.Delta) error {
		for _, sentence := range seg.Push(d.Content) {
			dispatcher.Enqueue(sentence)
		}
		return nil
	})

	aborted := false
	switch {
	case ctx.Err() != nil:
		aborted = true
	case streamErr != nil:
		// The explanation source failed: drop the unsegmented tail and
		// whatever is still pending, tell the client, return to idle.
		aborted = true
		s.log.Warn("explanation stream failed", slog.String("error", streamErr.Error()))
		s.events.emitError(ErrorKindStream, streamErr.Error())
	default:
		if tail, ok := seg.Flush(); ok {
			dispatcher.Enqueue(tail)
		}
	}

	if aborted {
		s.mu.Lock()
		if s.cancelTurn != nil {
			s.cancelTurn()
		}
		s.mu.Unlock()
		s.player.Stop()
	}
	dispatcher.CloseInput()
	err := <-runDone

	completed := err == nil && !aborted

	s.mu.Lock()
	s.cancelTurn = nil
	s.turnDone = nil
	if !s.closed {
		if s.questionCount >= s.cfg.MaxQuestions {
			s.state = StateLimitReached
		} else {
			s.state = StateIdle
		}
	}
	s.mu.Unlock()

	if completed {
		s.log.Info("tutor turn complete", slog.Int("utterances", seg.Emitted()))
		s.events.emitTurnComplete(seg.Emitted())
	}
}
