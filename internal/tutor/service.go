package tutor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/quizowl/quizowl-tutor/internal/bus"
	"github.com/quizowl/quizowl-tutor/internal/config"
	"github.com/quizowl/quizowl-tutor/internal/eventstore"
	"github.com/quizowl/quizowl-tutor/internal/explain"
	"github.com/quizowl/quizowl-tutor/internal/playback"
	"github.com/quizowl/quizowl-tutor/internal/protocol"
	"github.com/quizowl/quizowl-tutor/internal/synth"
)

// Service exposes the tutoring pipeline over the message bus. Each quiz
// client opens a session, sends its unlock gesture and asks questions;
// the service publishes utterance text, playback progress and errors
// back on the tutor.evt.* subjects and records the timeline in the
// event store.
type Service struct {
	cfg      config.Config
	bus      *bus.Client
	streamer explain.Streamer
	synth    synth.Synthesizer
	store    *eventstore.Store
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subs []*nats.Subscription

	mu       sync.Mutex
	sessions map[string]*Session

	questionsAsked metric.Int64Counter
	utterances     metric.Int64Counter
	pipelineErrors metric.Int64Counter
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, streamer explain.Streamer, syn synth.Synthesizer, store *eventstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	meter := otel.Meter("github.com/quizowl/quizowl-tutor/tutor")
	questionsAsked, _ := meter.Int64Counter("tutor.questions.asked")
	utterances, _ := meter.Int64Counter("tutor.utterances.played")
	pipelineErrors, _ := meter.Int64Counter("tutor.pipeline.errors")
	return &Service{
		cfg:            cfg,
		bus:            busClient,
		streamer:       streamer,
		synth:          syn,
		store:          store,
		logger:         logger.With(slog.String("component", "tutor-service")),
		ctx:            ctx,
		cancel:         cancel,
		sessions:       make(map[string]*Session),
		questionsAsked: questionsAsked,
		utterances:     utterances,
		pipelineErrors: pipelineErrors,
	}
}

func (s *Service) Start() error {
	for subject, handler := range map[string]nats.MsgHandler{
		protocol.SubjectSessionOpen:  s.handleSessionOpen,
		protocol.SubjectSessionClose: s.handleSessionClose,
		protocol.SubjectUnlock:       s.handleUnlock,
		protocol.SubjectAsk:          s.handleAsk,
		protocol.SubjectCancel:       s.handleCancel,
	} {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.drainSubs()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drainSubs()

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			s.logger.Warn("session close failed", slog.String("session_id", sess.ID()), slogError(err))
		}
	}
	s.wg.Wait()
}

func (s *Service) drainSubs() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	return len(s.subs) == 5
}

// SessionCount reports the number of open sessions.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) handleSessionOpen(msg *nats.Msg) {
	var open protocol.SessionOpen
	if err := json.Unmarshal(msg.Data, &open); err != nil {
		s.logger.Warn("failed to decode session open", slogError(err))
		return
	}

	sessionID := open.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	if _, exists := s.sessions[sessionID]; exists {
		s.mu.Unlock()
		s.respond(msg, protocol.SessionOpen{SessionID: sessionID, ClientID: open.ClientID, Timestamp: time.Now().UTC()})
		return
	}
	sess := s.newSession(sessionID)
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	if err := s.store.AppendSession(s.ctx, sessionID, open.ClientID); err != nil {
		s.logger.Warn("failed to record session", slog.String("session_id", sessionID), slogError(err))
	}
	s.logger.Info("tutor session opened", slog.String("session_id", sessionID), slog.String("client_id", open.ClientID))
	s.respond(msg, protocol.SessionOpen{SessionID: sessionID, ClientID: open.ClientID, Timestamp: time.Now().UTC()})
}

func (s *Service) newSession(sessionID string) *Session {
	gate := playback.NewGate(s.sinkFactory(), s.logger)
	player := playback.NewController(gate, s.cfg.Playback.FramesPerBuffer, s.logger)

	voice := s.cfg.Tutor.Voice
	if voice == "" {
		voice = s.cfg.Synth.Voice
	}
	cfg := SessionConfig{
		MaxQuestions: s.cfg.Tutor.MaxQuestions,
		AskTimeout:   time.Duration(s.cfg.Tutor.AskTimeoutMS) * time.Millisecond,
		Voice:        voice,
		Format:       s.cfg.Synth.Format,
		System:       s.cfg.Explain.System,
		Model:        s.cfg.Explain.Model,
		MaxTokens:    s.cfg.Explain.MaxTokens,
		Temperature:  s.cfg.Explain.Temperature,
	}
	return NewSession(s.ctx, sessionID, cfg, s.streamer, s.synth, gate, player, s.sessionEvents(sessionID), s.logger)
}

func (s *Service) sinkFactory() playback.SinkFactory {
	pb := s.cfg.Playback
	if pb.Sink == "portaudio" {
		return func() (playback.Sink, error) {
			return playback.NewPortaudioSink(pb.SampleRate, pb.Channels, pb.FramesPerBuffer)
		}
	}
	return func() (playback.Sink, error) {
		return playback.NewNullSink(pb.SampleRate, pb.Channels), nil
	}
}

// sessionEvents bridges pipeline callbacks onto the bus and the
// timeline store.
func (s *Service) sessionEvents(sessionID string) Events {
	return Events{
		UtteranceText: func(seq int, text string) {
			evt := protocol.UtteranceText{SessionID: sessionID, Sequence: seq, Text: text, Timestamp: time.Now().UTC()}
			s.publish(protocol.SubjectUtteranceText, evt)
			s.record(sessionID, seq, "utterance.text", evt)
		},
		UtteranceStart: func(seq int) {
			evt := protocol.UtteranceStart{SessionID: sessionID, Sequence: seq, Timestamp: time.Now().UTC()}
			s.publish(protocol.SubjectUtteranceStart, evt)
			s.record(sessionID, seq, "utterance.start", evt)
		},
		UtteranceEnd: func(seq int, audioPlayed bool) {
			if audioPlayed {
				s.utterances.Add(s.ctx, 1)
			}
			evt := protocol.UtteranceEnd{SessionID: sessionID, Sequence: seq, AudioPlayed: audioPlayed, Timestamp: time.Now().UTC()}
			s.publish(protocol.SubjectUtteranceEnd, evt)
			s.record(sessionID, seq, "utterance.end", evt)
		},
		TurnComplete: func(utterances int) {
			evt := protocol.TurnComplete{SessionID: sessionID, Utterances: utterances, Timestamp: time.Now().UTC()}
			s.publish(protocol.SubjectTurnComplete, evt)
			s.record(sessionID, 0, "turn.complete", evt)
		},
		Error: func(kind ErrorKind, detail string) {
			s.pipelineErrors.Add(s.ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
			evt := protocol.TutorError{SessionID: sessionID, Kind: string(kind), Detail: detail, Timestamp: time.Now().UTC()}
			s.publish(protocol.SubjectError, evt)
			s.record(sessionID, 0, "error", evt)
		},
		LimitReached: func() {
			evt := protocol.LimitReached{
				SessionID:     sessionID,
				QuestionCount: s.cfg.Tutor.MaxQuestions,
				MaxQuestions:  s.cfg.Tutor.MaxQuestions,
				Timestamp:     time.Now().UTC(),
			}
			s.publish(protocol.SubjectLimitReached, evt)
			s.record(sessionID, 0, "limit.reached", evt)
		},
	}
}

func (s *Service) handleSessionClose(msg *nats.Msg) {
	var closeMsg protocol.SessionClose
	if err := json.Unmarshal(msg.Data, &closeMsg); err != nil {
		s.logger.Warn("failed to decode session close", slogError(err))
		return
	}

	s.mu.Lock()
	sess := s.sessions[closeMsg.SessionID]
	delete(s.sessions, closeMsg.SessionID)
	s.mu.Unlock()

	if sess == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := sess.Close(); err != nil {
			s.logger.Warn("session close failed", slog.String("session_id", closeMsg.SessionID), slogError(err))
		}
		s.logger.Info("tutor session closed", slog.String("session_id", closeMsg.SessionID))
	}()
}

func (s *Service) handleUnlock(msg *nats.Msg) {
	var unlock protocol.Unlock
	if err := json.Unmarshal(msg.Data, &unlock); err != nil {
		s.logger.Warn("failed to decode unlock", slogError(err))
		return
	}
	sess := s.lookup(unlock.SessionID)
	if sess == nil {
		s.logger.Warn("unlock for unknown session", slog.String("session_id", unlock.SessionID))
		return
	}
	if err := sess.Unlock(); err != nil {
		s.logger.Warn("audio unlock failed", slog.String("session_id", unlock.SessionID), slogError(err))
	}
}

func (s *Service) handleAsk(msg *nats.Msg) {
	var ask protocol.Ask
	if err := json.Unmarshal(msg.Data, &ask); err != nil {
		s.logger.Warn("failed to decode ask", slogError(err))
		return
	}
	sess := s.lookup(ask.SessionID)
	if sess == nil {
		s.logger.Warn("ask for unknown session", slog.String("session_id", ask.SessionID))
		return
	}

	question := ask.Question
	if ask.Context != "" {
		question = ask.Context + "\n\n" + question
	}
	if err := sess.Ask(question); err != nil {
		// limit rejections already published their event via the
		// session callback
		s.logger.Warn("ask rejected", slog.String("session_id", ask.SessionID), slogError(err))
		return
	}
	s.questionsAsked.Add(s.ctx, 1)
	if err := s.store.BumpQuestionCount(s.ctx, ask.SessionID); err != nil {
		s.logger.Warn("failed to record question", slog.String("session_id", ask.SessionID), slogError(err))
	}
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var cancel protocol.Cancel
	if err := json.Unmarshal(msg.Data, &cancel); err != nil {
		s.logger.Warn("failed to decode cancel", slogError(err))
		return
	}
	sess := s.lookup(cancel.SessionID)
	if sess == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Cancel()
		s.logger.Info("tutor turn cancelled", slog.String("session_id", cancel.SessionID))
	}()
}

func (s *Service) lookup(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

func (s *Service) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to encode event", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish event", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) record(sessionID string, seq int, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.store.AppendEvent(s.ctx, eventstore.Event{
		SessionID: sessionID,
		Sequence:  seq,
		Type:      eventType,
		Payload:   data,
	}); err != nil {
		s.logger.Warn("failed to record timeline event", slog.String("session_id", sessionID), slogError(err))
	}
}

func (s *Service) respond(msg *nats.Msg, payload any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to respond", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
