package protocol

import "time"

// SessionOpen requests a new tutor session for a quiz client.
type SessionOpen struct {
	SessionID string    `json:"session_id,omitempty"`
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionClose tears down a tutor session.
type SessionClose struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Unlock reports that the client performed the audio-unlock gesture.
type Unlock struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Ask submits one tutor question within a session.
type Ask struct {
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Cancel aborts the in-flight tutor turn for a session.
type Cancel struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// UtteranceText carries segmented sentence text for display.
type UtteranceText struct {
	SessionID string    `json:"session_id"`
	Sequence  int       `json:"sequence"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UtteranceStart marks the beginning of one utterance's playback attempt.
type UtteranceStart struct {
	SessionID string    `json:"session_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// UtteranceEnd marks one utterance as finished, with or without audio.
type UtteranceEnd struct {
	SessionID   string    `json:"session_id"`
	Sequence    int       `json:"sequence"`
	AudioPlayed bool      `json:"audio_played"`
	Timestamp   time.Time `json:"timestamp"`
}

// TurnComplete marks the end of one full ask/answer turn.
type TurnComplete struct {
	SessionID  string    `json:"session_id"`
	Utterances int       `json:"utterances"`
	Timestamp  time.Time `json:"timestamp"`
}

// TutorError surfaces a recoverable pipeline failure to the client.
type TutorError struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"` // stream, synthesis, playback_blocked, limit
	Detail    string    `json:"detail,omitempty"`
	Sequence  int       `json:"sequence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LimitReached tells the client the session has used all its questions.
type LimitReached struct {
	SessionID     string    `json:"session_id"`
	QuestionCount int       `json:"question_count"`
	MaxQuestions  int       `json:"max_questions"`
	Timestamp     time.Time `json:"timestamp"`
}

// ClientAnnounce registers a playback endpoint with the runtime.
type ClientAnnounce struct {
	ClientID  string    `json:"client_id"`
	Kind      string    `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientHeartbeat keeps a playback endpoint marked alive.
type ClientHeartbeat struct {
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSessionOpen  = "tutor.session.open"
	SubjectSessionClose = "tutor.session.close"
	SubjectUnlock       = "tutor.unlock"
	SubjectAsk          = "tutor.ask"
	SubjectCancel       = "tutor.cancel"

	SubjectUtteranceText  = "tutor.evt.utterance.text"
	SubjectUtteranceStart = "tutor.evt.utterance.start"
	SubjectUtteranceEnd   = "tutor.evt.utterance.end"
	SubjectTurnComplete   = "tutor.evt.turn.complete"
	SubjectError          = "tutor.evt.error"
	SubjectLimitReached   = "tutor.evt.limit"

	SubjectClientAnnounce        = "tutor.client.announce"
	SubjectClientHeartbeatPrefix = "tutor.client.heartbeat"
)
