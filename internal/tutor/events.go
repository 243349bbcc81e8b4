package tutor

// ErrorKind classifies recoverable pipeline failures for the client.
type ErrorKind string

const (
	ErrorKindStream          ErrorKind = "stream"
	ErrorKindSynthesis       ErrorKind = "synthesis"
	ErrorKindPlaybackBlocked ErrorKind = "playback_blocked"
	ErrorKindLimit           ErrorKind = "limit"
)

// Events is the callback surface the pipeline exposes to the enclosing
// UI. All fields are optional; callbacks fire from the turn goroutine,
// never concurrently with each other.
type Events struct {
	UtteranceText  func(seq int, text string)
	UtteranceStart func(seq int)
	UtteranceEnd   func(seq int, audioPlayed bool)
	TurnComplete   func(utterances int)
	Error          func(kind ErrorKind, detail string)
	LimitReached   func()
}

func (e Events) emitText(seq int, text string) {
	if e.UtteranceText != nil {
		e.UtteranceText(seq, text)
	}
}

func (e Events) emitStart(seq int) {
	if e.UtteranceStart != nil {
		e.UtteranceStart(seq)
	}
}

func (e Events) emitEnd(seq int, audioPlayed bool) {
	if e.UtteranceEnd != nil {
		e.UtteranceEnd(seq, audioPlayed)
	}
}

func (e Events) emitTurnComplete(utterances int) {
	if e.TurnComplete != nil {
		e.TurnComplete(utterances)
	}
}

func (e Events) emitError(kind ErrorKind, detail string) {
	if e.Error != nil {
		e.Error(kind, detail)
	}
}

func (e Events) emitLimitReached() {
	if e.LimitReached != nil {
		e.LimitReached()
	}
}
