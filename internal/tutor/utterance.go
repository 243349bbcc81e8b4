package tutor

// Status tracks one utterance through its lifecycle. The success path
// is Pending → Fetching → Ready → Playing → Played; a synthesis or
// playback failure parks it at Failed. Failed is terminal: the sentence
// stays visible as text and is never retried.
type Status int

const (
	StatusPending Status = iota
	StatusFetching
	StatusReady
	StatusPlaying
	StatusPlayed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFetching:
		return "fetching"
	case StatusReady:
		return "ready"
	case StatusPlaying:
		return "playing"
	case StatusPlayed:
		return "played"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Utterance is one sentence-sized unit of text paired with its
// synthesis/playback status. Owned exclusively by the dispatcher that
// created it; Status may be read freely once the dispatcher's run has
// finished.
type Utterance struct {
	Seq    int
	Text   string
	Status Status
}
