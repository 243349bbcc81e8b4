package explain

import "context"

// Request describes one tutor question to explain.
type Request struct {
	SessionID   string
	Question    string
	Context     string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Delta is one increment of streamed explanation text. Final marks the
// explicit end-of-stream signal.
type Delta struct {
	Content string
	Final   bool
}

// Streamer is a pluggable explanation backend. Implementations call
// consumer once per delta, in order, and return once the stream ends or
// fails. A consumer error aborts the stream.
type Streamer interface {
	Stream(ctx context.Context, req Request, consumer func(Delta) error) error
}

// StreamError wraps a failed or disconnected explanation source. The
// session treats it as a clean abort of the current turn.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "explanation stream failed: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
