package synth

import (
	"context"
	"fmt"
)

// Request contains parameters for synthesizing one sentence.
type Request struct {
	SessionID string
	Text      string
	Voice     string
	Format    string
}

// Synthesizer is the contract for producing one audio payload per
// sentence. Implementations must honour ctx cancellation so an
// in-flight request can be aborted by the owning dispatcher.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// Error wraps any synthesis failure: transport errors, timeouts and
// non-success responses. Per-sentence failures are non-fatal to the
// pipeline; callers match with errors.As.
type Error struct {
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("synthesis failed with status %d", e.Status)
	}
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
