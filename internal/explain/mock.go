package explain

import (
	"context"
	"strings"
	"time"
)

type mockStreamer struct{}

func NewMockStreamer() Streamer { return &mockStreamer{} }

func (m *mockStreamer) Stream(ctx context.Context, req Request, consumer func(Delta) error) error {
	content := "Good question! Let me explain " + strings.TrimSpace(req.Question) + " step by step."
	words := strings.SplitAfter(content, " ")
	for _, w := range words {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		if err := consumer(Delta{Content: w}); err != nil {
			return err
		}
	}
	return consumer(Delta{Final: true})
}
