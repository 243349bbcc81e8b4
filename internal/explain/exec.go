package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execStreamer struct {
	cmd []string
	mu  sync.Mutex
}

type execPayload struct {
	Question    string  `json:"question"`
	Context     string  `json:"context,omitempty"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type execResult struct {
	Content string `json:"content"`
}

// NewExecStreamer wraps an external command as an explanation source.
// The whole answer arrives at once and is replayed as a single delta.
func NewExecStreamer(command string) (Streamer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse explain command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("explain command empty")
	}
	return &execStreamer{cmd: args}, nil
}

func (g *execStreamer) Stream(ctx context.Context, req Request, consumer func(Delta) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(execPayload{
		Question:    req.Question,
		Context:     req.Context,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return &StreamError{Err: err}
	}

	base := g.cmd[0]
	args := append([]string{}, g.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &StreamError{Err: fmt.Errorf("explain exec command failed: %w", err)}
	}

	var result execResult
	if err := json.Unmarshal(bytes.TrimSpace(output), &result); err != nil {
		return &StreamError{Err: fmt.Errorf("decode explain exec response: %w", err)}
	}
	if result.Content != "" {
		if err := consumer(Delta{Content: result.Content}); err != nil {
			return err
		}
	}
	return consumer(Delta{Final: true})
}
