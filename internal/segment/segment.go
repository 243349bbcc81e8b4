// Package segment turns an incrementally arriving text stream into an
// ordered sequence of complete sentences. Explanation text reaches the
// tutor pipeline in arbitrarily chunked deltas; the synthesis service
// wants one sentence at a time.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const terminators = ".!?"

// Segmenter accumulates text deltas and emits complete sentences. A
// sentence is the shortest prefix ending in '.', '!' or '?' plus any
// whitespace that directly follows it. The trailing fragment, if any,
// is emitted by Flush when the stream ends. A Segmenter serves exactly
// one stream; create a new one per turn.
type Segmenter struct {
	pending strings.Builder
	emitted int
	flushed bool
}

func New() *Segmenter {
	return &Segmenter{}
}

// Push appends a delta to the pending buffer and returns every sentence
// completed by it, trimmed, in order. Returns nil when no sentence
// boundary was reached yet.
func (s *Segmenter) Push(delta string) []string {
	if s.flushed || delta == "" {
		return nil
	}
	s.pending.WriteString(delta)

	var sentences []string
	buf := s.pending.String()
	for {
		i := strings.IndexAny(buf, terminators)
		if i < 0 {
			break
		}
		end := i + 1
		for end < len(buf) {
			r, size := utf8.DecodeRuneInString(buf[end:])
			if !unicode.IsSpace(r) {
				break
			}
			end += size
		}
		sentence := strings.TrimSpace(buf[:end])
		if sentence != "" {
			sentences = append(sentences, sentence)
			s.emitted++
		}
		buf = buf[end:]
	}

	s.pending.Reset()
	s.pending.WriteString(buf)
	return sentences
}

// Flush drains the unterminated tail of the stream. It returns the
// trimmed fragment and true when one exists. The segmenter accepts no
// further input afterwards.
func (s *Segmenter) Flush() (string, bool) {
	if s.flushed {
		return "", false
	}
	s.flushed = true
	tail := strings.TrimSpace(s.pending.String())
	s.pending.Reset()
	if tail == "" {
		return "", false
	}
	s.emitted++
	return tail, true
}

// Emitted reports how many sentences have been produced so far.
func (s *Segmenter) Emitted() int {
	return s.emitted
}

// PendingLen reports the size of the unsegmented tail, mainly for tests
// and diagnostics.
func (s *Segmenter) PendingLen() int {
	return s.pending.Len()
}
