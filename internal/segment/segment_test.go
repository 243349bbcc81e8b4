package segment

import (
	"strings"
	"testing"
)

func collect(t *testing.T, deltas []string) []string {
	t.Helper()
	seg := New()
	var out []string
	for _, d := range deltas {
		out = append(out, seg.Push(d)...)
	}
	if tail, ok := seg.Flush(); ok {
		out = append(out, tail)
	}
	return out
}

func TestTwoSentencesAcrossDeltas(t *testing.T) {
	got := collect(t, []string{"Remember PEMDAS! ", "Multiply first, then add."})
	want := []string{"Remember PEMDAS!", "Multiply first, then add."}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: want %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSentenceSplitAcrossChunkBoundary(t *testing.T) {
	got := collect(t, []string{"Divi", "de both si", "des by two. Then chec", "k your answer!"})
	want := []string{"Divide both sides by two.", "Then check your answer!"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestMultipleSentencesInOneDelta(t *testing.T) {
	seg := New()
	got := seg.Push("One. Two! Three? Four")
	want := []string{"One.", "Two!", "Three?"}
	if len(got) != 3 {
		t.Fatalf("expected 3 sentences, got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: want %q, got %q", i, want[i], got[i])
		}
	}
	tail, ok := seg.Flush()
	if !ok || tail != "Four" {
		t.Fatalf("expected flushed fragment \"Four\", got %q (ok=%v)", tail, ok)
	}
}

func TestFlushWithoutTerminalPunctuation(t *testing.T) {
	seg := New()
	if got := seg.Push("just a fragment with no ending"); got != nil {
		t.Fatalf("expected no sentences yet, got %v", got)
	}
	tail, ok := seg.Flush()
	if !ok || tail != "just a fragment with no ending" {
		t.Fatalf("unexpected flush result: %q (ok=%v)", tail, ok)
	}
	// flush is terminal
	if _, ok := seg.Flush(); ok {
		t.Fatal("second flush must yield nothing")
	}
	if got := seg.Push("more."); got != nil {
		t.Fatalf("push after flush must be ignored, got %v", got)
	}
}

func TestFlushEmptyTail(t *testing.T) {
	seg := New()
	seg.Push("Done. ")
	if _, ok := seg.Flush(); ok {
		t.Fatal("expected nothing to flush after clean terminator")
	}
}

func TestWhitespaceOnlyInput(t *testing.T) {
	seg := New()
	if got := seg.Push("   \n\t "); got != nil {
		t.Fatalf("expected no sentences, got %v", got)
	}
	if _, ok := seg.Flush(); ok {
		t.Fatal("whitespace-only stream must flush nothing")
	}
}

func TestConsecutiveTerminators(t *testing.T) {
	got := collect(t, []string{"Wait?! Really."})
	want := []string{"Wait?", "!", "Really."}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: want %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSequenceCountMatchesEmitted(t *testing.T) {
	seg := New()
	total := 0
	total += len(seg.Push("A. B. "))
	total += len(seg.Push("C"))
	if _, ok := seg.Flush(); ok {
		total++
	}
	if total != 3 {
		t.Fatalf("expected 3 sentences, got %d", total)
	}
	if seg.Emitted() != 3 {
		t.Fatalf("emitted count mismatch: %d", seg.Emitted())
	}
}

// Concatenating the emitted sentences must reproduce the input text
// modulo whitespace at sentence boundaries, for any chunking.
func TestConcatenationProperty(t *testing.T) {
	input := "Area is length times width. So a 3 by 4 rectangle? It has area 12! Try one yourself now"
	chunkings := [][]string{
		{input},
		splitEvery(input, 1),
		splitEvery(input, 3),
		splitEvery(input, 7),
		splitEvery(input, 16),
	}
	wantNorm := strings.Join(strings.Fields(input), " ")
	for i, deltas := range chunkings {
		got := collect(t, deltas)
		gotNorm := strings.Join(strings.Fields(strings.Join(got, " ")), " ")
		if gotNorm != wantNorm {
			t.Fatalf("chunking %d: reassembled %q, want %q", i, gotNorm, wantNorm)
		}
	}
}

func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	return append(parts, s)
}
