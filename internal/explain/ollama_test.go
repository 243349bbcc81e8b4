package explain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaStreamDeltasInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, part := range []string{"Half ", "of ", "ten "} {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", part)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"response":"is five.","done":true}`)
	}))
	defer srv.Close()

	s := NewOllamaStreamer(srv.URL, "test-model")
	var got []Delta
	err := s.Stream(context.Background(), Request{Question: "What is half of ten?"}, func(d Delta) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 deltas, got %d", len(got))
	}
	if got[0].Content != "Half " || got[3].Content != "is five." {
		t.Fatalf("unexpected deltas: %+v", got)
	}
	if !got[3].Final {
		t.Fatal("last delta must carry the end-of-stream marker")
	}
}

func TestOllamaStreamServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewOllamaStreamer(srv.URL, "test-model")
	err := s.Stream(context.Background(), Request{Question: "why?"}, func(Delta) error { return nil })
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected *StreamError, got %v", err)
	}
}

func TestOllamaStreamTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
		// connection ends without a done marker
	}))
	defer srv.Close()

	s := NewOllamaStreamer(srv.URL, "test-model")
	err := s.Stream(context.Background(), Request{Question: "why?"}, func(Delta) error { return nil })
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected *StreamError for truncated stream, got %v", err)
	}
}

func TestMockStreamerEndsWithFinal(t *testing.T) {
	s := NewMockStreamer()
	var last Delta
	count := 0
	err := s.Stream(context.Background(), Request{Question: "what is a fraction?"}, func(d Delta) error {
		last = d
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if count == 0 || !last.Final {
		t.Fatalf("expected deltas ending in final marker, count=%d last=%+v", count, last)
	}
}
