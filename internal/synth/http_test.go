package synth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSynthesizeSuccess(t *testing.T) {
	var gotReq httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("fake-mp3-bytes"))
	}))
	defer srv.Close()

	s := NewHTTPSynth(srv.URL, 5*time.Second)
	audio, err := s.Synthesize(context.Background(), Request{Text: "Two plus two is four.", Voice: "kid", Format: "mp3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "fake-mp3-bytes" {
		t.Fatalf("unexpected payload: %q", audio)
	}
	if gotReq.Text != "Two plus two is four." || gotReq.Voice != "kid" || gotReq.Format != "mp3" {
		t.Fatalf("unexpected request sent: %+v", gotReq)
	}
}

func TestHTTPSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPSynth(srv.URL, 5*time.Second)
	_, err := s.Synthesize(context.Background(), Request{Text: "hello."})
	var synthErr *Error
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if synthErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", synthErr.Status)
	}
}

func TestHTTPSynthesizeEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSynth(srv.URL, 5*time.Second)
	_, err := s.Synthesize(context.Background(), Request{Text: "hello."})
	var synthErr *Error
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected *Error for empty payload, got %v", err)
	}
}

func TestHTTPSynthesizeCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewHTTPSynth(srv.URL, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := s.Synthesize(ctx, Request{Text: "never finishes."})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("synthesize did not return after cancellation")
	}
}

func TestHTTPSynthesizeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := NewHTTPSynth(srv.URL, 50*time.Millisecond)
	_, err := s.Synthesize(context.Background(), Request{Text: "slow."})
	var synthErr *Error
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected timeout mapped to *Error, got %v", err)
	}
}
