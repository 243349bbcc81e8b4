package playback

import "time"

// Sink is an opened audio output device. Implementations accept
// little-endian 16-bit PCM frames.
type Sink interface {
	Start() error
	Write(pcm []byte) error
	Stop() error
	Close() error
}

// SinkFactory lazily creates the output device. The gate calls it once,
// on the first unlock.
type SinkFactory func() (Sink, error)

// nullSink discards samples while pacing writes in real time, so the
// pipeline behaves identically with and without audio hardware.
type nullSink struct {
	sampleRate int
	channels   int
}

func NewNullSink(sampleRate, channels int) Sink {
	return &nullSink{sampleRate: sampleRate, channels: channels}
}

func (n *nullSink) Start() error { return nil }

func (n *nullSink) Write(pcm []byte) error {
	samples := len(pcm) / 2
	if samples == 0 {
		return nil
	}
	frames := samples / n.channels
	time.Sleep(time.Duration(frames) * time.Second / time.Duration(n.sampleRate))
	return nil
}

func (n *nullSink) Stop() error  { return nil }
func (n *nullSink) Close() error { return nil }
