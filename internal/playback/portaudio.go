package playback

import (
	"encoding/binary"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

type portaudioSink struct {
	stream      *portaudio.Stream
	audioBuffer []int16
	channels    int
}

// NewPortaudioSink opens the default output device. Terminate pairs
// with the Initialize here and runs on Close.
func NewPortaudioSink(sampleRate, channels, framesPerBuffer int) (Sink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	buffer := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), framesPerBuffer, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}

	return &portaudioSink{
		stream:      stream,
		audioBuffer: buffer,
		channels:    channels,
	}, nil
}

func (p *portaudioSink) Start() error {
	return p.stream.Start()
}

func (p *portaudioSink) Write(pcm []byte) error {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}

	for len(samples) > 0 {
		n := copy(p.audioBuffer, samples)
		for i := n; i < len(p.audioBuffer); i++ {
			p.audioBuffer[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			return err
		}
		samples = samples[n:]
	}
	return nil
}

func (p *portaudioSink) Stop() error {
	return p.stream.Stop()
}

func (p *portaudioSink) Close() error {
	err := p.stream.Close()
	portaudio.Terminate()
	return err
}
