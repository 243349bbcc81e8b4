package synth

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"
)

type mockSynth struct {
	delay time.Duration
	clip  []byte
}

// NewMockSynth returns a Synthesizer that produces a short silent WAV
// clip after a fixed delay, for tests and audio-less development.
func NewMockSynth(delay time.Duration) Synthesizer {
	return &mockSynth{delay: delay, clip: silentWAV(800)}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}
	return m.clip, nil
}

// silentWAV builds a valid 16-bit mono 8 kHz WAV of the given sample
// count, all zeroes.
func silentWAV(samples int) []byte {
	const (
		sampleRate = 8000
		channels   = 1
		bitDepth   = 16
	)
	dataLen := samples * channels * bitDepth / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bitDepth/8))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitDepth/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitDepth))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
