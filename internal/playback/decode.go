package playback

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Clip is a decoded audio payload: little-endian 16-bit PCM.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// decode sniffs the payload container and decodes it to raw PCM. The
// synthesis service answers with WAV or MP3; both are handled here so
// the sink only ever sees PCM.
func decode(payload []byte) (Clip, error) {
	if len(payload) == 0 {
		return Clip{}, fmt.Errorf("empty audio payload")
	}
	if bytes.HasPrefix(payload, []byte("RIFF")) {
		return decodeWAV(payload)
	}
	return decodeMP3(payload)
}

func decodeWAV(payload []byte) (Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(payload))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil {
		return Clip{}, fmt.Errorf("decode wav: missing format")
	}

	shift := 0
	if buf.SourceBitDepth > 16 {
		shift = buf.SourceBitDepth - 16
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample>>shift)))
	}

	return Clip{
		PCM:        pcm,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

func decodeMP3(payload []byte) (Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(payload))
	if err != nil {
		return Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	// go-mp3 always emits 16-bit stereo.
	return Clip{
		PCM:        pcm,
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}
