// Package audio holds the PCM format used across the orchestrator and the WAV
// encoding of recorded and synthesized speech.
package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// Capture format: mono signed 16-bit little-endian at 16 kHz.
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
)

// Format returns the beep format of mono s16 PCM at rate.
func Format(rate int) beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(rate),
		NumChannels: Channels,
		Precision:   BytesPerSample,
	}
}

// pcmStreamer streams mono s16le PCM as beep samples.
type pcmStreamer struct {
	pcm []byte
	pos int
}

// NewPCMStreamer wraps s16le mono PCM. A trailing odd byte is ignored.
func NewPCMStreamer(pcm []byte) beep.Streamer {
	return &pcmStreamer{pcm: pcm[:len(pcm)&^1]}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.pcm) {
		return 0, false
	}
	n := 0
	for n < len(samples) && s.pos+1 < len(s.pcm) {
		v := float64(int16(binary.LittleEndian.Uint16(s.pcm[s.pos:]))) / 32768.0
		samples[n][0] = v
		samples[n][1] = v
		s.pos += 2
		n++
	}
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

// Concat joins captured PCM blocks in order.
func Concat(frames [][]byte) []byte {
	size := 0
	for _, f := range frames {
		size += len(f)
	}
	out := make([]byte, 0, size)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// WriteWAV encodes mono s16le PCM at rate into a WAV file at path.
func WriteWAV(path string, pcm []byte, rate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create wav dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := wav.Encode(f, NewPCMStreamer(pcm), Format(rate)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("encode wav: %w", err)
	}
	return f.Close()
}

// Duration returns the playing time of mono s16le PCM at rate.
func Duration(pcm []byte, rate int) float64 {
	return float64(len(pcm)/BytesPerSample) / float64(rate)
}

// ReadWAV decodes a WAV file into mono s16le PCM, averaging stereo channels.
func ReadWAV(path string) ([]byte, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	s, format, err := wav.Decode(f)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
	}
	defer s.Close()

	var out []byte
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		for _, smp := range buf[:n] {
			v := (smp[0] + smp[1]) / 2
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(v*32767)))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, beep.Format{}, fmt.Errorf("stream wav: %w", err)
	}
	return out, format, nil
}
