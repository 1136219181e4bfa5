package audio

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

func TestWriteReadWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "turn.wav")
	in := Concat([][]byte{pcmOf(0, 1000, -1000), pcmOf(16000, -16000)})

	require.NoError(t, WriteWAV(path, in, SampleRate))

	out, format, err := ReadWAV(path)
	require.NoError(t, err)
	assert.EqualValues(t, SampleRate, format.SampleRate)
	assert.Equal(t, 1, format.NumChannels)
	require.Len(t, out, len(in))
	for i := 0; i < len(in); i += 2 {
		want := int16(binary.LittleEndian.Uint16(in[i:]))
		got := int16(binary.LittleEndian.Uint16(out[i:]))
		assert.InDelta(t, want, got, 2, "sample %d", i/2)
	}
}

func TestPCMStreamerIgnoresOddByte(t *testing.T) {
	s := NewPCMStreamer([]byte{0x00, 0x40, 0x01})
	buf := make([][2]float64, 4)
	n, ok := s.Stream(buf)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.5, buf[0][0], 1e-9)
	_, ok = s.Stream(buf)
	assert.False(t, ok)
}

func TestDuration(t *testing.T) {
	assert.InDelta(t, 2.0, Duration(make([]byte, 64000), SampleRate), 1e-9)
}

func TestReadWAVMissing(t *testing.T) {
	_, _, err := ReadWAV(filepath.Join(t.TempDir(), "nope.wav"))
	assert.Error(t, err)
}
