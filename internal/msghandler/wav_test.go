package msghandler

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildWAV(channels, bits uint16, rate uint32, extraChunk bool, samples []int16) []byte {
	var data bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&data, binary.LittleEndian, s)
	}

	var fmtBody bytes.Buffer
	_ = binary.Write(&fmtBody, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&fmtBody, binary.LittleEndian, channels)
	_ = binary.Write(&fmtBody, binary.LittleEndian, rate)
	byteRate := rate * uint32(channels) * uint32(bits) / 8
	_ = binary.Write(&fmtBody, binary.LittleEndian, byteRate)
	blockAlign := channels * bits / 8
	_ = binary.Write(&fmtBody, binary.LittleEndian, blockAlign)
	_ = binary.Write(&fmtBody, binary.LittleEndian, bits)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	var riffSize uint32
	_ = binary.Write(&buf, binary.LittleEndian, riffSize) // placeholder
	buf.WriteString("WAVE")

	if extraChunk {
		buf.WriteString("LIST")
		extra := []byte("hello!")
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(extra)))
		buf.Write(extra)
	}

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(fmtBody.Len()))
	buf.Write(fmtBody.Bytes())

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	return out
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	samples := []int16{100, -200, 300, -400}
	wav := buildWAV(1, 16, 8000, true, samples)
	got, err := decodeWAV(bytes.NewReader(wav), 8000)
	require.NoError(t, err)
	assert.Equal(t, samples, got)
}

func TestDecodeWAVRejectsStereo(t *testing.T) {
	wav := buildWAV(2, 16, 8000, false, []int16{1, 2, 3, 4})
	_, err := decodeWAV(bytes.NewReader(wav), 8000)
	assert.Error(t, err)
}

func TestDecodeWAVRejectsSampleRateMismatch(t *testing.T) {
	wav := buildWAV(1, 16, 44100, false, []int16{1, 2, 3, 4})
	_, err := decodeWAV(bytes.NewReader(wav), 8000)
	assert.Error(t, err)
}

func TestDecodeWAVRejectsNonPCM(t *testing.T) {
	wav := buildWAV(1, 16, 8000, false, []int16{1, 2})
	// Flip the audio format field (first two bytes of fmt body) to
	// something non-PCM. Locate "fmt ", skip its 4-byte chunk size, and
	// overwrite the 2-byte format field.
	idx := bytes.Index(wav, []byte("fmt "))
	require.True(t, idx >= 0)
	binary.LittleEndian.PutUint16(wav[idx+8:idx+10], 3) // IEEE float
	_, err := decodeWAV(bytes.NewReader(wav), 8000)
	assert.Error(t, err)
}
