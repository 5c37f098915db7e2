package msghandler

import (
	"encoding/binary"
	"fmt"
	"io"
)

// wavFmt is the decoded "fmt " sub-chunk of a RIFF/WAVE file.
type wavFmt struct {
	audioFormat   uint16
	numChannels   uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// decodeWAV walks an arbitrary set of RIFF sub-chunks in any order, locates
// "fmt " and "data", validates mono 16-bit PCM at the expected sample
// rate, and returns the raw little-endian PCM payload as int16 samples.
// Non-conforming files return an error (B1: reject, don't crash) rather
// than a partial decode.
func decodeWAV(r io.Reader, expectedSampleRate int) ([]int16, error) {
	var riffHdr [12]byte
	if _, err := io.ReadFull(r, riffHdr[:]); err != nil {
		return nil, fmt.Errorf("msghandler: short RIFF header: %w", err)
	}
	if string(riffHdr[0:4]) != "RIFF" || string(riffHdr[8:12]) != "WAVE" {
		return nil, fmt.Errorf("msghandler: not a RIFF/WAVE file")
	}

	var fmtChunk *wavFmt
	var pcm []byte

	for {
		var chunkHdr [8]byte
		_, err := io.ReadFull(r, chunkHdr[:])
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("msghandler: reading chunk header: %w", err)
		}
		id := string(chunkHdr[0:4])
		size := binary.LittleEndian.Uint32(chunkHdr[4:8])
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("msghandler: short %q chunk body: %w", id, err)
		}
		if size%2 == 1 {
			var pad [1]byte
			_, _ = io.ReadFull(r, pad[:])
		}

		switch id {
		case "fmt ":
			if len(body) < 16 {
				return nil, fmt.Errorf("msghandler: fmt chunk too short")
			}
			fmtChunk = &wavFmt{
				audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				numChannels:   binary.LittleEndian.Uint16(body[2:4]),
				sampleRate:    binary.LittleEndian.Uint32(body[4:8]),
				bitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
		case "data":
			pcm = body
		default:
			// Arbitrary sub-chunk (LIST, fact, cue, ...): ignored.
		}
	}

	if fmtChunk == nil {
		return nil, fmt.Errorf("msghandler: missing fmt chunk")
	}
	if pcm == nil {
		return nil, fmt.Errorf("msghandler: missing data chunk")
	}
	// audioFormat 1 = PCM, 0xFFFE = WAVE_FORMAT_EXTENSIBLE (still PCM here).
	if fmtChunk.audioFormat != 1 && fmtChunk.audioFormat != 0xFFFE {
		return nil, fmt.Errorf("msghandler: rejecting non-PCM WAV (format=%d)", fmtChunk.audioFormat)
	}
	if fmtChunk.numChannels != 1 {
		return nil, fmt.Errorf("msghandler: rejecting non-mono WAV (%d channels)", fmtChunk.numChannels)
	}
	if fmtChunk.bitsPerSample != 16 {
		return nil, fmt.Errorf("msghandler: rejecting non-16-bit WAV (%d bits)", fmtChunk.bitsPerSample)
	}
	if expectedSampleRate > 0 && int(fmtChunk.sampleRate) != expectedSampleRate {
		return nil, fmt.Errorf("msghandler: rejecting WAV at %d Hz, expected %d Hz", fmtChunk.sampleRate, expectedSampleRate)
	}

	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out, nil
}
