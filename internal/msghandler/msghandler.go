// Package msghandler serialises prompt playback (raw/WAV/GSM audio,
// silence, tones, DTMF synthesis) onto an audio source with correct
// idle/active accounting, per spec §4.2.
package msghandler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kc9wx/linkcore/internal/audiograph"
)

// ItemKind identifies what a queued MsgQueueItem produces.
type ItemKind int

const (
	KindRaw ItemKind = iota
	KindWav
	KindGsm
	KindSilence
	KindTone
	KindDtmf
)

// GsmDecoder decodes GSM 06.10 full-rate frames (160 samples/frame) into
// PCM. The codec itself is an external collaborator per spec §1
// non-goals; MsgHandler only calls through this interface.
type GsmDecoder interface {
	DecodeFile(path string) ([]int16, error)
}

// Item is one queued playback unit. Once enqueued it is produced to
// completion unless Clear() aborts the whole queue (Data Model: MsgQueueItem).
type Item struct {
	Kind       ItemKind
	Path       string // raw/wav/gsm
	Ms         int    // silence/tone/dtmf duration
	FreqHz     float64
	Digit      byte
	AmpPermille int
	IdleMarked bool

	samples []int16 // resolved at production time
	pos     int
}

// MsgHandler serialises Item playback onto a downstream audiograph.Sink,
// tracking the non-idle item count so IsIdle reflects invariant 1 of §8:
// isIdle ⇔ non-idle-count == 0.
type MsgHandler struct {
	downstream   audiograph.Sink
	gsm          GsmDecoder
	sampleRate   int
	frameLen     int
	queue        []*Item
	nonIdleCount int
	batchDepth   int
	playing      bool
	onAllWritten func()
}

// New returns a MsgHandler producing frames of frameLen samples at
// sampleRate into downstream (which may be rewired later with SetSink).
func New(sampleRate, frameLen int, gsm GsmDecoder) *MsgHandler {
	return &MsgHandler{
		downstream: audiograph.Discard,
		gsm:        gsm,
		sampleRate: sampleRate,
		frameLen:   frameLen,
	}
}

// SetSink rewires the downstream sink the queue is produced onto.
func (h *MsgHandler) SetSink(sink audiograph.Sink) {
	if sink == nil {
		sink = audiograph.Discard
	}
	h.downstream = sink
}

// OnAllMsgsWritten registers the callback fired once the queue drains to
// empty (the "allMsgsWritten" event of §4.2).
func (h *MsgHandler) OnAllMsgsWritten(fn func()) {
	h.onAllWritten = fn
}

// Begin defers starting playback until a matching End, so a caller can
// stage several items atomically (§4.5, §9: "coroutine-style begin/end").
// Nested Begin/End pairs are counted; playback only starts once the
// outermost End fires.
func (h *MsgHandler) Begin() {
	h.batchDepth++
}

// End closes one Begin. Once the outermost batch closes, staged items
// start producing.
func (h *MsgHandler) End() {
	if h.batchDepth > 0 {
		h.batchDepth--
	}
	if h.batchDepth == 0 {
		h.pump()
	}
}

func (h *MsgHandler) enqueue(item *Item) error {
	if err := h.resolve(item); err != nil {
		return err
	}
	h.queue = append(h.queue, item)
	if !item.IdleMarked {
		h.nonIdleCount++
	}
	if h.batchDepth == 0 {
		h.pump()
	}
	return nil
}

// PlayFile enqueues path, format-detected by extension: ".gsm" decodes
// GSM full-rate at 160 samples/frame, ".wav" parses RIFF/WAVE mono 16-bit
// PCM at the handler's sample rate, anything else is raw 16-bit PCM.
func (h *MsgHandler) PlayFile(path string, idleMarked bool) error {
	kind := KindRaw
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gsm":
		kind = KindGsm
	case ".wav":
		kind = KindWav
	}
	return h.enqueue(&Item{Kind: kind, Path: path, IdleMarked: idleMarked})
}

// PlaySilence enqueues ms milliseconds of silence.
func (h *MsgHandler) PlaySilence(ms int, idleMarked bool) error {
	return h.enqueue(&Item{Kind: KindSilence, Ms: ms, IdleMarked: idleMarked})
}

// PlayTone enqueues ms milliseconds of a fqHz sine tone at amp/1000 of
// full scale.
func (h *MsgHandler) PlayTone(fqHz float64, amplPermille, ms int, idleMarked bool) error {
	return h.enqueue(&Item{Kind: KindTone, FreqHz: fqHz, AmpPermille: amplPermille, Ms: ms, IdleMarked: idleMarked})
}

// PlayDtmf enqueues ms milliseconds of the synthesized DTMF digit.
func (h *MsgHandler) PlayDtmf(digit byte, amplPermille, ms int, idleMarked bool) error {
	return h.enqueue(&Item{Kind: KindDtmf, Digit: digit, AmpPermille: amplPermille, Ms: ms, IdleMarked: idleMarked})
}

// Clear aborts everything: the queue is emptied, the nonIdleCount is
// reset to zero, and the downstream fifo is flushed (R4: IsIdle()=true
// and IsWritingMessage()=false afterward).
func (h *MsgHandler) Clear() {
	h.queue = nil
	h.nonIdleCount = 0
	h.playing = false
	h.downstream.Flush()
}

// IsIdle is true iff no non-idle-marked item is pending (invariant 1).
func (h *MsgHandler) IsIdle() bool {
	return h.nonIdleCount == 0
}

// IsWritingMessage is true iff any item (idle-marked or not) is pending.
func (h *MsgHandler) IsWritingMessage() bool {
	return len(h.queue) > 0
}

func (h *MsgHandler) resolve(item *Item) error {
	switch item.Kind {
	case KindRaw:
		data, err := os.ReadFile(item.Path)
		if err != nil {
			return fmt.Errorf("msghandler: read raw %s: %w", item.Path, err)
		}
		n := len(data) / 2
		samples := make([]int16, n)
		for i := 0; i < n; i++ {
			samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
		}
		item.samples = samples
	case KindWav:
		f, err := os.Open(item.Path)
		if err != nil {
			return fmt.Errorf("msghandler: open wav %s: %w", item.Path, err)
		}
		defer f.Close()
		samples, err := decodeWAV(f, h.sampleRate)
		if err != nil {
			return fmt.Errorf("msghandler: %s: %w", item.Path, err)
		}
		item.samples = samples
	case KindGsm:
		if h.gsm == nil {
			return fmt.Errorf("msghandler: no GSM decoder configured for %s", item.Path)
		}
		samples, err := h.gsm.DecodeFile(item.Path)
		if err != nil {
			return fmt.Errorf("msghandler: gsm %s: %w", item.Path, err)
		}
		item.samples = samples
	case KindSilence:
		item.samples = synthSilence(item.Ms)
	case KindTone:
		item.samples = synthTone(item.FreqHz, item.AmpPermille, item.Ms)
	case KindDtmf:
		item.samples = synthDTMF(item.Digit, item.AmpPermille, item.Ms)
	}
	return nil
}

// pump drives production of queued items until the queue is empty or the
// batch is re-opened by a nested Begin during a callback. Because the
// runtime is single-threaded and cooperative (§5), this produces
// everything synchronously rather than pacing to wall-clock time; a real
// deployment paces via the audiograph.Pacer sitting downstream.
func (h *MsgHandler) pump() {
	h.playing = true
	for len(h.queue) > 0 {
		item := h.queue[0]
		h.downstream.WriteSamples(item.samples)
		h.queue = h.queue[1:]
		if !item.IdleMarked {
			h.nonIdleCount--
		}
	}
	h.playing = false
	if h.onAllWritten != nil {
		h.onAllWritten()
	}
}
