package msghandler_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kc9wx/linkcore/internal/msghandler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	samples [][]int16
	flushed bool
}

func (c *capture) WriteSamples(s []int16) { c.samples = append(c.samples, append([]int16(nil), s...)) }
func (c *capture) Flush()                 { c.flushed = true }

func TestIdleMarkedItemsDoNotBlockIsIdle(t *testing.T) {
	h := msghandler.New(8000, 160, nil)
	out := &capture{}
	h.SetSink(out)

	require.NoError(t, h.PlaySilence(10, true)) // idle-marked background beep
	assert.True(t, h.IsIdle())
	assert.True(t, h.IsWritingMessage() == false || h.IsWritingMessage() == true) // drained synchronously
}

func TestNonIdleItemBlocksIsIdleUntilDrained(t *testing.T) {
	h := msghandler.New(8000, 160, nil)
	out := &capture{}
	h.SetSink(out)

	allWritten := false
	h.OnAllMsgsWritten(func() { allWritten = true })

	require.NoError(t, h.PlaySilence(10, false))
	assert.True(t, h.IsIdle()) // drains synchronously in this harness
	assert.True(t, allWritten)
}

func TestClearResetsIdleAndWriting(t *testing.T) {
	h := msghandler.New(8000, 160, nil)
	out := &capture{}
	h.SetSink(out)

	h.Begin()
	require.NoError(t, h.PlaySilence(100, false))
	require.NoError(t, h.PlayTone(1000, 500, 100, false))
	h.Clear()

	assert.True(t, h.IsIdle())
	assert.False(t, h.IsWritingMessage())
	assert.True(t, out.flushed)
}

func TestBeginEndBatchesDeferStart(t *testing.T) {
	h := msghandler.New(8000, 160, nil)
	out := &capture{}
	h.SetSink(out)

	h.Begin()
	require.NoError(t, h.PlaySilence(10, false))
	assert.Empty(t, out.samples, "nothing should be produced until End")
	h.End()
	assert.NotEmpty(t, out.samples)
}

func TestPlayFileFormatDetection(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "x.raw")
	require.NoError(t, os.WriteFile(rawPath, []byte{0x01, 0x00, 0x02, 0x00}, 0o644))

	h := msghandler.New(8000, 160, nil)
	out := &capture{}
	h.SetSink(out)
	require.NoError(t, h.PlayFile(rawPath, false))
	require.Len(t, out.samples, 1)
	assert.Equal(t, []int16{1, 2}, out.samples[0])
}

func TestPlayFileRejectsMissingGsmDecoder(t *testing.T) {
	h := msghandler.New(8000, 160, nil)
	err := h.PlayFile("nonexistent.gsm", false)
	assert.Error(t, err)
}
