package audiograph_test

import (
	"testing"
	"time"

	"github.com/kc9wx/linkcore/internal/audiograph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	samples [][]int16
	flushes int
}

func (c *captureSink) WriteSamples(s []int16) {
	cp := make([]int16, len(s))
	copy(cp, s)
	c.samples = append(c.samples, cp)
}
func (c *captureSink) Flush() { c.flushes++ }

func TestValveClosedDropsSamplesButForwardsFlush(t *testing.T) {
	v := audiograph.NewValve(false)
	cap := &captureSink{}
	v.SetSink(cap)

	v.WriteSamples([]int16{1, 2, 3})
	assert.Empty(t, cap.samples)

	v.Flush()
	assert.Equal(t, 1, cap.flushes)

	v.SetOpen(true)
	v.WriteSamples([]int16{1, 2, 3})
	require.Len(t, cap.samples, 1)
	assert.Equal(t, []int16{1, 2, 3}, cap.samples[0])
}

func TestSplitterDisabledSinkUnaffected(t *testing.T) {
	sp := audiograph.NewSplitter()
	a := &captureSink{}
	b := &captureSink{}
	sp.AddSink(a, true)
	hb := sp.AddSink(b, false)

	sp.WriteSamples([]int16{9})
	assert.Len(t, a.samples, 1)
	assert.Empty(t, b.samples)

	hb.SetEnabled(true)
	sp.WriteSamples([]int16{9})
	assert.Len(t, a.samples, 2)
	assert.Len(t, b.samples, 1)
}

func TestSelectorPriorityAndTieBreak(t *testing.T) {
	sel := audiograph.NewSelector()
	out := &captureSink{}
	sel.SetSink(out)

	low := sel.AddSource(10, true)
	high := sel.AddSource(20, true)
	first := sel.AddSource(10, true) // same prio as low, registered later

	low.SetActive(true)
	low.WriteSamples([]int16{1})
	require.Len(t, out.samples, 1)
	assert.Equal(t, []int16{1}, out.samples[0])

	// Higher priority preempts.
	high.SetActive(true)
	high.WriteSamples([]int16{2})
	low.WriteSamples([]int16{99}) // should be dropped, not selected anymore
	require.Len(t, out.samples, 2)
	assert.Equal(t, []int16{2}, out.samples[1])

	// High goes idle; low (registered first among equal prio) regains.
	high.SetActive(false)
	low.WriteSamples([]int16{3})
	first.SetActive(true) // same prio as low but registered later: should not preempt
	low.WriteSamples([]int16{4})
	require.GreaterOrEqual(t, len(out.samples), 4)
	assert.Equal(t, []int16{3}, out.samples[2])
	assert.Equal(t, []int16{4}, out.samples[3])
}

func TestFifoUnderrunPadsSilence(t *testing.T) {
	f := audiograph.NewFifo(4, 0)
	f.WriteSamples([]int16{1, 2, 3, 4})
	out := f.Read(4)
	assert.Equal(t, []int16{1, 2, 3, 4}, out)

	// Not primed again yet (buffer empty): Read before new prebuf pads silence.
	out = f.Read(4)
	assert.Equal(t, []int16{0, 0, 0, 0}, out)
	under, _ := f.Stats()
	assert.Greater(t, under, 0)
}

func TestFifoOverrunDropsOldest(t *testing.T) {
	f := audiograph.NewFifo(0, 4)
	f.WriteSamples([]int16{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 4, f.Buffered())
	_, over := f.Stats()
	assert.Equal(t, 2, over)
	out := f.Read(4)
	assert.Equal(t, []int16{3, 4, 5, 6}, out)
}

func TestStreamStateDetectorHangover(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	var events []bool
	ssdet := audiograph.NewStreamStateDetector(2*time.Second, clock)
	ssdet.OnChange(func(isActive, isIdle bool) { events = append(events, isActive) })

	ssdet.WriteSamples([]int16{1})
	require.Len(t, events, 1)
	assert.True(t, events[0])

	now = now.Add(1 * time.Second)
	ssdet.Poll(now)
	assert.True(t, ssdet.IsActive()) // hangover not yet elapsed

	now = now.Add(2 * time.Second)
	ssdet.Poll(now)
	assert.False(t, ssdet.IsActive())
	require.Len(t, events, 2)
	assert.False(t, events[1])
}
