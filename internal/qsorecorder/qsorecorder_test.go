package qsorecorder_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kc9wx/linkcore/internal/qsorecorder"
)

func TestStartWriteStopKeepsChunkAboveMinSamples(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1700000000, 0)
	r := qsorecorder.New(qsorecorder.Config{
		LogicName:  "Repeater",
		Dir:        dir,
		MinSamples: 10,
	}, func() time.Time { return now })

	require.NoError(t, r.Start("", 0))
	r.WriteSamples(make([]int16, 160))
	now = now.Add(20 * time.Millisecond)
	require.NoError(t, r.Stop())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "qsorec_Repeater_")
	assert.NotContains(t, entries[0].Name(), ".qsorec_")
}

func TestShortChunkBelowMinSamplesIsDeleted(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1700000000, 0)
	r := qsorecorder.New(qsorecorder.Config{
		LogicName:  "Repeater",
		Dir:        dir,
		MinSamples: 1000,
	}, func() time.Time { return now })

	require.NoError(t, r.Start("", 0))
	r.WriteSamples(make([]int16, 10))
	require.NoError(t, r.Stop())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}

func TestPollRollsOnHardChunk(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1700000000, 0)
	r := qsorecorder.New(qsorecorder.Config{
		LogicName:  "Repeater",
		Dir:        dir,
		HardChunk:  1 * time.Second,
		MinSamples: 1,
	}, func() time.Time { return now })

	require.NoError(t, r.Start("", 0))
	r.WriteSamples(make([]int16, 160))

	now = now.Add(2 * time.Second)
	r.Poll(now)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	finalised := 0
	inProgress := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".wav" {
			continue
		}
		if e.Name()[0] == '.' {
			inProgress++
		} else {
			finalised++
		}
	}
	assert.Equal(t, 1, finalised)
	assert.Equal(t, 1, inProgress) // Poll's roll immediately starts the next chunk
}

func TestEvictionRemovesOldestWhenOverDirByteCeiling(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1700000000, 0)

	write := func(name string, size int, mtime time.Time) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	write("qsorec_Repeater_old1.wav", 100, base)
	write("qsorec_Repeater_old2.wav", 100, base.Add(time.Minute))

	now := base.Add(2 * time.Minute)
	r := qsorecorder.New(qsorecorder.Config{
		LogicName:  "Repeater",
		Dir:        dir,
		MinSamples: 1,
		MaxDirByte: 500,
	}, func() time.Time { return now })

	require.NoError(t, r.Start("", 0))
	r.WriteSamples(make([]int16, 160))
	require.NoError(t, r.Stop())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.NotContains(t, names, "qsorec_Repeater_old1.wav")
}
