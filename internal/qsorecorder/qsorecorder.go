// Package qsorecorder implements §4.13's priority-fed rolling WAV
// recorder: a dotfile-named in-progress chunk is rolled on a soft/hard
// duration limit, renamed with begin/end timestamps iff it cleared the
// minimum-sample floor, and the recording directory is evicted of its
// oldest qsorec_* files once their cumulative size passes a ceiling.
//
// The WAV header framing is grounded on flowpbx-flowpbx's
// media.Recorder/writeRecorderWAVHeader (internal/media/recorder.go):
// a fixed-size placeholder header written up front, rewritten in place
// with the final data size on close. This recorder differs in payload
// (16-bit PCM, not G.711) and in being driven by the single-threaded
// event loop's Poll instead of its own goroutine+channel.
package qsorecorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/kc9wx/linkcore/internal/audiograph"
)

const (
	wavHeaderSize  = 44
	sampleRateHz   = 8000
	bitsPerSample  = 16
	channels       = 1
	defaultMaxDirB = 1 << 30 // 1 GiB
)

// Config configures one recorder instance, one per logic.
type Config struct {
	LogicName string
	Dir       string

	HardChunk time.Duration // absolute chunk ceiling
	SoftChunk time.Duration // roll on next idle after this, else at HardChunk

	MinSamples int   // below this, the chunk is deleted instead of kept
	MaxDirByte int64 // directory eviction ceiling; 0 uses defaultMaxDirB

	// EncoderCmd, if non-empty, is a shell command spawned (under nice)
	// once a chunk is finalised, with %f/%d/%b/%n substituted for the
	// file path, directory, base name (no extension) and logic name.
	EncoderCmd string
	EncoderNice int
}

// Recorder is a RecorderController (internal/logic.RecorderController)
// feeding a priority selector: audiograph wires the winning source's
// samples into Recorder via WriteSamples, and Poll rolls the chunk on its
// own schedule.
type Recorder struct {
	cfg Config
	now func() time.Time
	log *log.Logger

	file        *os.File
	tmpPath     string
	beginAt     time.Time
	dataBytes   uint32
	samples     int
	idle        bool
	softReached bool

	selIn *audiograph.SelectorInput // optional: wired as the selected sink's input
}

// New constructs a Recorder. now defaults to time.Now; logger defaults to
// a child of the package default logger tagged with the logic name.
func New(cfg Config, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	if cfg.MaxDirByte == 0 {
		cfg.MaxDirByte = defaultMaxDirB
	}
	return &Recorder{
		cfg: cfg,
		now: now,
		log: log.Default().With("subsystem", "qsorecorder", "logic", cfg.LogicName),
	}
}

// SetSelectorInput lets the caller observe the priority selector's idle
// state (used by Poll's soft-chunk roll-on-idle rule) without the
// recorder itself owning the selector.
func (r *Recorder) SetSelectorInput(in *audiograph.SelectorInput) {
	r.selIn = in
}

// Start begins a new in-progress recording. path is ignored if empty; a
// dotfile name under cfg.Dir is generated instead, matching the "dotfile
// in-progress" rule. maxMs is accepted but not used; the recording is
// not capped by it.
func (r *Recorder) Start(path string, maxMs int) error {
	if r.file != nil {
		return fmt.Errorf("qsorecorder: already recording")
	}
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("qsorecorder: create dir: %w", err)
	}
	if path == "" {
		path = filepath.Join(r.cfg.Dir, fmt.Sprintf(".qsorec_%s_%s.wav", r.cfg.LogicName, uuid.NewString()))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("qsorecorder: create %s: %w", path, err)
	}
	if err := writeWavHeader(f, 0); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("qsorecorder: write header: %w", err)
	}
	r.file = f
	r.tmpPath = path
	r.beginAt = r.now()
	r.dataBytes = 0
	r.samples = 0
	r.softReached = false
	r.log.Info("recording started", "path", path)
	return nil
}

// WriteSamples appends one frame of 16-bit PCM to the in-progress file.
// A non-started recorder silently discards, matching audiograph.Sink
// semantics elsewhere in the graph.
func (r *Recorder) WriteSamples(samples []int16) {
	if r.file == nil || len(samples) == 0 {
		return
	}
	buf := new(bytes.Buffer)
	buf.Grow(len(samples) * 2)
	_ = binary.Write(buf, binary.LittleEndian, samples)
	n, err := r.file.Write(buf.Bytes())
	if err != nil {
		r.log.Error("write failed", "err", err)
		return
	}
	r.dataBytes += uint32(n)
	r.samples += len(samples)
}

// Flush is a no-op for Recorder: chunk rollover happens explicitly via
// Poll/Stop, not on every upstream flush (a reflector's end-of-transmission
// flush should not itself roll the recording file).
func (r *Recorder) Flush() {}

// Stop finalises the in-progress recording: renames it with begin/end
// timestamps if it cleared MinSamples, else deletes it. Matches the
// RecorderController interface's Stop() error signature.
func (r *Recorder) Stop() error {
	if r.file == nil {
		return nil
	}
	endAt := r.now()
	if err := r.finalize(endAt); err != nil {
		return err
	}
	r.file = nil
	return nil
}

func (r *Recorder) finalize(endAt time.Time) error {
	if _, err := r.file.Seek(0, 0); err == nil {
		_ = writeWavHeader(r.file, r.dataBytes)
	}
	tmpPath := r.tmpPath
	samples := r.samples
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("qsorecorder: close: %w", err)
	}

	if samples < r.cfg.MinSamples {
		r.log.Info("discarding short chunk", "samples", samples, "min", r.cfg.MinSamples)
		return os.Remove(tmpPath)
	}

	finalName := fmt.Sprintf("qsorec_%s_%s_%s.wav",
		r.cfg.LogicName,
		r.beginAt.Format("2006-01-02_150405"),
		endAt.Format("2006-01-02_150405"))
	finalPath := filepath.Join(r.cfg.Dir, finalName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("qsorecorder: rename: %w", err)
	}
	r.log.Info("chunk finalised", "path", finalPath, "samples", samples)

	r.evictOldest()
	if r.cfg.EncoderCmd != "" {
		r.spawnEncoder(finalPath)
	}
	return nil
}

// Poll rolls the current chunk if it has hit HardChunk, or if it has
// passed SoftChunk and the feeding selector has since gone idle.
func (r *Recorder) Poll(now time.Time) {
	if r.file == nil {
		return
	}
	elapsed := now.Sub(r.beginAt)
	if r.cfg.HardChunk > 0 && elapsed >= r.cfg.HardChunk {
		r.roll(now)
		return
	}
	if r.cfg.SoftChunk > 0 && elapsed >= r.cfg.SoftChunk {
		r.softReached = true
	}
	if r.softReached && !r.isSourceActive() {
		r.roll(now)
	}
}

func (r *Recorder) isSourceActive() bool {
	return r.selIn != nil && r.selIn.Active()
}

func (r *Recorder) roll(now time.Time) {
	if err := r.finalize(now); err != nil {
		r.log.Error("roll failed", "err", err)
	}
	r.file = nil
	_ = r.Start("", 0)
}

// evictOldest iterates qsorec_* files in Dir newest-first, summing size,
// and deletes everything once the running total exceeds MaxDirByte.
func (r *Recorder) evictOldest() {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		r.log.Error("eviction: read dir failed", "err", err)
		return
	}
	type fileInfo struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "qsorec_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(r.cfg.Dir, e.Name()), size: info.Size(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	var cumulative int64
	for _, f := range files {
		cumulative += f.size
		if cumulative > r.cfg.MaxDirByte {
			if err := os.Remove(f.path); err != nil {
				r.log.Error("eviction: remove failed", "path", f.path, "err", err)
				continue
			}
			r.log.Info("evicted", "path", f.path)
		}
	}
}

// spawnEncoder runs the configured external encoder under nice, with
// %f/%d/%b/%n placeholders substituted, inheriting stdout/stderr to the
// process logger and enforcing a 3600s timeout.
func (r *Recorder) spawnEncoder(finalPath string) {
	dir := filepath.Dir(finalPath)
	base := strings.TrimSuffix(filepath.Base(finalPath), filepath.Ext(finalPath))
	cmdLine := substitutePlaceholders(r.cfg.EncoderCmd, finalPath, dir, base, r.cfg.LogicName)

	args := []string{"-n", strconv.Itoa(r.cfg.EncoderNice), "sh", "-c", cmdLine}
	cmd := exec.Command("nice", args...)
	cmd.Stdout = r.log.With("stream", "stdout").StandardLog().Writer()
	cmd.Stderr = r.log.With("stream", "stderr").StandardLog().Writer()

	if err := cmd.Start(); err != nil {
		r.log.Error("encoder spawn failed", "err", err)
		return
	}
	go r.waitForEncoder(cmd, finalPath)
}

func (r *Recorder) waitForEncoder(cmd *exec.Cmd, finalPath string) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			r.log.Error("encoder exited with error", "path", finalPath, "err", err)
		}
	case <-time.After(3600 * time.Second):
		r.log.Warn("encoder timed out, killing", "path", finalPath)
		_ = cmd.Process.Kill()
		<-done
	}
}

func substitutePlaceholders(cmdLine, path, dir, base, logicName string) string {
	replacer := strings.NewReplacer(
		"%f", path,
		"%d", dir,
		"%b", base,
		"%n", logicName,
	)
	return replacer.Replace(cmdLine)
}

// writeWavHeader writes (or rewrites) a 44-byte mono 16-bit-PCM WAV
// header for the given data size.
func writeWavHeader(f *os.File, dataSize uint32) error {
	var hdr [wavHeaderSize]byte

	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], wavHeaderSize-8+dataSize)
	copy(hdr[8:12], "WAVE")

	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], channels)
	binary.LittleEndian.PutUint32(hdr[24:28], sampleRateHz)
	byteRate := sampleRateHz * channels * bitsPerSample / 8
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	blockAlign := channels * bitsPerSample / 8
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)

	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	_, err := f.Write(hdr[:])
	return err
}
