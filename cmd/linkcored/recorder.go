package main

import (
	"time"

	"github.com/kc9wx/linkcore/internal/config"
	"github.com/kc9wx/linkcore/internal/logic"
	"github.com/kc9wx/linkcore/internal/qsorecorder"
)

// buildRecorder constructs a qsorecorder.Recorder for a logic whose
// QSO_RECORDER tag names another config section carrying the recorder's
// own settings (DIRECTORY, MAX_TIME, SOFT_TIME, MIN_TIME, MAX_DIRSIZE,
// ENCODER_CMD, ENCODER_NICE; all *_TIME in seconds, MAX_DIRSIZE in MiB, per
// §6/S6), and wires it onto the graph's Rx path. An empty QSO_RECORDER
// value disables recording for this logic.
func buildRecorder(cfg *config.Store, logicSection string, graph *logic.Graph, sampleRate int, now func() time.Time) *qsorecorder.Recorder {
	recSection := cfg.GetValueDefault(logicSection, "QSO_RECORDER", "")
	if recSection == "" {
		return nil
	}
	dir := cfg.GetValueDefault(recSection, "DIRECTORY", "")
	if dir == "" {
		return nil
	}
	rec := qsorecorder.New(qsorecorder.Config{
		LogicName:   logicSection,
		Dir:         dir,
		HardChunk:   time.Duration(cfg.GetValueInt(recSection, "MAX_TIME", 1800)) * time.Second,
		SoftChunk:   time.Duration(cfg.GetValueInt(recSection, "SOFT_TIME", 60)) * time.Second,
		MinSamples:  cfg.GetValueInt(recSection, "MIN_TIME", 5) * sampleRate,
		MaxDirByte:  int64(cfg.GetValueInt(recSection, "MAX_DIRSIZE", 1024)) * 1024 * 1024,
		EncoderCmd:  cfg.GetValueDefault(recSection, "ENCODER_CMD", ""),
		EncoderNice: cfg.GetValueInt(recSection, "ENCODER_NICE", 15),
	}, now)
	rec.SetSelectorInput(graph.RxToModuleIn)
	graph.RxSplitter.AddSink(rec, true)
	if err := rec.Start("", 0); err != nil {
		return nil
	}
	return rec
}
