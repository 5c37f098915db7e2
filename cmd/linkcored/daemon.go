package main

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kc9wx/linkcore/internal/audiograph"
	"github.com/kc9wx/linkcore/internal/config"
	"github.com/kc9wx/linkcore/internal/eventhandler"
	"github.com/kc9wx/linkcore/internal/linkmanager"
	"github.com/kc9wx/linkcore/internal/logic"
	"github.com/kc9wx/linkcore/internal/qsorecorder"
)

// daemon is the single-threaded owner of every logic, the link manager,
// and the marshalling queue goroutine-originated callbacks land on
// before touching any of it (§5).
type daemon struct {
	cfg     *config.Store
	logics  map[string]*runningLogic
	linkMgr *linkmanager.Manager

	sampleRate int
	frameLen   int
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	deliverCh chan func()
}

// runningLogic bundles one configured logic section's constructed
// collaborators. The per-variant Poll signatures (§4.7-§4.11) differ
// (some take no Poll at all, Sip's additionally wants a context), so
// pollVariant captures whichever shape applies as a plain closure.
type runningLogic struct {
	name   string
	daemon *daemon

	base   *logic.LogicBase
	graph  *logic.Graph
	events *eventhandler.Handler
	ports  *logicPorts

	recorder *qsorecorder.Recorder

	// outSplitter fans this logic's mixed logic-con-out audio to every
	// other logic that might link to it; each leg is a connector the
	// link manager toggles (§4.12).
	outSplitter *audiograph.Splitter

	pollVariant func(now time.Time)
	closers     []io.Closer
}

func (rl *runningLogic) poll(now time.Time) {
	rl.base.Dtmf.Poll(now)
	if rl.base.TgMapper != nil {
		rl.base.TgMapper.Poll(now)
	}
	rl.graph.Poll(func() time.Time { return now })
	if rl.recorder != nil {
		rl.recorder.Poll(now)
	}
	if rl.pollVariant != nil {
		rl.pollVariant(now)
	}
}

func (rl *runningLogic) shutdown() {
	rl.ports.close()
	if rl.recorder != nil {
		_ = rl.recorder.Stop()
	}
	for _, c := range rl.closers {
		_ = c.Close()
	}
}

// deliver enqueues fn to run on the event loop goroutine; every pty
// reader and network receive-loop goroutine uses this instead of
// mutating logic state directly (§5).
func (d *daemon) deliver(fn func()) {
	select {
	case d.deliverCh <- fn:
	case <-d.ctx.Done():
	}
}

// newDaemon constructs an empty daemon shell; logics are built with
// buildLogic and stored in d.logics before run().
func newDaemon(cfg *config.Store, now func() time.Time) *daemon {
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &daemon{
		cfg:        cfg,
		logics:     make(map[string]*runningLogic),
		sampleRate: cfg.GetValueInt("GLOBAL", "CARD_SAMPLE_RATE", 8000),
		frameLen:   cfg.GetValueInt("GLOBAL", "CARD_FRAME_LEN", 160),
		now:        now,
		ctx:        ctx,
		cancel:     cancel,
		deliverCh:  make(chan func(), 1024),
	}
}

// run drives the single-threaded event loop: one audio-rate tick per
// frame, and closures delivered from goroutines are drained as they
// arrive. It blocks until the daemon's context is cancelled.
func (d *daemon) run() {
	frameDur := time.Duration(d.frameLen) * time.Second / time.Duration(d.sampleRate)
	if frameDur <= 0 {
		frameDur = 20 * time.Millisecond
	}
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case fn := <-d.deliverCh:
			fn()
		case t := <-ticker.C:
			d.tick(t)
		}
	}
}

func (d *daemon) tick(now time.Time) {
	d.linkMgr.Poll(now)
	for _, rl := range d.logics {
		rl.poll(now)
		rl.graph.Tick()
	}
}

// shutdown tears down every logic and stops the event loop.
func (d *daemon) shutdown() {
	d.cancel()
	for name, rl := range d.logics {
		log.Default().Info("stopping logic", "logic", name)
		rl.shutdown()
	}
}
