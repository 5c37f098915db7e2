package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kc9wx/linkcore/internal/config"
	"github.com/kc9wx/linkcore/internal/linkmanager"
	"github.com/kc9wx/linkcore/internal/logic"
)

// logicConInAdapter lets one logic's logic-con-out audio terminate on
// another logic's logic-con-in entry point, satisfying audiograph.Sink.
type logicConInAdapter struct{ graph *logic.Graph }

func (a logicConInAdapter) WriteSamples(samples []int16) { a.graph.WriteLogicConIn(samples) }
func (a logicConInAdapter) Flush()                       { a.graph.FlushLogicConIn() }

// wireConnectors builds the passthrough connector between every ordered
// pair of distinct logics (§4.12: "per-logic input (splitter) and output
// (selector) plus a passthrough connector between every source/sink pair
// of distinct logics") and registers each as a toggle with the link
// manager, left disabled until a link activates it.
func wireConnectors(d *daemon) {
	for srcName, src := range d.logics {
		for sinkName, sink := range d.logics {
			if srcName == sinkName {
				continue
			}
			handle := src.outSplitter.AddSink(logicConInAdapter{graph: sink.graph}, false)
			d.linkMgr.RegisterConnector(srcName, sinkName, handle)
		}
	}
}

// buildLinkManager reads the global LINKS list and constructs one
// linkmanager.LinkDef per named section. Each link section's MEMBERS tag
// is a comma list of "logicName:baseCmd" pairs (§4.12 Data Model:
// Member{BaseCmd, LinkLabel}).
func buildLinkManager(cfg *config.Store, now func() time.Time, onEvent linkmanager.EventFunc) (*linkmanager.Manager, error) {
	mgr := linkmanager.New(now, onEvent)

	names := splitList(cfg.GetValueDefault("GLOBAL", "LINKS", ""))
	for _, name := range names {
		members := make(map[string]linkmanager.Member)
		for _, spec := range splitList(cfg.GetValueDefault(name, "MEMBERS", "")) {
			parts := strings.SplitN(spec, ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("link %q: malformed member %q, want logic:cmd", name, spec)
			}
			members[parts[0]] = linkmanager.Member{BaseCmd: parts[1], LinkLabel: name}
		}
		autoOn := make(map[string]bool)
		for _, n := range splitList(cfg.GetValueDefault(name, "AUTOCONNECT_ON", "")) {
			autoOn[n] = true
		}
		def := &linkmanager.LinkDef{
			Name:           name,
			Members:        members,
			Timeout:        time.Duration(cfg.GetValueInt(name, "TIMEOUT", 0)) * time.Second,
			DefaultConnect: cfg.GetValueBool(name, "DEFAULT_CONNECT", false),
			NoDisconnect:   cfg.GetValueBool(name, "NO_DISCONNECT", false),
			AutoConnectOn:  autoOn,
		}
		if err := mgr.AddLink(def); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// parseFrequencyTable parses a "freq1:tg1,freq2:tg2" CTCSS_TO_TG list into
// a float64->int table for logic.NewTgMapper.
func parseFrequencyTable(raw string) map[float64]int {
	table := make(map[float64]int)
	for _, entry := range splitList(raw) {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		freq, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			continue
		}
		tg, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		table[freq] = tg
	}
	return table
}
