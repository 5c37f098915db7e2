package logic

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kc9wx/linkcore/internal/sip"
)

// SipConfig configures the SIP gateway logic of §4.10.
type SipConfig struct {
	Base Config

	Account sip.AccountConfig

	AcceptIncoming *regexp.Regexp // nil = accept all
	RejectIncoming *regexp.Regexp // nil = reject none
	AcceptOutgoing *regexp.Regexp
	RejectOutgoing *regexp.Regexp

	AutoAnswer  bool
	AutoConnect string // startup URI to dial when non-empty; HangupAll redials it
	CallTimeout time.Duration
	MaxCalls    int

	FullDuplex bool // if false, gated only by call presence; if true, also VOX-gated

	// PhoneToTg maps the leading prefix of a caller number to a
	// talkgroup id, longest prefix first.
	PhoneToTg map[string]int

	PeerCheckEnabled bool
	SipProxyHost     string
}

// Sip is the SIP gateway logic core of §4.10.
type Sip struct {
	*LogicBase
	cfg SipConfig

	acct  *sip.Account
	now   func() time.Time

	calls       map[string]*sipCallState
	voxOpen     bool
	dialDeadline time.Time
}

type sipCallState struct {
	call     *sip.Call
	deadline time.Time
}

// NewSip constructs a Sip logic and the sipgo account backing it. The
// account is not yet listening/registered; call ListenAndRegister.
func NewSip(cfg SipConfig, graph *Graph, deps LogicDeps, now func() time.Time) (*Sip, error) {
	if now == nil {
		now = time.Now
	}
	lb := New(cfg.Base, graph, deps.Msg, deps.Events, deps.PublishEvent)
	lb.Config = deps.Config
	lb.Recorder = deps.Recorder
	lb.Scheduler = deps.Scheduler

	s := &Sip{LogicBase: lb, cfg: cfg, now: now, calls: make(map[string]*sipCallState)}

	acct, err := sip.NewAccount(cfg.Account, s.handleIncoming)
	if err != nil {
		return nil, fmt.Errorf("sip logic %s: %w", cfg.Base.Name, err)
	}
	s.acct = acct
	return s, nil
}

// ListenAndRegister starts the server side and performs a single
// REGISTER; the binding is not refreshed afterwards.
func (s *Sip) ListenAndRegister(ctx context.Context) error {
	go func() { _ = s.acct.ListenAndServe(ctx) }()
	if err := s.acct.Register(ctx); err != nil {
		return err
	}
	if s.cfg.AutoConnect != "" {
		return s.dial(ctx, s.cfg.AutoConnect)
	}
	return nil
}

func matches(re *regexp.Regexp, s string) bool {
	return re != nil && re.MatchString(s)
}

func (s *Sip) handleIncoming(call *sip.Call) {
	number := callerNumber(call.RemoteURI)

	if matches(s.cfg.RejectIncoming, number) || (s.cfg.AcceptIncoming != nil && !matches(s.cfg.AcceptIncoming, number)) {
		s.PublishStateEvent("reject_incoming_call", number)
		_ = s.acct.Reject(call, 603, "Decline")
		return
	}

	if s.cfg.PeerCheckEnabled && !s.peerTrusted(call.RemoteURI) {
		s.PublishStateEvent("reject_incoming_call", "untrusted_peer")
		_ = s.acct.Reject(call, 603, "Decline")
		return
	}

	if s.cfg.MaxCalls > 0 && len(s.calls) >= s.cfg.MaxCalls {
		_ = s.acct.Reject(call, 486, "Busy Here")
		return
	}

	s.calls[call.ID] = &sipCallState{call: call}
	s.SetReceivedTg(s.lookupTg(number))

	if s.cfg.AutoAnswer {
		s.answer(call)
	}
}

// AnswerPending accepts one not-yet-answered incoming call (which one is
// not defined when several are pending); invoked by the PTY command "CA".
func (s *Sip) AnswerPending() bool {
	for _, cs := range s.calls {
		if cs.call.State == sip.CallIncoming {
			s.answer(cs.call)
			return true
		}
	}
	return false
}

func (s *Sip) answer(call *sip.Call) {
	if err := s.acct.Answer(call); err != nil {
		s.PublishStateEvent("sip_answer_failed", err.Error())
		return
	}
	s.onCallConfirmed(call)
}

func (s *Sip) onCallConfirmed(call *sip.Call) {
	s.PublishStateEvent("call_confirmed", call.RemoteURI)
	if !s.cfg.FullDuplex {
		s.voxOpen = true
	}
}

// PeerTrusted resolves the configured SIP proxy's A record and compares it
// against the caller URI's host (§4.10 "Peer check").
func (s *Sip) peerTrusted(remoteURI string) bool {
	if s.cfg.SipProxyHost == "" {
		return true
	}
	host := uriHost(remoteURI)
	proxyIPs, err := net.LookupHost(s.cfg.SipProxyHost)
	if err != nil {
		return false
	}
	callerIPs, err := net.LookupHost(host)
	if err != nil {
		return false
	}
	for _, p := range proxyIPs {
		for _, c := range callerIPs {
			if p == c {
				return true
			}
		}
	}
	return false
}

func callerNumber(uri string) string {
	u := strings.TrimPrefix(uri, "sip:")
	if i := strings.IndexAny(u, "@;"); i >= 0 {
		u = u[:i]
	}
	return u
}

func uriHost(uri string) string {
	u := strings.TrimPrefix(uri, "sip:")
	if i := strings.Index(u, "@"); i >= 0 {
		u = u[i+1:]
	}
	if i := strings.IndexAny(u, ":;"); i >= 0 {
		u = u[:i]
	}
	return u
}

// lookupTg finds the longest configured prefix of number in PhoneToTg.
func (s *Sip) lookupTg(number string) int {
	prefixes := make([]string, 0, len(s.cfg.PhoneToTg))
	for p := range s.cfg.PhoneToTg {
		if strings.HasPrefix(number, p) {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return 0
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return s.cfg.PhoneToTg[prefixes[0]]
}

func (s *Sip) dial(ctx context.Context, destURI string) error {
	number := callerNumber(destURI)
	if matches(s.cfg.RejectOutgoing, number) || (s.cfg.AcceptOutgoing != nil && !matches(s.cfg.AcceptOutgoing, number)) {
		s.PublishStateEvent("drop_outgoing_call", number)
		return nil
	}
	call, err := s.acct.Dial(ctx, destURI)
	if err != nil {
		return err
	}
	cs := &sipCallState{call: call}
	if s.cfg.CallTimeout > 0 {
		cs.deadline = s.now().Add(s.cfg.CallTimeout)
	}
	s.calls[call.ID] = cs
	return nil
}

// Dial is the PTY "C<digits>#" command target: places an outgoing call
// to sip:<digits>@<server>.
func (s *Sip) Dial(ctx context.Context, digits, server string) error {
	return s.dial(ctx, fmt.Sprintf("sip:%s@%s", digits, server))
}

// HangupAll is the PTY "C#" command target.
func (s *Sip) HangupAll(ctx context.Context) {
	for id, cs := range s.calls {
		_ = s.acct.Hangup(ctx, cs.call)
		delete(s.calls, id)
	}
	if s.cfg.AutoConnect != "" {
		_ = s.dial(ctx, s.cfg.AutoConnect)
	}
}

// Poll checks outgoing calls against CallTimeout, hanging up and emitting
// call_timeout if media never came up.
func (s *Sip) Poll(ctx context.Context, now time.Time) {
	for id, cs := range s.calls {
		if cs.call.State == sip.CallConfirmed || cs.deadline.IsZero() {
			continue
		}
		if !now.Before(cs.deadline) {
			s.PublishStateEvent("call_timeout", cs.call.RemoteURI)
			_ = s.acct.Hangup(ctx, cs.call)
			delete(s.calls, id)
		}
	}
}

// VoxTrigger gates sip->logic audio in full-duplex mode; ignored in
// semi-duplex (presence of a confirmed call alone gates the bridge).
func (s *Sip) VoxTrigger(open bool) {
	if s.cfg.FullDuplex {
		s.voxOpen = open
	}
}

// ShouldBridgeAudio reports whether sip->logic audio should currently
// flow (Data Model: "sem-/full-duplex" gating).
func (s *Sip) ShouldBridgeAudio() bool {
	if len(s.calls) == 0 {
		return false
	}
	if !s.cfg.FullDuplex {
		return true
	}
	return s.voxOpen
}
